package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/kitsadaphon/approvald/internal/util/atomicwrite"
)

// LoadOrCreateKey reads a base64 Ed25519 seed from path, generating and
// persisting a fresh one when the file does not exist yet.
func LoadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("decode key file %s: %w", path, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key file %s: want %d-byte seed, got %d", path, ed25519.SeedSize, len(seed))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(priv.Seed()) + "\n"
	if err := atomicwrite.AtomicWriteFile(path, []byte(enc), 0o600); err != nil {
		return nil, fmt.Errorf("persist key file: %w", err)
	}
	return priv, nil
}
