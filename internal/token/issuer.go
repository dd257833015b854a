// Package token signs approval tokens with an Ed25519 key.
package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Issuer signs tokens with a single active Ed25519 key.
type Issuer struct {
	iss  string
	kid  string
	priv ed25519.PrivateKey
	ttl  time.Duration
	now  func() time.Time
}

func NewIssuer(iss string, priv ed25519.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	pub := priv.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return &Issuer{
		iss:  iss,
		kid:  hex.EncodeToString(sum[:4]),
		priv: priv,
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL is the lifetime stamped into issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Sign issues a JWT for sub with the standard claims plus extra, and returns
// the signed string and its expiry.
func (i *Issuer) Sign(sub string, extra map[string]any) (string, time.Time, error) {
	if len(i.priv) == 0 {
		return "", time.Time{}, errors.New("issuer has no signing key")
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := jwtv5.MapClaims{
		"iss": i.iss,
		"sub": sub,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.kid
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Keyfunc verifies tokens against the active public key.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		return i.priv.Public().(ed25519.PublicKey), nil
	}
}
