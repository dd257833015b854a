package apikey

import (
	"errors"
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("s3cret-admin-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash format: %q", hash)
	}

	ok, err := Verify("s3cret-admin-key", hash)
	if err != nil || !ok {
		t.Fatalf("verify correct key: ok=%v err=%v", ok, err)
	}
	ok, err = Verify("wrong-key", hash)
	if err != nil || ok {
		t.Fatalf("verify wrong key: ok=%v err=%v", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	a, err := Hash("same-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := Hash("same-key")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same key must differ")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, bad := range []string{"", "plain", "$argon2id$v=19$garbage"} {
		if _, err := Verify("key", bad); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("Verify(%q): err = %v, want ErrMalformedHash", bad, err)
		}
	}
}
