package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/kitsadaphon/approvald/internal/approval"
	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/store/memory"
	"github.com/kitsadaphon/approvald/internal/token"
)

func testProvider(t *testing.T, st *memory.Store) (*Provider, *token.Issuer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := token.NewIssuer("approvald-test", priv, time.Hour)
	return NewProvider(st.Users(), st.Sessions(), iss, nil), iss
}

func TestRoleNameFor(t *testing.T) {
	st := memory.New()
	st.AddUser(&core.User{ID: "u1", Username: "somchai", Role: "sales"})
	p, _ := testProvider(t, st)

	role, err := p.RoleNameFor(context.Background(), "u1")
	if err != nil || role != "sales" {
		t.Fatalf("got %q, %v", role, err)
	}
	if _, err := p.RoleNameFor(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing user: %v, want ErrNotFound", err)
	}
}

func TestIssueTokenClaims(t *testing.T) {
	st := memory.New()
	p, iss := testProvider(t, st)

	signed, err := p.IssueToken(context.Background(), approval.TokenClaims{
		UserID: "u1", Username: "somchai", Role: "sales", RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parsed, err := jwtv5.Parse(signed, iss.Keyfunc(), jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwtv5.MapClaims)
	if claims["sub"] != "u1" || claims["username"] != "somchai" || claims["requestId"] != "req-1" {
		t.Fatalf("claims: %+v", claims)
	}
	for _, k := range []string{"approvedLogin", "autoApproved"} {
		if v, ok := claims[k].(bool); !ok || !v {
			t.Fatalf("%s claim: %v", k, claims[k])
		}
	}
}

func TestRegisterSessionHashesToken(t *testing.T) {
	st := memory.New()
	p, _ := testProvider(t, st)

	err := p.RegisterSession(context.Background(), approval.SessionInput{
		UserID:    "u1",
		Username:  "somchai",
		Token:     "the-token",
		IPAddress: "::ffff:10.0.0.5",
		UserAgent: "test",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if st.SessionCount() != 1 {
		t.Fatalf("session count = %d", st.SessionCount())
	}
	// the raw token must never be stored; the device defaults when absent
	sum := sha256.Sum256([]byte("the-token"))
	want := hex.EncodeToString(sum[:])
	sess := st.LastSession()
	if sess.TokenHash != want {
		t.Fatalf("token hash = %q, want %q", sess.TokenHash, want)
	}
	if sess.IPAddress != "10.0.0.5" {
		t.Fatalf("ip = %q, want normalized", sess.IPAddress)
	}
	if sess.Device != "unknown" {
		t.Fatalf("device = %q", sess.Device)
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatal("session expiry must be after creation")
	}
}
