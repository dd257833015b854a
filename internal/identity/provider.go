// Package identity implements the approval engine's identity collaborator:
// role lookup, token issuance and session registration.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/approval"
	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/token"
)

type Provider struct {
	users      core.UserRepository
	sessions   core.SessionRepository
	issuer     *token.Issuer
	sessionTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewProvider(users core.UserRepository, sessions core.SessionRepository, issuer *token.Issuer, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		users:      users,
		sessions:   sessions,
		issuer:     issuer,
		sessionTTL: issuer.TTL(),
		log:        log,
		now:        time.Now,
	}
}

// RoleNameFor resolves the requester's role. Returns core.ErrNotFound when
// the user does not exist.
func (p *Provider) RoleNameFor(ctx context.Context, userID string) (string, error) {
	u, err := p.users.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// IssueToken signs the approval token payload.
func (p *Provider) IssueToken(ctx context.Context, tc approval.TokenClaims) (string, error) {
	signed, _, err := p.issuer.Sign(tc.UserID, map[string]any{
		"username":      tc.Username,
		"role":          tc.Role,
		"approvedLogin": true,
		"autoApproved":  true,
		"requestId":     tc.RequestID,
	})
	return signed, err
}

// RegisterSession stores a session for the issued token. Only a hash of the
// token is persisted; the IP is normalized first.
func (p *Provider) RegisterSession(ctx context.Context, in approval.SessionInput) error {
	now := p.now().UTC()
	sum := sha256.Sum256([]byte(in.Token))
	device := in.Device
	if device == "" {
		device = "unknown"
	}
	s := &core.Session{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		TokenHash: hex.EncodeToString(sum[:]),
		IPAddress: NormalizeIP(in.IPAddress),
		Device:    device,
		UserAgent: in.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(p.sessionTTL),
	}
	if err := p.sessions.Create(ctx, s); err != nil {
		return err
	}
	p.log.Debug("session registered",
		zap.String("user_id", in.UserID),
		zap.String("ip", s.IPAddress),
		zap.String("device", device))
	return nil
}
