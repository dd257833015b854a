package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

type sessionRepo struct{ pool *pgxpool.Pool }

func (q *sessionRepo) Create(ctx context.Context, s *core.Session) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, ip_address, device, user_agent, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.UserID, s.TokenHash, s.IPAddress, s.Device, s.UserAgent, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}
