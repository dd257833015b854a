package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

type userRepo struct{ pool *pgxpool.Pool }

func (q *userRepo) Get(ctx context.Context, userID string) (*core.User, error) {
	var u core.User
	err := q.pool.QueryRow(ctx, `
		SELECT id, username, employee_name, role, status, created_at
		FROM users WHERE id = $1`, userID).Scan(
		&u.ID, &u.Username, &u.EmployeeName, &u.Role, &u.Status, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
