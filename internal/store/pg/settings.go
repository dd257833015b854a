package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

type settingsRepo struct{ pool *pgxpool.Pool }

// The settings table holds a single row (id = 1). Get seeds it with the
// defaults when missing so callers never see ErrNotFound.
func (q *settingsRepo) ensure(ctx context.Context) error {
	def := core.DefaultSettings()
	conditions, err := json.Marshal(def.Conditions)
	if err != nil {
		return err
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO approval_settings (id, enabled, conditions, approval_note, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		def.Enabled, conditions, def.ApprovalNote, time.Now())
	if err != nil {
		return fmt.Errorf("seed approval settings: %w", err)
	}
	return nil
}

func (q *settingsRepo) Get(ctx context.Context) (core.Settings, error) {
	if err := q.ensure(ctx); err != nil {
		return core.Settings{}, err
	}
	var s core.Settings
	var conditions []byte
	err := q.pool.QueryRow(ctx, `
		SELECT enabled, conditions, approval_note,
		       total_auto_approvals, last_auto_approval, daily_count, last_reset_date,
		       updated_at
		FROM approval_settings WHERE id = 1`).Scan(
		&s.Enabled, &conditions, &s.ApprovalNote,
		&s.Stats.TotalAutoApprovals, &s.Stats.LastAutoApproval, &s.Stats.DailyCount, &s.Stats.LastResetDate,
		&s.UpdatedAt,
	)
	if err != nil {
		return core.Settings{}, fmt.Errorf("get approval settings: %w", err)
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &s.Conditions); err != nil {
			return core.Settings{}, fmt.Errorf("decode conditions: %w", err)
		}
	}
	return s, nil
}

// Save persists the policy fields. Stats counters are owned by
// IncrementStats and ResetDailyCount and are not overwritten here.
func (q *settingsRepo) Save(ctx context.Context, s core.Settings) error {
	conditions, err := json.Marshal(s.Conditions)
	if err != nil {
		return err
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO approval_settings (id, enabled, conditions, approval_note, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			enabled       = EXCLUDED.enabled,
			conditions    = EXCLUDED.conditions,
			approval_note = EXCLUDED.approval_note,
			updated_at    = EXCLUDED.updated_at`,
		s.Enabled, conditions, s.ApprovalNote, time.Now())
	if err != nil {
		return fmt.Errorf("save approval settings: %w", err)
	}
	return nil
}

func (q *settingsRepo) ResetDailyCount(ctx context.Context, day string) (core.Settings, error) {
	if err := q.ensure(ctx); err != nil {
		return core.Settings{}, err
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE approval_settings
		SET daily_count = 0, last_reset_date = $1
		WHERE id = 1 AND last_reset_date <> $1`, day)
	if err != nil {
		return core.Settings{}, fmt.Errorf("reset daily count: %w", err)
	}
	return q.Get(ctx)
}

func (q *settingsRepo) IncrementStats(ctx context.Context, now time.Time) error {
	if err := q.ensure(ctx); err != nil {
		return err
	}
	_, err := q.pool.Exec(ctx, `
		UPDATE approval_settings
		SET total_auto_approvals = total_auto_approvals + 1,
		    daily_count          = daily_count + 1,
		    last_auto_approval   = $1
		WHERE id = 1`, now)
	if err != nil {
		return fmt.Errorf("increment approval stats: %w", err)
	}
	return nil
}
