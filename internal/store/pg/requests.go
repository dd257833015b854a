package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

type requestRepo struct{ pool *pgxpool.Pool }

const requestColumns = `request_id, user_id, username, employee_name, photo_url,
	reason, device, ip_address, user_agent, status,
	approver_id, approver_name, approver_note, approved_at, processed_at,
	token, login_success_at, session_seconds, logout_at, logout_reason,
	usage_count, last_used_at, created_at, expires_at, audit_log`

func scanRequest(row pgx.Row) (*core.LoginRequest, error) {
	var r core.LoginRequest
	var status string
	var audit []byte
	err := row.Scan(
		&r.RequestID, &r.UserID, &r.Username, &r.EmployeeName, &r.PhotoURL,
		&r.Reason, &r.Device, &r.IPAddress, &r.UserAgent, &status,
		&r.ApproverID, &r.ApproverName, &r.ApproverNote, &r.ApprovedAt, &r.ProcessedAt,
		&r.Token, &r.LoginSuccessAt, &r.SessionSeconds, &r.LogoutAt, &r.LogoutReason,
		&r.UsageCount, &r.LastUsedAt, &r.CreatedAt, &r.ExpiresAt, &audit,
	)
	if err != nil {
		return nil, err
	}
	r.Status = core.Status(status)
	if len(audit) > 0 {
		if err := json.Unmarshal(audit, &r.AuditLog); err != nil {
			return nil, fmt.Errorf("decode audit log: %w", err)
		}
	}
	return &r, nil
}

func (q *requestRepo) Create(ctx context.Context, r *core.LoginRequest) error {
	audit, err := json.Marshal(r.AuditLog)
	if err != nil {
		return err
	}
	if r.AuditLog == nil {
		audit = []byte("[]")
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO login_requests (
			request_id, user_id, username, employee_name, photo_url,
			reason, device, ip_address, user_agent, status,
			created_at, expires_at, audit_log
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.RequestID, r.UserID, r.Username, r.EmployeeName, r.PhotoURL,
		r.Reason, r.Device, r.IPAddress, r.UserAgent, string(core.StatusPending),
		r.CreatedAt, r.ExpiresAt, audit,
	)
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	return nil
}

func (q *requestRepo) Get(ctx context.Context, requestID string) (*core.LoginRequest, error) {
	row := q.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM login_requests WHERE request_id = $1`, requestID)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get login request: %w", err)
	}
	return r, nil
}

func (q *requestRepo) collect(rows pgx.Rows) ([]*core.LoginRequest, error) {
	defer rows.Close()
	var out []*core.LoginRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *requestRepo) PendingUnexpired(ctx context.Context, now time.Time) ([]*core.LoginRequest, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM login_requests
		WHERE status = 'pending' AND expires_at > $1
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("query pending requests: %w", err)
	}
	return q.collect(rows)
}

func (q *requestRepo) RecentPending(ctx context.Context, since time.Time, limit int) ([]*core.LoginRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM login_requests
		WHERE status = 'pending' AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent pending requests: %w", err)
	}
	return q.collect(rows)
}

func (q *requestRepo) UpdateStatus(ctx context.Context, requestID string, to core.Status, by core.Approver, note, approverIP string, at time.Time) error {
	details := note
	if details == "" {
		details = fmt.Sprintf("Status changed to %s", to)
	}
	ip := approverIP
	if ip == "" {
		ip = "unknown"
	}
	entry, err := json.Marshal(core.AuditEntry{
		Action:      string(to),
		PerformedBy: by.Actor(),
		PerformedAt: at,
		Details:     details,
		IPAddress:   ip,
	})
	if err != nil {
		return err
	}

	var approverID *string
	if id, human := by.ID(); human {
		approverID = &id
	}

	// Single conditional UPDATE: the claim only lands while the row is
	// still pending.
	tag, err := q.pool.Exec(ctx, `
		UPDATE login_requests SET
			status        = $2,
			processed_at  = $3,
			approver_id   = CASE WHEN $2 IN ('approved','rejected') THEN $4 ELSE approver_id END,
			approver_name = CASE WHEN $2 IN ('approved','rejected') THEN $5 ELSE approver_name END,
			approver_note = CASE WHEN $2 IN ('approved','rejected') THEN $6 ELSE approver_note END,
			approved_at   = CASE WHEN $2 IN ('approved','rejected') THEN $3 ELSE approved_at END,
			audit_log     = audit_log || $7::jsonb
		WHERE request_id = $1 AND status = 'pending'`,
		requestID, string(to), at, approverID, by.Name(), note, entry,
	)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := q.pool.QueryRow(ctx,
			`SELECT status FROM login_requests WHERE request_id = $1`, requestID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check request status: %w", err)
		}
		return core.ErrNotPending
	}
	return nil
}

func (q *requestRepo) SetToken(ctx context.Context, requestID, token string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE login_requests SET token = $2 WHERE request_id = $1`, requestID, token)
	if err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (q *requestRepo) AddAuditLog(ctx context.Context, requestID string, e core.AuditEntry) error {
	if e.IPAddress == "" {
		e.IPAddress = "unknown"
	}
	entry, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tag, err := q.pool.Exec(ctx, `
		UPDATE login_requests SET audit_log = audit_log || $2::jsonb
		WHERE request_id = $1`, requestID, entry)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (q *requestRepo) TouchUsage(ctx context.Context, requestID string, at time.Time) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE login_requests SET usage_count = usage_count + 1, last_used_at = $2
		WHERE request_id = $1`, requestID, at)
	if err != nil {
		return fmt.Errorf("touch usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (q *requestRepo) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	entry, err := json.Marshal(core.AuditEntry{
		Action:      string(core.StatusExpired),
		PerformedBy: core.SystemActor,
		PerformedAt: now,
		Details:     "Request expired",
		IPAddress:   core.SystemIP,
	})
	if err != nil {
		return 0, err
	}
	tag, err := q.pool.Exec(ctx, `
		UPDATE login_requests SET
			status       = 'expired',
			processed_at = $1,
			audit_log    = audit_log || $2::jsonb
		WHERE status = 'pending' AND expires_at <= $1`, now, entry)
	if err != nil {
		return 0, fmt.Errorf("expire stale requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
