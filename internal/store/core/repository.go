package core

import (
	"context"
	"time"
)

// RequestRepository persists login requests and their audit trail.
//
// UpdateStatus is the only status mutation and is an atomic claim: the
// transition applies only if the row is still pending, otherwise
// ErrNotPending is returned. This is what keeps two overlapping sweeps from
// approving the same request twice.
type RequestRepository interface {
	Create(ctx context.Context, r *LoginRequest) error
	Get(ctx context.Context, requestID string) (*LoginRequest, error)

	// PendingUnexpired returns pending requests with expiresAt > now,
	// oldest created first.
	PendingUnexpired(ctx context.Context, now time.Time) ([]*LoginRequest, error)

	// RecentPending returns pending requests created at or after since,
	// newest first, at most limit.
	RecentPending(ctx context.Context, since time.Time, limit int) ([]*LoginRequest, error)

	// UpdateStatus claims the pending request and moves it to a terminal
	// status, stamping processedAt and, for approved/rejected, the approver
	// fields. Appends exactly one audit entry.
	UpdateStatus(ctx context.Context, requestID string, to Status, by Approver, note, approverIP string, at time.Time) error

	// SetToken persists the issued session token onto the request.
	SetToken(ctx context.Context, requestID, token string) error

	// AddAuditLog appends one audit entry without touching status.
	AddAuditLog(ctx context.Context, requestID string, e AuditEntry) error

	// TouchUsage records one redemption of the request's token.
	TouchUsage(ctx context.Context, requestID string, at time.Time) error

	// ExpireStale flips pending requests whose expiresAt has passed to
	// expired, appending an audit entry each. Returns how many flipped.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// SettingsRepository persists the auto-approval settings singleton.
type SettingsRepository interface {
	// Get returns the singleton, creating it with DefaultSettings when
	// absent. Never returns ErrNotFound.
	Get(ctx context.Context) (Settings, error)

	// Save replaces enabled, conditions and approvalNote. Stats are
	// managed through ResetDailyCount/IncrementStats only.
	Save(ctx context.Context, s Settings) error

	// ResetDailyCount zeroes stats.dailyCount and stamps lastResetDate
	// when the stored lastResetDate differs from day ("YYYY-MM-DD").
	// Returns the post-reset settings.
	ResetDailyCount(ctx context.Context, day string) (Settings, error)

	// IncrementStats bumps totalAutoApprovals and dailyCount and sets
	// lastAutoApproval. Called once per successful auto-approval.
	IncrementStats(ctx context.Context, now time.Time) error
}

// UserRepository resolves requesters for the role gate.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*User, error)
}

// SessionRepository registers sessions created on approval.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
}

// Store bundles the repositories with connection lifecycle. WaitReady blocks
// until the backend answers a ping or the timeout elapses; the orchestrator
// refuses to sweep against a dead connection.
type Store interface {
	Ping(ctx context.Context) error
	WaitReady(ctx context.Context, timeout time.Duration) error
	Close()

	Requests() RequestRepository
	Settings() SettingsRepository
	Users() UserRepository
	Sessions() SessionRepository
}
