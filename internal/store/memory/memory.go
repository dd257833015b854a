// Package memory is an in-process implementation of the store interfaces.
// It backs `storage.driver: memory` dev runs and the unit suites.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

var errNotConnected = errors.New("memory store: not connected")

type Store struct {
	mu        sync.Mutex
	connected bool

	requests map[string]*core.LoginRequest
	settings *core.Settings
	users    map[string]*core.User
	sessions []*core.Session
}

func New() *Store {
	return &Store{
		connected: true,
		requests:  map[string]*core.LoginRequest{},
		users:     map[string]*core.User{},
	}
}

// SetConnected toggles the simulated connection state.
func (s *Store) SetConnected(ok bool) {
	s.mu.Lock()
	s.connected = ok
	s.mu.Unlock()
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errNotConnected
	}
	return nil
}

func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := s.Ping(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *Store) Close() {}

func (s *Store) Requests() core.RequestRepository  { return &requestRepo{s} }
func (s *Store) Settings() core.SettingsRepository { return &settingsRepo{s} }
func (s *Store) Users() core.UserRepository        { return &userRepo{s} }
func (s *Store) Sessions() core.SessionRepository  { return &sessionRepo{s} }

// AddUser seeds a user (tests and dev bootstrap).
func (s *Store) AddUser(u *core.User) {
	s.mu.Lock()
	cp := *u
	s.users[u.ID] = &cp
	s.mu.Unlock()
}

// SessionCount reports registered sessions (tests).
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LastSession returns a copy of the most recently registered session (tests).
func (s *Store) LastSession() *core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	cp := *s.sessions[len(s.sessions)-1]
	return &cp
}

func cloneRequest(r *core.LoginRequest) *core.LoginRequest {
	cp := *r
	cp.AuditLog = append([]core.AuditEntry(nil), r.AuditLog...)
	return &cp
}

// ── requests ──

type requestRepo struct{ s *Store }

func (q *requestRepo) guard() error {
	if !q.s.connected {
		return errNotConnected
	}
	return nil
}

func (q *requestRepo) Create(ctx context.Context, r *core.LoginRequest) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return err
	}
	if _, ok := q.s.requests[r.RequestID]; ok {
		return core.ErrConflict
	}
	q.s.requests[r.RequestID] = cloneRequest(r)
	return nil
}

func (q *requestRepo) Get(ctx context.Context, requestID string) (*core.LoginRequest, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return nil, err
	}
	r, ok := q.s.requests[requestID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (q *requestRepo) PendingUnexpired(ctx context.Context, now time.Time) ([]*core.LoginRequest, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return nil, err
	}
	var out []*core.LoginRequest
	for _, r := range q.s.requests {
		if r.Status == core.StatusPending && now.Before(r.ExpiresAt) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *requestRepo) RecentPending(ctx context.Context, since time.Time, limit int) ([]*core.LoginRequest, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return nil, err
	}
	var out []*core.LoginRequest
	for _, r := range q.s.requests {
		if r.Status == core.StatusPending && !r.CreatedAt.Before(since) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *requestRepo) UpdateStatus(ctx context.Context, requestID string, to core.Status, by core.Approver, note, approverIP string, at time.Time) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return err
	}
	r, ok := q.s.requests[requestID]
	if !ok {
		return core.ErrNotFound
	}
	if r.Status != core.StatusPending {
		return core.ErrNotPending
	}
	r.Status = to
	t := at
	r.ProcessedAt = &t
	if to == core.StatusApproved || to == core.StatusRejected {
		if id, human := by.ID(); human {
			idCopy := id
			r.ApproverID = &idCopy
		} else {
			r.ApproverID = nil
		}
		r.ApproverName = by.Name()
		r.ApproverNote = note
		r.ApprovedAt = &t
	}
	details := note
	if details == "" {
		details = fmt.Sprintf("Status changed to %s", to)
	}
	ip := approverIP
	if ip == "" {
		ip = "unknown"
	}
	r.AuditLog = append(r.AuditLog, core.AuditEntry{
		Action:      string(to),
		PerformedBy: by.Actor(),
		PerformedAt: at,
		Details:     details,
		IPAddress:   ip,
	})
	return nil
}

func (q *requestRepo) SetToken(ctx context.Context, requestID, token string) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return err
	}
	r, ok := q.s.requests[requestID]
	if !ok {
		return core.ErrNotFound
	}
	r.Token = token
	return nil
}

func (q *requestRepo) AddAuditLog(ctx context.Context, requestID string, e core.AuditEntry) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return err
	}
	r, ok := q.s.requests[requestID]
	if !ok {
		return core.ErrNotFound
	}
	if e.IPAddress == "" {
		e.IPAddress = "unknown"
	}
	r.AuditLog = append(r.AuditLog, e)
	return nil
}

func (q *requestRepo) TouchUsage(ctx context.Context, requestID string, at time.Time) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return err
	}
	r, ok := q.s.requests[requestID]
	if !ok {
		return core.ErrNotFound
	}
	r.UsageCount++
	t := at
	r.LastUsedAt = &t
	return nil
}

func (q *requestRepo) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if err := q.guard(); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range q.s.requests {
		if r.Status != core.StatusPending || now.Before(r.ExpiresAt) {
			continue
		}
		r.Status = core.StatusExpired
		t := now
		r.ProcessedAt = &t
		r.AuditLog = append(r.AuditLog, core.AuditEntry{
			Action:      string(core.StatusExpired),
			PerformedBy: core.SystemActor,
			PerformedAt: now,
			Details:     "Request expired",
			IPAddress:   core.SystemIP,
		})
		n++
	}
	return n, nil
}

// ── settings ──

type settingsRepo struct{ s *Store }

func (q *settingsRepo) Get(ctx context.Context) (core.Settings, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return core.Settings{}, errNotConnected
	}
	if q.s.settings == nil {
		def := core.DefaultSettings()
		q.s.settings = &def
	}
	return *q.s.settings, nil
}

func (q *settingsRepo) Save(ctx context.Context, in core.Settings) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return errNotConnected
	}
	if q.s.settings == nil {
		def := core.DefaultSettings()
		q.s.settings = &def
	}
	q.s.settings.Enabled = in.Enabled
	q.s.settings.Conditions = in.Conditions
	q.s.settings.ApprovalNote = in.ApprovalNote
	q.s.settings.UpdatedAt = time.Now().UTC()
	return nil
}

func (q *settingsRepo) ResetDailyCount(ctx context.Context, day string) (core.Settings, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return core.Settings{}, errNotConnected
	}
	if q.s.settings == nil {
		def := core.DefaultSettings()
		q.s.settings = &def
	}
	if q.s.settings.Stats.LastResetDate != day {
		q.s.settings.Stats.DailyCount = 0
		q.s.settings.Stats.LastResetDate = day
	}
	return *q.s.settings, nil
}

func (q *settingsRepo) IncrementStats(ctx context.Context, now time.Time) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return errNotConnected
	}
	if q.s.settings == nil {
		def := core.DefaultSettings()
		q.s.settings = &def
	}
	q.s.settings.Stats.TotalAutoApprovals++
	q.s.settings.Stats.DailyCount++
	t := now
	q.s.settings.Stats.LastAutoApproval = &t
	return nil
}

// ── users / sessions ──

type userRepo struct{ s *Store }

func (q *userRepo) Get(ctx context.Context, userID string) (*core.User, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return nil, errNotConnected
	}
	u, ok := q.s.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type sessionRepo struct{ s *Store }

func (q *sessionRepo) Create(ctx context.Context, sess *core.Session) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if !q.s.connected {
		return errNotConnected
	}
	cp := *sess
	q.s.sessions = append(q.s.sessions, &cp)
	return nil
}
