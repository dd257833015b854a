package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kitsadaphon/approvald/internal/approval"
	"github.com/kitsadaphon/approvald/internal/events"
)

type stubSweeper struct {
	mu      sync.Mutex
	results []approval.SweepResult
	calls   int
	expired int
}

func (s *stubSweeper) ApproveAllPending(ctx context.Context) approval.SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := approval.SweepResult{Success: true, Message: "no pending requests"}
	if s.calls < len(s.results) {
		res = s.results[s.calls]
	}
	s.calls++
	return res
}

func (s *stubSweeper) ExpireStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired, nil
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	published []string
}

func (b *recordingBroadcaster) Publish(_ context.Context, event string, _ any) error {
	b.mu.Lock()
	b.published = append(b.published, event)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
	limits   int
}

func (n *recordingNotifier) SweepFailed(_ context.Context, detail string) {
	n.mu.Lock()
	n.failures = append(n.failures, detail)
	n.mu.Unlock()
}

func (n *recordingNotifier) DailyLimitReached(context.Context) {
	n.mu.Lock()
	n.limits++
	n.mu.Unlock()
}

func TestRunOnceCountsAndPublishes(t *testing.T) {
	sw := &stubSweeper{results: []approval.SweepResult{
		{Success: true, ApprovedCount: 2, TotalRequests: 3, Message: "approved 2 of 3 pending requests"},
		{Success: true, ApprovedCount: 0, TotalRequests: 0, Message: "no pending requests"},
	}}
	bc := &recordingBroadcaster{}
	s := New(sw, bc, nil, Config{}, nil)

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	st := s.GetStats()
	// the empty sweep must not count as a check
	if st.TotalChecks != 1 || st.TotalApproved != 2 {
		t.Fatalf("stats: %+v", st)
	}
	got := bc.names()
	if len(got) != 1 || got[0] != events.EventAutoApprovalCompleted {
		t.Fatalf("published: %v", got)
	}
}

func TestRunOnceAlertsOnFailure(t *testing.T) {
	sw := &stubSweeper{results: []approval.SweepResult{
		{Success: false, Message: "load settings: boom"},
		{Success: false, Message: approval.ReasonDisabled},
	}}
	n := &recordingNotifier{}
	s := New(sw, nil, n, Config{}, nil)

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	// disabled is routine, not an alert
	if len(n.failures) != 1 || n.failures[0] != "load settings: boom" {
		t.Fatalf("failures: %v", n.failures)
	}
}

func TestRunOnceNotifiesDailyLimit(t *testing.T) {
	sw := &stubSweeper{results: []approval.SweepResult{
		{Success: true, ApprovedCount: 1, TotalRequests: 2, LimitReached: true},
	}}
	n := &recordingNotifier{}
	s := New(sw, nil, n, Config{}, nil)

	s.RunOnce(context.Background())
	if n.limits != 1 {
		t.Fatalf("limit alerts = %d, want 1", n.limits)
	}
}

func TestStartStop(t *testing.T) {
	sw := &stubSweeper{}
	s := New(sw, nil, nil, Config{
		PeriodicInterval: 10 * time.Millisecond,
		FallbackInterval: time.Hour,
		StatsInterval:    time.Hour,
	}, nil)

	s.Start()
	s.Start() // idempotent
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	sw.mu.Lock()
	calls := sw.calls
	sw.mu.Unlock()
	if calls == 0 {
		t.Fatal("periodic trigger never fired")
	}

	// no further sweeps after Stop
	time.Sleep(30 * time.Millisecond)
	sw.mu.Lock()
	after := sw.calls
	sw.mu.Unlock()
	if after != calls {
		t.Fatalf("sweeps continued after Stop: %d -> %d", calls, after)
	}
}

func TestApprovalRate(t *testing.T) {
	sw := &stubSweeper{results: []approval.SweepResult{
		{Success: true, ApprovedCount: 3, TotalRequests: 4},
		{Success: true, ApprovedCount: 1, TotalRequests: 1},
	}}
	s := New(sw, nil, nil, Config{}, nil)
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	st := s.GetStats()
	if st.TotalChecks != 2 || st.TotalApproved != 4 {
		t.Fatalf("stats: %+v", st)
	}
	if st.ApprovalRate != 2.0 {
		t.Fatalf("rate = %v, want 2.0 approvals per check", st.ApprovalRate)
	}
}
