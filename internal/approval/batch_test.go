package approval

import (
	"context"
	"testing"
	"time"

	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/store/memory"
)

func newOrchestrator(st *memory.Store, ident IdentityProvider) *Orchestrator {
	eng := NewEngine(st.Requests(), st.Settings(), ident, nil)
	return NewOrchestrator(st, eng, OrchestratorConfig{
		ConnectTimeout: 50 * time.Millisecond,
		SweepTimeout:   5 * time.Second,
		StepDelay:      time.Millisecond,
	}, nil)
}

func TestSweepApprovesOldestFirstUntilQuota(t *testing.T) {
	st := memory.New()
	s := enabledSettings()
	s.Conditions.DailyLimit = core.DailyLimitCondition{Enabled: true, MaxApprovals: 2}
	saveSettings(t, st, s)

	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"r1", "r2", "r3"} {
		r := pendingRequest(id, now.Add(time.Duration(i)*time.Second))
		mustCreate(t, st, r)
	}

	orch := newOrchestrator(st, &stubIdentity{})
	res := orch.ApproveAllPending(ctx)
	if !res.Success {
		t.Fatalf("sweep failed: %+v", res)
	}
	if res.ApprovedCount != 2 || res.TotalRequests != 3 {
		t.Fatalf("approved %d of %d, want 2 of 3", res.ApprovedCount, res.TotalRequests)
	}
	if !res.LimitReached {
		t.Fatal("LimitReached must be set")
	}

	// Quota consumed oldest first: r1 and r2 approved, r3 still pending.
	for id, want := range map[string]core.Status{
		"r1": core.StatusApproved,
		"r2": core.StatusApproved,
		"r3": core.StatusPending,
	} {
		got, err := st.Requests().Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != want {
			t.Errorf("%s: status = %s, want %s", id, got.Status, want)
		}
	}
}

func TestSweepDisabled(t *testing.T) {
	st := memory.New()
	mustCreate(t, st, pendingRequest("r1", time.Now()))

	orch := newOrchestrator(st, &stubIdentity{})
	res := orch.ApproveAllPending(context.Background())
	if res.Success || res.Message != ReasonDisabled {
		t.Fatalf("got %+v, want failure %q", res, ReasonDisabled)
	}
}

func TestSweepStoreUnavailable(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	st.SetConnected(false)

	orch := newOrchestrator(st, &stubIdentity{})
	res := orch.ApproveAllPending(context.Background())
	if res.Success || res.Message != "database not available" {
		t.Fatalf("got %+v", res)
	}
}

func TestSweepRecoversWhenStoreComesBack(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	mustCreate(t, st, pendingRequest("r1", time.Now()))
	st.SetConnected(false)

	go func() {
		time.Sleep(20 * time.Millisecond)
		st.SetConnected(true)
	}()

	orch := newOrchestrator(st, &stubIdentity{})
	res := orch.ApproveAllPending(context.Background())
	if !res.Success || res.ApprovedCount != 1 {
		t.Fatalf("got %+v, want 1 approval after reconnect", res)
	}
}

func TestSweepExcludesExpired(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	ctx := context.Background()
	now := time.Now()

	fresh := pendingRequest("fresh", now)
	stale := pendingRequest("stale", now.Add(-time.Hour))
	stale.ExpiresAt = now.Add(-55 * time.Minute)
	mustCreate(t, st, fresh)
	mustCreate(t, st, stale)

	orch := newOrchestrator(st, &stubIdentity{})
	res := orch.ApproveAllPending(ctx)
	if !res.Success || res.TotalRequests != 1 || res.ApprovedCount != 1 {
		t.Fatalf("got %+v, want the expired request excluded", res)
	}

	got, _ := st.Requests().Get(ctx, "stale")
	if got.Status != core.StatusPending {
		t.Fatalf("sweep must not touch expired requests, got %s", got.Status)
	}
}

func TestSweepIdempotent(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	ctx := context.Background()
	mustCreate(t, st, pendingRequest("r1", time.Now()))

	orch := newOrchestrator(st, &stubIdentity{})
	first := orch.ApproveAllPending(ctx)
	if first.ApprovedCount != 1 {
		t.Fatalf("first sweep: %+v", first)
	}
	second := orch.ApproveAllPending(ctx)
	if !second.Success || second.TotalRequests != 0 || second.Message != "no pending requests" {
		t.Fatalf("second sweep: %+v", second)
	}
}

func TestExpireStaleFlipsOnlyOverdue(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	ctx := context.Background()
	now := time.Now()

	fresh := pendingRequest("fresh", now)
	stale := pendingRequest("stale", now.Add(-time.Hour))
	stale.ExpiresAt = now.Add(-55 * time.Minute)
	mustCreate(t, st, fresh)
	mustCreate(t, st, stale)

	orch := newOrchestrator(st, &stubIdentity{})
	n, err := orch.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	got, _ := st.Requests().Get(ctx, "stale")
	if got.Status != core.StatusExpired {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.AuditLog) != 1 || got.AuditLog[0].Action != string(core.StatusExpired) {
		t.Fatalf("audit log: %+v", got.AuditLog)
	}
}
