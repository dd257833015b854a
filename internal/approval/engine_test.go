package approval

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/store/memory"
)

type stubIdentity struct {
	roles    map[string]string
	issued   []TokenClaims
	sessions []SessionInput
	issueErr error
}

func (s *stubIdentity) RoleNameFor(_ context.Context, userID string) (string, error) {
	r, ok := s.roles[userID]
	if !ok {
		return "", core.ErrNotFound
	}
	return r, nil
}

func (s *stubIdentity) IssueToken(_ context.Context, tc TokenClaims) (string, error) {
	if s.issueErr != nil {
		return "", s.issueErr
	}
	s.issued = append(s.issued, tc)
	return "tok-" + tc.RequestID, nil
}

func (s *stubIdentity) RegisterSession(_ context.Context, in SessionInput) error {
	s.sessions = append(s.sessions, in)
	return nil
}

func pendingRequest(id string, now time.Time) *core.LoginRequest {
	return &core.LoginRequest{
		RequestID: id,
		UserID:    "u-" + id,
		Username:  "somchai",
		Status:    core.StatusPending,
		IPAddress: "10.0.0.5",
		Device:    "Android",
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func mustCreate(t *testing.T, st *memory.Store, r *core.LoginRequest) {
	t.Helper()
	if err := st.Requests().Create(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
}

func enabledSettings() core.Settings {
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.ApproveAll = true
	return s
}

func TestEngineDisabledLeavesRequestPending(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	now := time.Now()
	req := pendingRequest("r1", now)
	mustCreate(t, st, req)

	eng := NewEngine(st.Requests(), st.Settings(), &stubIdentity{}, nil)
	res := eng.Process(ctx, req)
	if res.Approved || res.Reason != ReasonDisabled {
		t.Fatalf("got %+v, want reason %q", res, ReasonDisabled)
	}

	got, err := st.Requests().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != core.StatusPending || len(got.AuditLog) != 0 {
		t.Fatalf("disabled engine must not touch the request: %+v", got)
	}
}

func TestEngineSkipsNonPending(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	now := time.Now()
	req := pendingRequest("r1", now)
	req.Status = core.StatusRejected

	eng := NewEngine(st.Requests(), st.Settings(), &stubIdentity{}, nil)
	res := eng.Process(context.Background(), req)
	if res.Approved || res.Reason != ReasonNotPending || res.Err != nil {
		t.Fatalf("got %+v, want reason %q without error", res, ReasonNotPending)
	}
}

func TestEngineSkipsExpired(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	now := time.Now()
	req := pendingRequest("r1", now.Add(-10*time.Minute))

	eng := NewEngine(st.Requests(), st.Settings(), &stubIdentity{}, nil)
	res := eng.Process(context.Background(), req)
	if res.Approved || res.Reason != ReasonExpired {
		t.Fatalf("got %+v, want reason %q", res, ReasonExpired)
	}
}

func TestEngineRoleGate(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.Roles = core.RoleCondition{Enabled: true, AllowedRoles: []string{"sales", "manager"}}
	saveSettings(t, st, s)

	now := time.Now()
	ident := &stubIdentity{roles: map[string]string{
		"u-hr":    "hr",
		"u-sales": "Sales", // case must not matter
	}}
	eng := NewEngine(st.Requests(), st.Settings(), ident, nil)
	ctx := context.Background()

	hr := pendingRequest("hr", now)
	mustCreate(t, st, hr)
	res := eng.Process(ctx, hr)
	if res.Approved || !strings.Contains(res.Reason, "not allowed") {
		t.Fatalf("hr request: got %+v", res)
	}

	missing := pendingRequest("ghost", now)
	mustCreate(t, st, missing)
	res = eng.Process(ctx, missing)
	if res.Approved || res.Err != nil {
		t.Fatalf("unknown user must be a reason, not an error: %+v", res)
	}

	sales := pendingRequest("sales", now)
	mustCreate(t, st, sales)
	res = eng.Process(ctx, sales)
	if !res.Approved {
		t.Fatalf("sales request: got %+v", res)
	}
	if len(ident.issued) != 1 || ident.issued[0].Role != "Sales" {
		t.Fatalf("issued claims: %+v", ident.issued)
	}
}

func TestEngineApprovesEndToEnd(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	ctx := context.Background()
	now := time.Now()
	req := pendingRequest("r1", now)
	mustCreate(t, st, req)

	ident := &stubIdentity{}
	eng := NewEngine(st.Requests(), st.Settings(), ident, nil)
	res := eng.Process(ctx, req)
	if !res.Approved || res.Token != "tok-r1" || res.Err != nil {
		t.Fatalf("got %+v", res)
	}

	got, err := st.Requests().Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != core.StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ApproverID != nil {
		t.Fatalf("system approval must not set an approver ID, got %v", *got.ApproverID)
	}
	if got.ApproverName != core.SystemApproverName {
		t.Fatalf("approver name = %q", got.ApproverName)
	}
	if got.ApproverNote != "อนุมัติอัตโนมัติโดยระบบ" {
		t.Fatalf("approver note = %q", got.ApproverNote)
	}
	if got.Token != "tok-r1" {
		t.Fatalf("token = %q", got.Token)
	}
	if got.ApprovedAt == nil || got.ProcessedAt == nil {
		t.Fatal("approval timestamps not set")
	}

	if len(got.AuditLog) != 2 {
		t.Fatalf("audit log length = %d, want 2", len(got.AuditLog))
	}
	first, second := got.AuditLog[0], got.AuditLog[1]
	if first.Action != string(core.StatusApproved) || first.PerformedBy != core.SystemActor || first.IPAddress != core.SystemIP {
		t.Fatalf("status audit entry: %+v", first)
	}
	if second.Action != "auto_approved" || second.PerformedBy != core.SystemActor {
		t.Fatalf("auto_approved audit entry: %+v", second)
	}

	if len(ident.sessions) != 1 || ident.sessions[0].Token != "tok-r1" {
		t.Fatalf("sessions: %+v", ident.sessions)
	}

	stats, err := st.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if stats.Stats.TotalAutoApprovals != 1 || stats.Stats.LastAutoApproval == nil {
		t.Fatalf("stats not incremented: %+v", stats.Stats)
	}
}

func TestEngineLosesClaimRace(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	ctx := context.Background()
	now := time.Now()
	req := pendingRequest("r1", now)
	mustCreate(t, st, req)

	// A human approver lands first; the engine still holds the pending
	// snapshot.
	err := st.Requests().UpdateStatus(ctx, "r1", core.StatusRejected,
		core.HumanApprover("mgr-1", "Manager"), "no", "10.0.0.9", now)
	if err != nil {
		t.Fatalf("human decision: %v", err)
	}

	eng := NewEngine(st.Requests(), st.Settings(), &stubIdentity{}, nil)
	res := eng.Process(ctx, req)
	if res.Approved || res.Reason != ReasonNotPending || res.Err != nil {
		t.Fatalf("lost race must be a silent no-op, got %+v", res)
	}

	got, _ := st.Requests().Get(ctx, "r1")
	if got.Status != core.StatusRejected || len(got.AuditLog) != 1 {
		t.Fatalf("human decision must stand untouched: %+v", got)
	}
}

func TestEngineIssueFailureReportsError(t *testing.T) {
	st := memory.New()
	saveSettings(t, st, enabledSettings())
	now := time.Now()
	req := pendingRequest("r1", now)
	mustCreate(t, st, req)

	ident := &stubIdentity{issueErr: fmt.Errorf("kms down")}
	eng := NewEngine(st.Requests(), st.Settings(), ident, nil)
	res := eng.Process(context.Background(), req)
	if res.Approved || res.Err == nil {
		t.Fatalf("got %+v, want execution error", res)
	}
}
