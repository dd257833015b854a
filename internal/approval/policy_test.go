package approval

import (
	"context"
	"testing"
	"time"

	"github.com/kitsadaphon/approvald/internal/store/core"
	"github.com/kitsadaphon/approvald/internal/store/memory"
)

func saveSettings(t *testing.T, st *memory.Store, s core.Settings) {
	t.Helper()
	if err := st.Settings().Save(context.Background(), s); err != nil {
		t.Fatalf("save settings: %v", err)
	}
}

func TestPolicyDisabled(t *testing.T) {
	st := memory.New()
	pol, err := LoadPolicy(context.Background(), st.Settings(), time.Now())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if pol.Enabled() {
		t.Fatal("default settings must be disabled")
	}
	ok, reason := pol.Evaluate(time.Now())
	if ok || reason != ReasonDisabled {
		t.Fatalf("got ok=%v reason=%q, want %q", ok, reason, ReasonDisabled)
	}
}

func TestPolicyTimeWindowBoundaries(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.TimeWindow = core.TimeWindowCondition{
		Enabled: true, StartTime: "08:00", EndTime: "18:00", Timezone: "UTC",
	}
	saveSettings(t, st, s)

	pol, err := LoadPolicy(context.Background(), st.Settings(), time.Now())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	cases := []struct {
		hhmm string
		want bool
	}{
		{"07:59", false},
		{"08:00", true},
		{"12:30", true},
		{"18:00", true},
		{"18:01", false},
	}
	for _, c := range cases {
		clock, _ := time.Parse("15:04", c.hhmm)
		now := time.Date(2026, 8, 28, clock.Hour(), clock.Minute(), 0, 0, time.UTC)
		ok, reason := pol.Evaluate(now)
		if ok != c.want {
			t.Errorf("%s: got ok=%v reason=%q, want ok=%v", c.hhmm, ok, reason, c.want)
		}
		if !ok && reason != ReasonOutsideWindow {
			t.Errorf("%s: got reason %q, want %q", c.hhmm, reason, ReasonOutsideWindow)
		}
	}
}

func TestPolicyApproveAllBypassesWindowNotQuota(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.ApproveAll = true
	s.Conditions.TimeWindow = core.TimeWindowCondition{
		Enabled: true, StartTime: "08:00", EndTime: "18:00", Timezone: "UTC",
	}
	s.Conditions.DailyLimit = core.DailyLimitCondition{Enabled: true, MaxApprovals: 1}
	saveSettings(t, st, s)

	// 03:00 UTC, well outside the window
	now := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	pol, err := LoadPolicy(context.Background(), st.Settings(), now)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if ok, reason := pol.Evaluate(now); !ok {
		t.Fatalf("approveAll must bypass the time window, got %q", reason)
	}
	if err := pol.Consume(context.Background(), now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	ok, reason := pol.Evaluate(now)
	if ok || reason != ReasonDailyLimit {
		t.Fatalf("approveAll must not bypass the daily quota, got ok=%v reason=%q", ok, reason)
	}
	if !pol.LimitHit() {
		t.Fatal("LimitHit must be set after the quota blocked a request")
	}
}

func TestPolicyDailyLimitResetsAcrossDays(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.TimeWindow.Timezone = "UTC" // pin the day boundary
	s.Conditions.DailyLimit = core.DailyLimitCondition{Enabled: true, MaxApprovals: 2}
	saveSettings(t, st, s)

	ctx := context.Background()
	day1 := time.Date(2026, 8, 27, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 28, 0, 10, 0, 0, time.UTC)

	pol, err := LoadPolicy(ctx, st.Settings(), day1)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	for i := 0; i < 2; i++ {
		if ok, _ := pol.Evaluate(day1); !ok {
			t.Fatalf("approval %d should pass", i+1)
		}
		if err := pol.Consume(ctx, day1); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	if ok, reason := pol.Evaluate(day1); ok || reason != ReasonDailyLimit {
		t.Fatalf("quota exhausted, got ok=%v reason=%q", ok, reason)
	}

	// A snapshot loaded the next day sees a fresh counter.
	pol2, err := LoadPolicy(ctx, st.Settings(), day2)
	if err != nil {
		t.Fatalf("load policy day 2: %v", err)
	}
	if ok, reason := pol2.Evaluate(day2); !ok {
		t.Fatalf("counter must reset on the day boundary, got %q", reason)
	}

	got, err := st.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.Stats.DailyCount != 0 || got.Stats.LastResetDate != "2026-08-28" {
		t.Fatalf("stored stats after reset: %+v", got.Stats)
	}
	if got.Stats.TotalAutoApprovals != 2 {
		t.Fatalf("total approvals must survive the reset, got %d", got.Stats.TotalAutoApprovals)
	}
}

func TestPolicySameDayNoReset(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.TimeWindow.Timezone = "UTC" // pin the day boundary
	s.Conditions.DailyLimit = core.DailyLimitCondition{Enabled: true, MaxApprovals: 5}
	saveSettings(t, st, s)

	ctx := context.Background()
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	pol, err := LoadPolicy(ctx, st.Settings(), now)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if err := pol.Consume(ctx, now); err != nil {
		t.Fatalf("consume: %v", err)
	}

	pol2, err := LoadPolicy(ctx, st.Settings(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reload policy: %v", err)
	}
	if pol2.dailyCount != 1 {
		t.Fatalf("same-day reload must keep the counter, got %d", pol2.dailyCount)
	}
}

func TestPolicyRoleGate(t *testing.T) {
	st := memory.New()
	s := core.DefaultSettings()
	s.Enabled = true
	s.Conditions.Roles = core.RoleCondition{Enabled: true, AllowedRoles: []string{"sales", "manager"}}
	saveSettings(t, st, s)

	pol, err := LoadPolicy(context.Background(), st.Settings(), time.Now())
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	enforce, allowed := pol.RoleGate()
	if !enforce || len(allowed) != 2 {
		t.Fatalf("got enforce=%v allowed=%v", enforce, allowed)
	}

	// approveAll turns the gate off
	s.Conditions.ApproveAll = true
	saveSettings(t, st, s)
	pol, err = LoadPolicy(context.Background(), st.Settings(), time.Now())
	if err != nil {
		t.Fatalf("reload policy: %v", err)
	}
	if enforce, _ := pol.RoleGate(); enforce {
		t.Fatal("approveAll must disable the role gate")
	}
}
