package approval

import (
	"context"
	"time"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

// Rejection reasons for expected, non-exceptional outcomes.
const (
	ReasonDisabled      = "auto-approval is disabled"
	ReasonDailyLimit    = "daily approval limit reached"
	ReasonOutsideWindow = "outside approval time window"
	ReasonNotPending    = "request already processed"
	ReasonExpired       = "request expired"
)

const dayLayout = "2006-01-02"

// Policy is a consistent snapshot of the settings for one sweep. It is
// loaded once per sweep so every request in the batch sees the same view of
// the daily counter; Consume advances both the snapshot and the store.
type Policy struct {
	settings   core.Settings
	repo       core.SettingsRepository
	dailyCount int
	limitHit   bool
}

// LoadPolicy reads the settings singleton and, when the daily limit is
// enabled, performs the day-boundary reset before the counter is trusted.
func LoadPolicy(ctx context.Context, repo core.SettingsRepository, now time.Time) (*Policy, error) {
	s, err := repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if s.Conditions.DailyLimit.Enabled {
		day := now.In(locationOf(s)).Format(dayLayout)
		if s.Stats.LastResetDate != day {
			s, err = repo.ResetDailyCount(ctx, day)
			if err != nil {
				return nil, err
			}
		}
	}
	return &Policy{settings: s, repo: repo, dailyCount: s.Stats.DailyCount}, nil
}

func locationOf(s core.Settings) *time.Location {
	if tz := s.Conditions.TimeWindow.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

func (p *Policy) Enabled() bool { return p.settings.Enabled }

// Note is the default note attached to system-issued approvals.
func (p *Policy) Note() string { return p.settings.ApprovalNote }

// LimitHit reports whether the daily quota blocked at least one request.
func (p *Policy) LimitHit() bool { return p.limitHit }

// Evaluate checks the conditions the settings can answer on their own:
// master switch, daily quota, time window. The role gate needs an identity
// lookup and is the engine's job. approveAll bypasses the granular
// conditions (time window, role gate) but not the daily quota.
func (p *Policy) Evaluate(now time.Time) (bool, string) {
	if !p.settings.Enabled {
		return false, ReasonDisabled
	}
	c := p.settings.Conditions
	if c.DailyLimit.Enabled && p.dailyCount >= c.DailyLimit.MaxApprovals {
		p.limitHit = true
		return false, ReasonDailyLimit
	}
	if !c.ApproveAll && c.TimeWindow.Enabled {
		// HH:mm strings sort correctly, boundaries inclusive.
		hhmm := now.In(locationOf(p.settings)).Format("15:04")
		if hhmm < c.TimeWindow.StartTime || hhmm > c.TimeWindow.EndTime {
			return false, ReasonOutsideWindow
		}
	}
	return true, ""
}

// RoleGate returns whether the engine must enforce the role allow-list, and
// the list itself.
func (p *Policy) RoleGate() (bool, []string) {
	c := p.settings.Conditions
	if c.ApproveAll || !c.Roles.Enabled {
		return false, nil
	}
	return true, c.Roles.AllowedRoles
}

// Consume records one successful auto-approval on the store and on the
// snapshot's local counter.
func (p *Policy) Consume(ctx context.Context, now time.Time) error {
	p.dailyCount++
	return p.repo.IncrementStats(ctx, now)
}
