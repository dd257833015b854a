// Package scheduler drives the batch orchestrator on two cadences (a
// frequent periodic trigger and an infrequent fallback sweep) plus a
// telemetry report. Nothing a trigger does may crash the process.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/approval"
	"github.com/kitsadaphon/approvald/internal/events"
	"github.com/kitsadaphon/approvald/internal/metrics"
)

// Sweeper is what the scheduler triggers (the batch orchestrator).
type Sweeper interface {
	ApproveAllPending(ctx context.Context) approval.SweepResult
	ExpireStale(ctx context.Context) (int, error)
}

// Broadcaster mirrors events.Broadcaster without the lifecycle method.
type Broadcaster interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Notifier receives operator alerts. May be nil.
type Notifier interface {
	SweepFailed(ctx context.Context, detail string)
	DailyLimitReached(ctx context.Context)
}

// Config holds the trigger cadences. Zero values take the defaults.
type Config struct {
	PeriodicInterval time.Duration // default 30s
	FallbackInterval time.Duration // default 5m
	StatsInterval    time.Duration // default 10m
}

// Stats is the scheduler's advisory, process-local telemetry. It resets on
// restart; durable counts live in the settings stats.
type Stats struct {
	StartedAt     time.Time
	Uptime        time.Duration
	TotalChecks   int64
	TotalApproved int64
	ApprovalRate  float64
}

type Scheduler struct {
	sweeper  Sweeper
	events   Broadcaster
	notifier Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	running       bool
	startedAt     time.Time
	totalChecks   int64
	totalApproved int64
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

func New(sweeper Sweeper, bc Broadcaster, notifier Notifier, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.PeriodicInterval <= 0 {
		cfg.PeriodicInterval = 30 * time.Second
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = 5 * time.Minute
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 10 * time.Minute
	}
	if bc == nil {
		bc = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{sweeper: sweeper, events: bc, notifier: notifier, cfg: cfg, log: log, now: time.Now}
}

// Start launches the three triggers. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.startedAt = s.now()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(3)
	go s.loop(ctx, "periodic", s.cfg.PeriodicInterval, func(ctx context.Context) {
		s.runSweep(ctx, "periodic")
	})
	go s.loop(ctx, "fallback", s.cfg.FallbackInterval, func(ctx context.Context) {
		s.runSweep(ctx, "fallback")
		s.runExpiry(ctx)
	})
	go s.loop(ctx, "stats", s.cfg.StatsInterval, s.reportStats)

	s.log.Info("scheduler started",
		zap.Duration("periodic", s.cfg.PeriodicInterval),
		zap.Duration("fallback", s.cfg.FallbackInterval),
		zap.Duration("stats", s.cfg.StatsInterval))
}

// Stop halts all triggers and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, fn func(context.Context)) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.safely(ctx, name, fn)
		}
	}
}

func (s *Scheduler) safely(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("trigger panicked", zap.String("trigger", name), zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// RunOnce triggers a single sweep outside the timers (manual trigger path).
func (s *Scheduler) RunOnce(ctx context.Context) approval.SweepResult {
	return s.runSweep(ctx, "manual")
}

func (s *Scheduler) runSweep(ctx context.Context, source string) approval.SweepResult {
	res := s.sweeper.ApproveAllPending(ctx)
	metrics.ObserveSweep(source, res.Success, res.ApprovedCount, res.TotalRequests, len(res.Errors), res.Duration)

	if res.TotalRequests > 0 {
		s.mu.Lock()
		s.totalChecks++
		s.totalApproved += int64(res.ApprovedCount)
		s.mu.Unlock()
	}

	if res.ApprovedCount > 0 {
		ev := events.AutoApprovalCompleted{
			Source:        source,
			ApprovedCount: res.ApprovedCount,
			TotalRequests: res.TotalRequests,
			DurationMS:    res.Duration.Milliseconds(),
			Timestamp:     s.now().UTC(),
		}
		if err := s.events.Publish(ctx, events.EventAutoApprovalCompleted, ev); err != nil {
			s.log.Debug("broadcast failed", zap.Error(err))
		}
		s.log.Info("sweep approved requests",
			zap.String("source", source),
			zap.Int("approved", res.ApprovedCount),
			zap.Int("total", res.TotalRequests),
			zap.Duration("duration", res.Duration))
	}

	switch {
	case !res.Success && res.Message == approval.ReasonDisabled:
		s.log.Debug("sweep skipped", zap.String("source", source), zap.String("reason", res.Message))
	case !res.Success && transient(res.Message):
		// Known connectivity noise: keep it terse, no stack, no alert spam.
		s.log.Warn("sweep skipped", zap.String("source", source), zap.String("reason", res.Message))
		s.alertFailure(ctx, res.Message)
	case !res.Success:
		s.log.Error("sweep failed",
			zap.String("source", source),
			zap.String("message", res.Message),
			zap.Strings("errors", res.Errors))
		s.alertFailure(ctx, res.Message)
	case len(res.Errors) > 0:
		s.log.Warn("sweep completed with per-request errors",
			zap.String("source", source),
			zap.Strings("errors", res.Errors))
		s.alertFailure(ctx, strings.Join(res.Errors, "; "))
	}

	if res.LimitReached && s.notifier != nil {
		s.notifier.DailyLimitReached(ctx)
	}
	return res
}

func (s *Scheduler) alertFailure(ctx context.Context, detail string) {
	if s.notifier != nil {
		s.notifier.SweepFailed(ctx, detail)
	}
}

func (s *Scheduler) runExpiry(ctx context.Context) {
	n, err := s.sweeper.ExpireStale(ctx)
	if err != nil {
		s.log.Warn("expiry pass failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.AddExpired(n)
		s.log.Info("expired stale requests", zap.Int("count", n))
	}
}

func (s *Scheduler) reportStats(ctx context.Context) {
	st := s.GetStats()
	ev := events.AutoApprovalStats{
		UptimeSeconds: int64(st.Uptime.Seconds()),
		TotalChecks:   st.TotalChecks,
		TotalApproved: st.TotalApproved,
		ApprovalRate:  st.ApprovalRate,
		Timestamp:     s.now().UTC(),
	}
	if err := s.events.Publish(ctx, events.EventAutoApprovalStats, ev); err != nil {
		s.log.Debug("broadcast failed", zap.Error(err))
	}
	s.log.Info("scheduler stats",
		zap.Duration("uptime", st.Uptime),
		zap.Int64("total_checks", st.TotalChecks),
		zap.Int64("total_approved", st.TotalApproved),
		zap.Float64("approval_rate", st.ApprovalRate))
}

// GetStats returns the advisory counters.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		StartedAt:     s.startedAt,
		TotalChecks:   s.totalChecks,
		TotalApproved: s.totalApproved,
	}
	if !s.startedAt.IsZero() {
		st.Uptime = s.now().Sub(s.startedAt)
	}
	if s.totalChecks > 0 {
		st.ApprovalRate = float64(s.totalApproved) / float64(s.totalChecks)
	}
	return st
}

// transient matches known connectivity failure messages that would otherwise
// flood the log at error level.
func transient(msg string) bool {
	m := strings.ToLower(msg)
	for _, pat := range []string{
		"database not available",
		"not connected",
		"connection refused",
		"connection reset",
		"timeout",
		"context deadline exceeded",
	} {
		if strings.Contains(m, pat) {
			return true
		}
	}
	return false
}
