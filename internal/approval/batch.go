package approval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

// SweepResult is the aggregate outcome of one batch run.
type SweepResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	ApprovedCount int      `json:"approvedCount"`
	TotalRequests int      `json:"totalRequests"`
	Errors        []string `json:"errors,omitempty"`

	// Duration and LimitReached feed metrics/alerts, not the wire result.
	Duration     time.Duration `json:"-"`
	LimitReached bool          `json:"-"`
}

// OrchestratorConfig bounds a sweep. Zero values take the defaults.
type OrchestratorConfig struct {
	// ConnectTimeout bounds the wait for the store to come up mid-connect.
	ConnectTimeout time.Duration
	// SweepTimeout bounds the whole sweep so a stalled collaborator cannot
	// block the scheduler indefinitely.
	SweepTimeout time.Duration
	// StepDelay is the pause between requests, bounding load on the
	// identity provider and store.
	StepDelay time.Duration
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultSweepTimeout   = 25 * time.Second
	defaultStepDelay      = 100 * time.Millisecond
)

// Orchestrator runs the engine over every eligible pending request.
// Overlapping triggers (periodic, fallback, manual) coalesce into the
// in-flight sweep instead of racing it.
type Orchestrator struct {
	store  core.Store
	engine *Engine
	cfg    OrchestratorConfig
	log    *zap.Logger
	sf     singleflight.Group
	now    func() time.Time
}

func NewOrchestrator(store core.Store, engine *Engine, cfg OrchestratorConfig, log *zap.Logger) *Orchestrator {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = defaultSweepTimeout
	}
	if cfg.StepDelay == 0 {
		cfg.StepDelay = defaultStepDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{store: store, engine: engine, cfg: cfg, log: log, now: time.Now}
}

// ApproveAllPending runs one sweep, or joins the one already in flight.
// It never returns an error: every failure mode is a structured result.
func (o *Orchestrator) ApproveAllPending(ctx context.Context) SweepResult {
	v, _, shared := o.sf.Do("sweep", func() (any, error) {
		return o.sweep(ctx), nil
	})
	if shared {
		o.log.Debug("sweep trigger coalesced with in-flight sweep")
	}
	return v.(SweepResult)
}

func (o *Orchestrator) sweep(ctx context.Context) SweepResult {
	start := o.now()
	fail := func(msg string) SweepResult {
		return SweepResult{Message: msg, Duration: o.now().Sub(start)}
	}

	// Never query a dead connection; give a mid-connect store a bounded
	// chance to come up.
	if err := o.store.Ping(ctx); err != nil {
		if err := o.store.WaitReady(ctx, o.cfg.ConnectTimeout); err != nil {
			o.log.Warn("store not available, skipping sweep", zap.Error(err))
			return fail("database not available")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SweepTimeout)
	defer cancel()

	pol, err := LoadPolicy(ctx, o.store.Settings(), start)
	if err != nil {
		return fail(fmt.Sprintf("load settings: %v", err))
	}
	if !pol.Enabled() {
		return fail(ReasonDisabled)
	}

	reqs, err := o.store.Requests().PendingUnexpired(ctx, start)
	if err != nil {
		return fail(fmt.Sprintf("query pending requests: %v", err))
	}

	res := SweepResult{Success: true, TotalRequests: len(reqs)}
	if len(reqs) == 0 {
		res.Message = "no pending requests"
		res.Duration = o.now().Sub(start)
		return res
	}

	// Oldest first, strictly sequential.
	for i, r := range reqs {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("sweep aborted: %v", ctx.Err()))
			break
		}
		out := o.engine.ProcessWith(ctx, pol, r)
		switch {
		case out.Approved:
			res.ApprovedCount++
		case out.Err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.RequestID, out.Err))
			o.log.Warn("request processing failed",
				zap.String("request_id", r.RequestID), zap.Error(out.Err))
		default:
			o.log.Debug("request not approved",
				zap.String("request_id", r.RequestID), zap.String("reason", out.Reason))
		}
		if o.cfg.StepDelay > 0 && i < len(reqs)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(o.cfg.StepDelay):
			}
		}
	}

	res.LimitReached = pol.LimitHit()
	res.Message = fmt.Sprintf("approved %d of %d pending requests", res.ApprovedCount, res.TotalRequests)
	res.Duration = o.now().Sub(start)
	return res
}

// ExpireStale flips pending requests past their expiry to expired. Run on
// the fallback cadence as lifecycle upkeep.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	if err := o.store.Ping(ctx); err != nil {
		return 0, err
	}
	return o.store.Requests().ExpireStale(ctx, o.now())
}
