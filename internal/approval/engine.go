package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/store/core"
)

// TokenClaims is the payload signed into an approval token.
type TokenClaims struct {
	UserID    string
	Username  string
	Role      string
	RequestID string
}

// SessionInput describes the session registered for an approved login.
// The identity provider is responsible for IP normalization.
type SessionInput struct {
	UserID    string
	Username  string
	Token     string
	IPAddress string
	Device    string
	UserAgent string
}

// RoleResolver resolves a requester's role name. Implementations return
// core.ErrNotFound when the user or role does not exist.
type RoleResolver interface {
	RoleNameFor(ctx context.Context, userID string) (string, error)
}

// IdentityProvider is the collaborator that owns users, tokens and sessions.
type IdentityProvider interface {
	RoleResolver
	IssueToken(ctx context.Context, tc TokenClaims) (string, error)
	RegisterSession(ctx context.Context, in SessionInput) error
}

// Result is the outcome of processing one request. Expected rejections carry
// only a Reason; execution failures additionally set Err so the orchestrator
// can report them without aborting the batch.
type Result struct {
	Approved bool
	Reason   string
	Token    string
	Message  string
	Err      error
}

// Engine decides whether a single pending request qualifies for automatic
// approval and, when it does, executes the approval end to end.
type Engine struct {
	requests core.RequestRepository
	settings core.SettingsRepository
	identity IdentityProvider
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(requests core.RequestRepository, settings core.SettingsRepository, identity IdentityProvider, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		requests: requests,
		settings: settings,
		identity: identity,
		log:      log,
		now:      time.Now,
	}
}

// Process loads a fresh policy snapshot and processes one request. Callers
// running a batch should load the policy once and use ProcessWith instead.
func (e *Engine) Process(ctx context.Context, req *core.LoginRequest) Result {
	pol, err := LoadPolicy(ctx, e.settings, e.now())
	if err != nil {
		return Result{Reason: fmt.Sprintf("load settings: %v", err), Err: err}
	}
	return e.ProcessWith(ctx, pol, req)
}

// ProcessWith is total with respect to failures: every outcome, including a
// panic in a collaborator, reduces to a Result.
func (e *Engine) ProcessWith(ctx context.Context, pol *Policy, req *core.LoginRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic while processing request",
				zap.String("request_id", req.RequestID), zap.Any("panic", r))
			res = Result{Reason: fmt.Sprintf("panic: %v", r), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	now := e.now()
	if req.Status != core.StatusPending {
		return Result{Reason: ReasonNotPending}
	}
	if req.Expired(now) {
		return Result{Reason: ReasonExpired}
	}
	if ok, reason := pol.Evaluate(now); !ok {
		return Result{Reason: reason}
	}

	role, res2 := e.resolveRole(ctx, pol, req)
	if res2 != nil {
		return *res2
	}

	// Claim the request. A concurrent sweep or a human approver may have
	// beaten us to it; that is a no-op, not an error.
	err := e.requests.UpdateStatus(ctx, req.RequestID, core.StatusApproved,
		core.SystemApprover(), pol.Note(), core.SystemIP, now)
	if err != nil {
		if errors.Is(err, core.ErrNotPending) {
			return Result{Reason: ReasonNotPending}
		}
		return Result{Reason: fmt.Sprintf("approve request: %v", err), Err: err}
	}

	token, err := e.identity.IssueToken(ctx, TokenClaims{
		UserID:    req.UserID,
		Username:  req.Username,
		Role:      role,
		RequestID: req.RequestID,
	})
	if err != nil {
		return Result{Reason: fmt.Sprintf("issue token: %v", err), Err: err}
	}
	if err := e.requests.SetToken(ctx, req.RequestID, token); err != nil {
		return Result{Reason: fmt.Sprintf("persist token: %v", err), Err: err}
	}
	if err := e.identity.RegisterSession(ctx, SessionInput{
		UserID:    req.UserID,
		Username:  req.Username,
		Token:     token,
		IPAddress: req.IPAddress,
		Device:    req.Device,
		UserAgent: req.UserAgent,
	}); err != nil {
		return Result{Reason: fmt.Sprintf("register session: %v", err), Err: err}
	}
	if err := e.requests.AddAuditLog(ctx, req.RequestID, core.AuditEntry{
		Action:      "auto_approved",
		PerformedBy: core.SystemActor,
		PerformedAt: now,
		Details:     "Auto-approved by system at " + now.UTC().Format(time.RFC3339),
		IPAddress:   core.SystemIP,
	}); err != nil {
		return Result{Reason: fmt.Sprintf("append audit log: %v", err), Err: err}
	}

	if err := pol.Consume(ctx, now); err != nil {
		// The approval itself stands; losing one stats tick is tolerable.
		e.log.Warn("increment approval stats failed", zap.Error(err))
	}

	e.log.Info("request auto-approved",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("role", role))
	return Result{Approved: true, Token: token, Message: "auto-approved"}
}

// resolveRole applies the role gate. When the gate is off the role is still
// looked up best-effort for the token payload.
func (e *Engine) resolveRole(ctx context.Context, pol *Policy, req *core.LoginRequest) (string, *Result) {
	enforce, allowed := pol.RoleGate()
	role, err := e.identity.RoleNameFor(ctx, req.UserID)
	if !enforce {
		if err != nil {
			e.log.Debug("role lookup failed, continuing without role",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
		return role, nil
	}
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", &Result{Reason: fmt.Sprintf("user %s or role not found", req.UserID)}
		}
		return "", &Result{Reason: fmt.Sprintf("role lookup: %v", err), Err: err}
	}
	if role == "" {
		return "", &Result{Reason: fmt.Sprintf("user %s has no role", req.UserID)}
	}
	if len(allowed) > 0 && !containsFold(allowed, role) {
		return "", &Result{Reason: fmt.Sprintf("role %q is not allowed", role)}
	}
	return role, nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
