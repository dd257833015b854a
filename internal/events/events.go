// Package events broadcasts best-effort notifications to external listeners
// (dashboards, websocket bridges). Delivery is fire-and-forget: a missing
// listener or a down broker never fails the caller.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

const (
	EventAutoApprovalCompleted = "autoApprovalCompleted"
	EventAutoApprovalStats     = "autoApprovalStats"
)

// AutoApprovalCompleted is published after a sweep that approved something.
type AutoApprovalCompleted struct {
	Source        string    `json:"source"`
	ApprovedCount int       `json:"approvedCount"`
	TotalRequests int       `json:"totalRequests"`
	DurationMS    int64     `json:"duration"`
	Timestamp     time.Time `json:"timestamp"`
}

// AutoApprovalStats is the periodic scheduler telemetry snapshot.
type AutoApprovalStats struct {
	UptimeSeconds int64     `json:"uptime"`
	TotalChecks   int64     `json:"totalChecks"`
	TotalApproved int64     `json:"totalApproved"`
	ApprovalRate  float64   `json:"approvalRate"`
	Timestamp     time.Time `json:"timestamp"`
}

// Broadcaster publishes named events with a JSON payload.
type Broadcaster interface {
	Publish(ctx context.Context, event string, payload any) error
	Close() error
}

// Redis publishes events on redis pub/sub channels ("<prefix><event>").
type Redis struct {
	c      *rdb.Client
	prefix string
}

func NewRedis(addr string, db int, prefix string) *Redis {
	if prefix == "" {
		prefix = "approvald:"
	}
	return &Redis{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

func (r *Redis) Publish(ctx context.Context, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	return r.c.Publish(ctx, r.prefix+event, b).Err()
}

func (r *Redis) Close() error { return r.c.Close() }

// Nop is the broadcaster used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }
