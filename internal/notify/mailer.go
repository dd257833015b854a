// Package notify sends operator alerts over SMTP. Alerts are throttled
// through the cache so a flapping dependency does not flood inboxes.
package notify

import (
	"context"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/cache"
)

// Config for the SMTP mailer. An empty Host disables alerting.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// Throttle is the minimum gap between alerts of the same kind.
	Throttle time.Duration
}

type Mailer struct {
	cfg      Config
	dialer   *mail.Dialer
	throttle cache.Cache
	log      *zap.Logger
}

func NewMailer(cfg Config, c cache.Cache, log *zap.Logger) *Mailer {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 30 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mailer{cfg: cfg, throttle: c, log: log}
	if cfg.Host != "" {
		m.dialer = mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return m
}

// Enabled reports whether SMTP is configured.
func (m *Mailer) Enabled() bool { return m != nil && m.dialer != nil }

// SweepFailed alerts that a sweep failed or collected per-request errors.
func (m *Mailer) SweepFailed(ctx context.Context, detail string) {
	m.send("sweep_failed",
		"[approvald] sweep failed",
		fmt.Sprintf("An auto-approval sweep reported a failure:\n\n%s\n", detail))
}

// DailyLimitReached alerts that the daily quota blocked further approvals.
func (m *Mailer) DailyLimitReached(ctx context.Context) {
	m.send("daily_limit",
		"[approvald] daily approval limit reached",
		"The configured daily auto-approval quota is exhausted; remaining pending requests wait for tomorrow or a human approver.\n")
}

func (m *Mailer) send(kind, subject, body string) {
	if !m.Enabled() {
		return
	}
	key := "alert:" + kind
	if _, hit := m.throttle.Get(key); hit {
		return
	}
	m.throttle.Set(key, []byte("1"), m.cfg.Throttle)

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		m.log.Warn("alert mail failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	m.log.Info("alert mail sent", zap.String("kind", kind))
}
