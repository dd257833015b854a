// Package metrics exposes prometheus instrumentation for the approval
// pipeline. Collectors exist from init; Register attaches them to a registry
// and returns the /metrics handler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once   sync.Once
	regErr error

	sweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approval_sweeps_total",
		Help: "Sweeps run, by trigger source and result",
	}, []string{"source", "result"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "approval_sweep_duration_seconds",
		Help:    "Wall-clock duration of one sweep",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	})

	approvalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_auto_approvals_total",
		Help: "Requests auto-approved",
	})

	sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_sweep_errors_total",
		Help: "Per-request errors collected across sweeps",
	})

	pendingAfterSweep = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "approval_pending_after_sweep",
		Help: "Requests still pending when the last sweep finished",
	})

	expiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approval_requests_expired_total",
		Help: "Pending requests flipped to expired by lifecycle upkeep",
	})
)

// Register attaches the collectors to reg (default registerer when nil) and
// returns the handler to mount on /metrics. Idempotent.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	once.Do(func() {
		for _, c := range []prometheus.Collector{
			sweepsTotal, sweepDuration, approvalsTotal,
			sweepErrorsTotal, pendingAfterSweep, expiredTotal,
		} {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
					continue
				}
				regErr = err
				return
			}
		}
	})
	if regErr != nil {
		return nil, regErr
	}
	return promhttp.Handler(), nil
}

// ObserveSweep records the outcome of one sweep.
func ObserveSweep(source string, success bool, approved, total, errCount int, d time.Duration) {
	result := "ok"
	if !success {
		result = "failed"
	}
	sweepsTotal.WithLabelValues(source, result).Inc()
	sweepDuration.Observe(d.Seconds())
	approvalsTotal.Add(float64(approved))
	sweepErrorsTotal.Add(float64(errCount))
	if success {
		pendingAfterSweep.Set(float64(total - approved))
	}
}

// AddExpired records requests flipped to expired.
func AddExpired(n int) { expiredTotal.Add(float64(n)) }
