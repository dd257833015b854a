package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/rate"
	"github.com/kitsadaphon/approvald/internal/security/apikey"
)

// adminKeyHeader carries the operator key on every admin call.
const adminKeyHeader = "X-Admin-API-Key"

// RequestLogger logs one structured line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr))
		})
	}
}

// AdminAuth verifies the admin key against its argon2id hash. An empty hash
// disables the check (dev only, the server logs a warning at startup).
func AdminAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(adminKeyHeader)
			if key == "" {
				WriteError(w, ErrUnauthorized.WithDetail("missing "+adminKeyHeader))
				return
			}
			ok, err := apikey.Verify(key, keyHash)
			if err != nil || !ok {
				// burn a compare on the error path too, keeping timing flat
				subtle.ConstantTimeCompare([]byte(key), []byte(keyHash))
				WriteError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the fixed-window limiter keyed by client IP. A nil
// limiter is a no-op; limiter errors fail open.
func RateLimit(l rate.Limiter, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			res, err := l.Allow(r.Context(), clientIP(r))
			if err != nil {
				log.Debug("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
				WriteError(w, ErrTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
