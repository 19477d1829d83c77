// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/timada/cobase/internal/auth"
)

// writeAuthError emits the same {code, message} envelope the API handlers
// use, so clients see one error shape on every status.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerUserID = "X-User-Id"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

// UserAuth enforces caller identity for all routes except /healthz, /metrics,
// and /version. The gateway in front of this service authenticates the user
// and forwards the id in X-User-Id; this middleware validates the header,
// rate-limits per user, and stores the id on the request context.
func UserAuth(limitPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return userAuthWithLimiter(limitPerMinute, newInMemoryRateLimiter(), logger)
}

func userAuthWithLimiter(
	limitPerMinute int,
	limiter *inMemoryRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware.UserAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := uuid.Parse(r.Header.Get(headerUserID))
			if err != nil || userID == uuid.Nil {
				logger.Warn("request blocked by user auth middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "bad_request", "missing or invalid user identity")
				return
			}

			decision := limiter.Allow(userID, limitPerMinute, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				writeAuthError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read user_id after next returns.
			*r = *r.WithContext(auth.WithUserID(r.Context(), userID))
			next.ServeHTTP(w, r)
		})
	}
}
