package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/qbitworks/simq/internal/metrics"
	"github.com/qbitworks/simq/internal/ratelimit"
)

// RateLimitSubmit guards the submission endpoint per client IP. It is a
// coarse resource-exhaustion guard in the same family as the payload size cap.
func RateLimitSubmit(lim ratelimit.Limiter, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), "submit", c.ClientIP(), bucket)
		if err != nil {
			// Fail open so a Redis hiccup does not turn into an outage.
			slog.Default().Warn("rate limit check failed", "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"status":  "error",
			"message": "Too many submissions; retry later.",
		})
	}
}
