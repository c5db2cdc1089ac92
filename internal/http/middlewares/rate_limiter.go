package middlewares

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimit enforces l for a derived key. Limiter failures let the request
// through; an unavailable redis must not take login down with it.
func RateLimit(l ratelimit.Limiter, scope string, keyFn func(*gin.Context) string, onLimited func(scope string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		d, err := l.Allow(c.Request.Context(), scope+":"+key)
		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", scope, "err", err)
			c.Next()
			return
		}

		if !d.Allowed {
			if onLimited != nil {
				onLimited(scope)
			}

			retryAfter := int(d.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many requests. Please try again shortly.",
				},
			})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin’s ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}

	return ip
}
