package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ops-gateway/internal/auth"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/internal/ratelimit"
)

const userIDKey = "user_id"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.WithField("client_ip", c.ClientIP()).
			Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// RateLimitMiddleware counts requests per client IP. The limiter fails
// open on backend errors, so this only ever rejects over-budget clients.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := limiter.Allow(c.Request.Context(), c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.APIError{
				Error:      "Rate limit exceeded",
				Detail:     "Too many requests, retry later",
				StatusCode: http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}

// AuthMiddleware verifies bearer tokens. A missing token is rejected
// only when required is set; an invalid or expired token is always
// rejected. The verified subject is stored on the context and later
// forwarded upstream as the trust header.
func AuthMiddleware(verifier *auth.Verifier, required bool, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			if !required && errors.Is(err, auth.ErrMissingToken) {
				c.Next()
				return
			}
			status := http.StatusForbidden
			if errors.Is(err, auth.ErrMissingToken) {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, models.APIError{
				Error:      "Unauthorized",
				Detail:     err.Error(),
				StatusCode: status,
			})
			return
		}

		userID, err := verifier.Verify(token)
		if err != nil {
			logger.Warnf("Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusForbidden, models.APIError{
				Error:      "Unauthorized",
				Detail:     err.Error(),
				StatusCode: http.StatusForbidden,
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}
