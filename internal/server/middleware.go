package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	contextUserIDKey = "user_id"
	contextEmailKey  = "email"
	contextRoleKey   = "role"
)

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	logger := log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
			logger.Warn("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// AuthRequired guards dashboard endpoints with a bearer access token.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result := s.accessTokens.Verify(strings.TrimSpace(value))
		if !result.Valid {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, result.Claims.Subject)
		c.Set(contextEmailKey, result.Claims.Email)
		c.Set(contextRoleKey, result.Claims.Role)
		c.Next()
	}
}

// LicenseRateLimit throttles license traffic by client IP. Per-key
// throttling happens in the handlers once the body is parsed.
func (s *Server) LicenseRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.limiter.AllowClientIP(c.Request.Context(), c.ClientIP())
		if err != nil {
			// Redis being down should not block license traffic.
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			s.metrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath())
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(contextRoleKey)
		for _, want := range roles {
			if role == want {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}
