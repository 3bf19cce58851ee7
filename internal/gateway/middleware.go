package gateway

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// authExemptPaths skip authentication entirely.
var authExemptPaths = []string{
	"/health",
	"/healthz",
	"/ready",
	"/metrics",
	"/docs",
	"/redoc",
	"/openapi.json",
	"/api/v1/auth/login",
	"/api/v1/auth/register",
}

// rateLimitExemptPaths skip rate limiting. Login and register stay
// limited: they are the unauthenticated flood surface.
var rateLimitExemptPaths = []string{
	"/health",
	"/healthz",
	"/ready",
	"/metrics",
	"/docs",
	"/redoc",
	"/openapi.json",
}

func pathExempt(path string, exempt []string) bool {
	for _, prefix := range exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// correlationMiddleware establishes the request context before any other
// observable work. The inbound X-Correlation-Id is honored; otherwise a
// new UUID is minted. The id is mirrored onto the response immediately so
// every later layer, including error paths, carries it.
func (g *Gateway) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		setRequestContext(c, &RequestContext{
			CorrelationID: correlationID,
			ClientIP:      c.ClientIP(),
			Method:        c.Request.Method,
			Path:          c.Request.URL.Path,
			StartTime:     time.Now(),
		})
		c.Header("X-Correlation-Id", correlationID)
		c.Next()
	}
}

// securityHeadersMiddleware stamps the standard security headers on every
// response.
func (g *Gateway) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("X-Permitted-Cross-Domain-Policies", "none")
		c.Next()
	}
}

// recoveryMiddleware catches panics and renders the standard envelope with
// details suppressed.
func (g *Gateway) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				rc := requestContext(c)
				g.log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Str("correlation_id", rc.CorrelationID).
					Msg("unhandled panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(
					CodeInternalServerError,
					"An unexpected error occurred",
					nil,
					rc.CorrelationID,
				))
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs request start and completion with correlation.
func (g *Gateway) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)

		g.log.Info().
			Str("method", rc.Method).
			Str("path", rc.Path).
			Str("correlation_id", rc.CorrelationID).
			Msg("request started")

		c.Next()

		elapsed := time.Since(rc.StartTime)
		g.log.Info().
			Str("method", rc.Method).
			Str("path", rc.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", elapsed).
			Str("correlation_id", rc.CorrelationID).
			Msg("request completed")

		g.metrics.ObserveRequest(rc.Method, c.Writer.Status(), elapsed)
	}
}

// authMiddleware validates the bearer token and attaches claims to the
// request context. Every failure collapses to one 401 message.
func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if pathExempt(c.Request.URL.Path, authExemptPaths) {
			c.Next()
			return
		}

		rc := requestContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(
				CodeUnauthorized, "Invalid or expired token", nil, rc.CorrelationID))
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(
				CodeUnauthorized, "Invalid or expired token", nil, rc.CorrelationID))
			return
		}

		claims, err := g.validator.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(
				CodeUnauthorized, "Invalid or expired token", nil, rc.CorrelationID))
			return
		}

		rc.UserID = claims.Subject
		rc.TenantID = claims.TenantID
		rc.Roles = claims.Roles

		g.log.Debug().
			Str("user_id", rc.UserID).
			Str("tenant_id", rc.TenantID).
			Strs("roles", rc.Roles).
			Msg("authenticated")

		c.Next()
	}
}

// rateLimitMiddleware enforces the multi-scope limiter. Scopes are checked
// IP first, then user, then tenant; the first denial short-circuits.
func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if pathExempt(c.Request.URL.Path, rateLimitExemptPaths) {
			c.Next()
			return
		}

		rc := requestContext(c)
		res := g.limiter.CheckAll(rc.UserID, rc.TenantID, rc.ClientIP)

		if !res.Allowed {
			g.metrics.RateLimitDenied(res.ViolatingScope)
			g.log.Warn().
				Str("scope", res.ViolatingScope).
				Str("user_id", rc.UserID).
				Str("tenant_id", rc.TenantID).
				Str("ip", rc.ClientIP).
				Msg("rate limit exceeded")

			c.Header("X-Rate-Limit-Remaining", "0")
			c.Header("X-Rate-Limit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, newErrorResponse(
				CodeRateLimited,
				"Rate limit exceeded for "+res.ViolatingScope,
				map[string]interface{}{"reset_at": res.ResetAt.UTC().Format(time.RFC3339)},
				rc.CorrelationID,
			))
			return
		}

		c.Header("X-Rate-Limit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-Rate-Limit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
		c.Next()
	}
}
