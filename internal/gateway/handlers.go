package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multifinance/gateway/internal/circuit"
	"github.com/multifinance/gateway/internal/proxy"
	"github.com/multifinance/gateway/internal/registry"
)

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        g.cfg.ServiceName,
		"version":        g.cfg.ServiceVersion,
		"uptime_seconds": int(time.Since(g.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// handleReady reports 200 iff every critical downstream is healthy. The
// body always lists every service's current health.
func (g *Gateway) handleReady(c *gin.Context) {
	ready := g.monitor.CriticalAllHealthy()

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"ready":    ready,
		"services": g.monitor.All(),
	})
}

// handleDiscovery enumerates the static registry with live health status,
// breaker states, and the configured rate limits.
func (g *Gateway) handleDiscovery(c *gin.Context) {
	services := make([]gin.H, 0)
	for _, svc := range g.registry.All() {
		status := "unknown"
		if h, ok := g.monitor.Status(svc.Name); ok {
			status = h.Status
		}
		services = append(services, gin.H{
			"name":      svc.Name,
			"base_path": svc.PathPrefix,
			"status":    status,
			"critical":  svc.Critical,
			"version":   "1.0.0",
		})
	}

	breakers := make(map[string]string)
	for name, state := range g.breakers.Snapshot() {
		breakers[name] = state.String()
	}

	perUser, perTenant, perIP := g.limiter.Limits()

	c.JSON(http.StatusOK, gin.H{
		"services":                services,
		"authentication_required": true,
		"rate_limits": gin.H{
			"per_user_per_minute":   perUser,
			"per_tenant_per_minute": perTenant,
			"per_ip_per_minute":     perIP,
		},
		"circuit_breakers": breakers,
	})
}

// handleProxy is the catch-all: resolve the path to a downstream service,
// consult the breaker, forward, and report the outcome back to the breaker.
func (g *Gateway) handleProxy(c *gin.Context) {
	rc := requestContext(c)

	svc, err := g.registry.Resolve(c.Request.URL.Path)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, newErrorResponse(
			CodeNotFound,
			"No service found for path: "+c.Request.URL.Path,
			nil,
			rc.CorrelationID,
		))
		return
	}

	if !g.breakers.Admit(svc.Name) {
		g.publishBreakerState(svc)
		g.log.Warn().Str("service", svc.Name).Msg("circuit breaker open, rejecting request")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(
			CodeServiceUnavailable,
			"Service "+svc.Name+" is currently unavailable",
			nil,
			rc.CorrelationID,
		))
		return
	}

	err = g.forwarder.Forward(c.Writer, c.Request, svc, proxy.Identity{
		CorrelationID: rc.CorrelationID,
		UserID:        rc.UserID,
		TenantID:      rc.TenantID,
		Roles:         rc.Roles,
	})
	g.finishForward(c, svc, err)
}

// finishForward translates the forward outcome into a response and reports
// it to the breaker. Downstream 5xx already passed through verbatim and
// counts as breaker success; only transport failures open the circuit.
func (g *Gateway) finishForward(c *gin.Context, svc *registry.Service, err error) {
	rc := requestContext(c)
	defer g.publishBreakerState(svc)

	switch {
	case err == nil:
		g.breakers.RecordSuccess(svc.Name)

	case errors.Is(err, proxy.ErrUpstreamTimeout):
		g.breakers.RecordFailure(svc.Name)
		g.metrics.DownstreamError(svc.Name, "timeout")
		g.log.Error().Str("service", svc.Name).Msg("downstream request timed out")
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, newErrorResponse(
			CodeRequestTimeout,
			"Request to "+svc.Name+" timed out",
			nil,
			rc.CorrelationID,
		))

	case errors.Is(err, proxy.ErrUpstreamUnreachable):
		g.breakers.RecordFailure(svc.Name)
		g.metrics.DownstreamError(svc.Name, "connection")
		g.log.Error().Str("service", svc.Name).Msg("downstream connection failed")
		c.AbortWithStatusJSON(http.StatusBadGateway, newErrorResponse(
			CodeServiceUnavailable,
			"Failed to connect to "+svc.Name,
			nil,
			rc.CorrelationID,
		))

	case errors.Is(err, proxy.ErrClientGone):
		// Client-initiated cancellation is not a downstream failure.
		g.log.Info().Str("service", svc.Name).Msg("client disconnected during forward")
		c.Abort()

	case errors.Is(err, proxy.ErrRequestTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, newErrorResponse(
			CodeInvalidRequest,
			"Request body exceeds the allowed size",
			nil,
			rc.CorrelationID,
		))

	case errors.Is(err, proxy.ErrResponseTooLarge):
		g.breakers.RecordSuccess(svc.Name)
		g.log.Error().Str("service", svc.Name).Msg("downstream response exceeds the allowed size")
		c.AbortWithStatusJSON(http.StatusBadGateway, newErrorResponse(
			CodeServiceUnavailable,
			"Response from "+svc.Name+" exceeds the allowed size",
			nil,
			rc.CorrelationID,
		))

	case errors.Is(err, proxy.ErrStreamInterrupted):
		// Status already committed; all that is left is tearing the
		// connection down.
		g.breakers.RecordFailure(svc.Name)
		g.log.Error().Str("service", svc.Name).Msg("response stream interrupted")
		c.Abort()

	default:
		g.breakers.RecordFailure(svc.Name)
		g.log.Error().Err(err).Str("service", svc.Name).Msg("unexpected forward error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(
			CodeInternalServerError,
			"An unexpected error occurred",
			nil,
			rc.CorrelationID,
		))
	}
}

func (g *Gateway) publishBreakerState(svc *registry.Service) {
	g.metrics.SetBreakerState(svc.Name, breakerStateValue(g.breakers.Get(svc.Name).State()))
}

func breakerStateValue(s circuit.State) int {
	switch s {
	case circuit.StateOpen:
		return 1
	case circuit.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
