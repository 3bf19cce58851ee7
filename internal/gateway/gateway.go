package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/multifinance/gateway/internal/auth"
	"github.com/multifinance/gateway/internal/circuit"
	"github.com/multifinance/gateway/internal/config"
	"github.com/multifinance/gateway/internal/health"
	"github.com/multifinance/gateway/internal/metrics"
	"github.com/multifinance/gateway/internal/proxy"
	"github.com/multifinance/gateway/internal/ratelimit"
	"github.com/multifinance/gateway/internal/registry"
)

// Gateway is the API gateway: one value assembled at startup owning the
// limiter, breakers, health monitor, registry and forwarder. Handlers
// receive it by reference; there are no globals.
type Gateway struct {
	cfg       *config.Config
	router    *gin.Engine
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	breakers  *circuit.BreakerGroup
	monitor   *health.Monitor
	forwarder *proxy.Forwarder
	validator *auth.Validator
	metrics   *metrics.Metrics
	log       zerolog.Logger
	startedAt time.Time
}

// New assembles a gateway from configuration. Tests point cfg.Services at
// stub servers; production uses the real registry.
func New(cfg *config.Config, log zerolog.Logger) *Gateway {
	reg := registry.New(cfg.Services)

	g := &Gateway{
		cfg:      cfg,
		registry: reg,
		limiter: ratelimit.New(ratelimit.Config{
			PerUser:   cfg.RateLimitPerUser,
			PerTenant: cfg.RateLimitPerTenant,
			PerIP:     cfg.RateLimitPerIP,
			Window:    cfg.RateLimitWindow,
		}),
		breakers: circuit.NewBreakerGroup(circuit.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
			HalfOpenMaxCalls: cfg.BreakerHalfOpenMaxCalls,
		}, log),
		monitor: health.NewMonitor(reg, cfg.HealthCheckInterval, cfg.HealthProbeTimeout, log),
		forwarder: proxy.NewForwarder(proxy.Config{
			MaxRequestBody:  cfg.MaxRequestBody,
			MaxResponseBody: cfg.MaxResponseBody,
		}, log),
		validator: auth.NewValidator(cfg.JWTSecret, cfg.JWTAlgorithm),
		metrics:   metrics.New(),
		log:       log,
		startedAt: time.Now(),
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	router := gin.New()

	// Correlation runs first so every later layer can read the id; the
	// recovery envelope and security headers stamp responses on the way out.
	router.Use(g.correlationMiddleware())
	router.Use(g.securityHeadersMiddleware())
	router.Use(g.recoveryMiddleware())
	router.Use(g.loggingMiddleware())
	router.Use(g.authMiddleware())
	router.Use(g.rateLimitMiddleware())

	router.GET("/health", g.handleHealth)
	router.GET("/healthz", g.handleHealthz)
	router.GET("/ready", g.handleReady)
	router.GET("/api/v1/discovery", g.handleDiscovery)
	router.GET("/metrics", gin.WrapH(g.metrics.Handler()))

	// Everything else is proxied by path prefix.
	router.NoRoute(g.handleProxy)

	g.router = router
}

// Start launches the background health monitor and limiter sweeper.
func (g *Gateway) Start() {
	g.monitor.Start()
	g.limiter.StartSweeper(g.cfg.RateLimitWindow)
}

// Stop cancels background work and waits for in-flight probe rounds.
func (g *Gateway) Stop() {
	g.monitor.Stop()
	g.limiter.StopSweeper()
}

// Router exposes the handler for the HTTP server and for tests.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Monitor exposes the health monitor for readiness-driven callers.
func (g *Gateway) Monitor() *health.Monitor {
	return g.monitor
}

// Breakers exposes the breaker group's introspection surface.
func (g *Gateway) Breakers() *circuit.BreakerGroup {
	return g.breakers
}

// Limiter exposes the rate limiter's introspection surface.
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}
