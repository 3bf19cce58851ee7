package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/multifinance/gateway/internal/registry"
)

// Service status values.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// unhealthyAfter is the consecutive-failure count at which a service goes
// from degraded to unhealthy.
const unhealthyAfter = 3

// ServiceHealth is the rolling probe status for one service.
type ServiceHealth struct {
	ServiceName         string        `json:"service_name"`
	Status              string        `json:"status"`
	LastCheckAt         time.Time     `json:"last_check_at"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Monitor periodically probes every registered service and aggregates
// readiness. Probes within a round run concurrently; the health map is
// written only by the monitor goroutine.
type Monitor struct {
	reg      *registry.Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu     sync.RWMutex
	health map[string]ServiceHealth

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor over the given registry.
func NewMonitor(reg *registry.Registry, interval, probeTimeout time.Duration, log zerolog.Logger) *Monitor {
	health := make(map[string]ServiceHealth)
	for _, svc := range reg.All() {
		health[svc.Name] = ServiceHealth{ServiceName: svc.Name, Status: StatusUnknown}
	}

	return &Monitor{
		reg:      reg,
		client:   &http.Client{Timeout: probeTimeout},
		interval: interval,
		timeout:  probeTimeout,
		log:      log,
		health:   health,
	}
}

// Start launches the probe loop. Idempotent: calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.log.Info().Dur("interval", m.interval).Msg("starting periodic health checks")

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.CheckAll(ctx)
		for {
			select {
			case <-ticker.C:
				m.CheckAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}(m.done)
}

// Stop cancels the probe loop and waits for the in-flight round to finish.
// Idempotent: stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}

	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil

	m.log.Info().Msg("stopped periodic health checks")
}

// CheckAll probes every registered service concurrently. A slow or failing
// probe never delays the others.
func (m *Monitor) CheckAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range m.reg.All() {
		svc := svc
		g.Go(func() error {
			m.checkService(ctx, svc)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) checkService(ctx context.Context, svc *registry.Service) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := svc.BaseURL + svc.HealthPath
	start := time.Now()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		m.recordFailure(svc.Name, start, err.Error())
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// A probe aborted by shutdown is not a service failure.
		if ctx.Err() != nil {
			return
		}
		m.recordFailure(svc.Name, start, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.recordFailure(svc.Name, start, fmt.Sprintf("health check returned status %d", resp.StatusCode))
		return
	}

	latency := time.Since(start)

	m.mu.Lock()
	m.health[svc.Name] = ServiceHealth{
		ServiceName: svc.Name,
		Status:      StatusHealthy,
		LastCheckAt: time.Now(),
		LastLatency: latency,
	}
	m.mu.Unlock()

	m.log.Debug().
		Str("service", svc.Name).
		Dur("latency", latency).
		Msg("health check ok")
}

func (m *Monitor) recordFailure(name string, start time.Time, errMsg string) {
	m.mu.Lock()
	h := m.health[name]
	h.ServiceName = name
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= unhealthyAfter {
		h.Status = StatusUnhealthy
	} else {
		h.Status = StatusDegraded
	}
	h.LastCheckAt = time.Now()
	h.LastLatency = time.Since(start)
	h.LastError = errMsg
	m.health[name] = h
	m.mu.Unlock()

	m.log.Warn().
		Str("service", name).
		Int("consecutive_failures", h.ConsecutiveFailures).
		Str("error", errMsg).
		Msg("health check failed")
}

// Status returns the current health of one service.
func (m *Monitor) Status(name string) (ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.health[name]
	return h, ok
}

// All returns a snapshot of every service's health.
func (m *Monitor) All() map[string]ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]ServiceHealth, len(m.health))
	for name, h := range m.health {
		snapshot[name] = h
	}
	return snapshot
}

// CriticalAllHealthy reports whether every critical service is healthy.
func (m *Monitor) CriticalAllHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, svc := range m.reg.All() {
		if !svc.Critical {
			continue
		}
		h, ok := m.health[svc.Name]
		if !ok || h.Status != StatusHealthy {
			return false
		}
	}
	return true
}
