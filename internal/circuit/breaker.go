package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is the sentinel for a denied admission. Admit reports a
// denial by returning false; nothing in this module returns ErrCircuitOpen.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker thresholds.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// Breaker guards a single downstream service. All transitions happen under
// one mutex; the half-open admission cap must never be racily exceeded.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
	log              zerolog.Logger

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	lastFailureAt    time.Time
	halfOpenInflight int

	now func() time.Time
}

func newBreaker(name string, cfg Config, log zerolog.Logger) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		log:              log,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Admit reports whether a call may proceed. In open state the elapsed
// recovery timeout flips the breaker to half-open and admits the caller as
// the first probe.
func (b *Breaker) Admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.recoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.successCount = 0
		b.halfOpenInflight = 1
		b.log.Info().Str("breaker", b.name).Msg("circuit breaker entering half-open state")
		return true

	case StateHalfOpen:
		if b.halfOpenInflight < b.halfOpenMaxCalls {
			b.halfOpenInflight++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess reports a completed call. In closed state it clears the
// failure streak; in half-open, the Nth success closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount = 0
		}

	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.halfOpenMaxCalls {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenInflight = 0
			b.log.Info().Str("breaker", b.name).Msg("circuit breaker closed (recovered)")
		}
	}
}

// RecordFailure reports a failed call. In half-open any failure reopens
// the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.lastFailureAt = b.now()
			b.log.Warn().
				Str("breaker", b.name).
				Int("failures", b.failureCount).
				Msg("circuit breaker opened")
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.lastFailureAt = b.now()
		b.successCount = 0
		b.halfOpenInflight = 0
		b.log.Warn().Str("breaker", b.name).Msg("circuit breaker reopened (recovery failed)")
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure streak.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// BreakerGroup manages one breaker per downstream service, created lazily.
type BreakerGroup struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates a breaker group with shared thresholds.
func NewBreakerGroup(cfg Config, log zerolog.Logger) *BreakerGroup {
	return &BreakerGroup{
		cfg:      cfg,
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns or creates the breaker for the given service name.
func (g *BreakerGroup) Get(name string) *Breaker {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()

	if exists {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check
	if b, exists = g.breakers[name]; exists {
		return b
	}

	b = newBreaker(name, g.cfg, g.log)
	g.breakers[name] = b
	return b
}

// Admit reports whether a call to the named service may proceed.
func (g *BreakerGroup) Admit(name string) bool {
	return g.Get(name).Admit()
}

// RecordSuccess records a successful call to the named service.
func (g *BreakerGroup) RecordSuccess(name string) {
	g.Get(name).RecordSuccess()
}

// RecordFailure records a failed call to the named service.
func (g *BreakerGroup) RecordFailure(name string) {
	g.Get(name).RecordFailure()
}

// Snapshot returns the current state of every breaker.
func (g *BreakerGroup) Snapshot() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		states[name] = b.State()
	}
	return states
}
