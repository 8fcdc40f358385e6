package ingest

import (
	"sync"
	"time"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultCooldown is how long writes stay suspended after a failure.
	DefaultCooldown = 60 * time.Second
	// DefaultErrorInterval throttles the "pausing" notice.
	DefaultErrorInterval = 10 * time.Second
)

// BreakerState is the externally visible breaker state.
type BreakerState int

const (
	// BreakerClosed lets writes through.
	BreakerClosed BreakerState = iota
	// BreakerOpen skips writes until the cool-down deadline passes.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Cooldown is the suspension after each failure (default 60s).
	Cooldown time.Duration
	// ErrorInterval is the minimum gap between failure notices (default 10s).
	ErrorInterval time.Duration
	// Now replaces time.Now in tests.
	Now func() time.Time
	// Logger receives the failure and restored notices.
	Logger *logger.Logger
}

// Breaker suspends store writes after a failure.
//
// CLOSED: Allow returns true. Any failure opens the breaker with a
// deadline of now+Cooldown. OPEN: Allow returns false until the deadline,
// then lets attempts through; the first success closes the breaker and
// logs a single "restored" notice.
//
// Thread Safety: Safe for concurrent use. A few extra attempts may slip
// through at the instant the deadline passes.
type Breaker struct {
	mu        sync.Mutex
	open      bool
	openUntil time.Time

	cooldown time.Duration
	notices  *rate.Limiter
	now      func() time.Time
	log      *logger.Logger
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg *BreakerConfig) *Breaker {
	b := &Breaker{}
	b.apply(cfg)
	return b
}

// apply installs cfg's settings, filling defaults. The caller holds b.mu
// or owns b exclusively.
func (b *Breaker) apply(cfg *BreakerConfig) {
	if cfg == nil {
		cfg = &BreakerConfig{}
	}
	b.cooldown = cfg.Cooldown
	if b.cooldown <= 0 {
		b.cooldown = DefaultCooldown
	}
	interval := cfg.ErrorInterval
	if interval <= 0 {
		interval = DefaultErrorInterval
	}
	b.notices = rate.NewLimiter(rate.Every(interval), 1)
	b.now = cfg.Now
	if b.now == nil {
		b.now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetDefault()
	}
	b.log = log.WithComponent("ingest")
}

var (
	defaultBreaker     *Breaker
	defaultBreakerOnce sync.Once
)

// DefaultBreaker returns the process-wide breaker shared by every emitter
// that was not given its own.
func DefaultBreaker() *Breaker {
	defaultBreakerOnce.Do(func() {
		defaultBreaker = NewBreaker(nil)
	})
	return defaultBreaker
}

// ConfigureDefaultBreaker applies cfg to the process-wide breaker and
// returns it. The open/closed state and deadline are kept, so handlers
// created later still see a suspension started by earlier ones.
func ConfigureDefaultBreaker(cfg *BreakerConfig) *Breaker {
	b := DefaultBreaker()
	b.mu.Lock()
	b.apply(cfg)
	b.mu.Unlock()
	return b
}

// Allow reports whether a write should be attempted now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	return !b.now().Before(b.openUntil)
}

// RecordFailure opens the breaker for another cool-down period.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.open = true
	b.openUntil = now.Add(b.cooldown)
	metrics.SetBreakerOpen(true)

	if b.notices.AllowN(now, 1) {
		b.log.WithError(err).Warnf("failed to index log, pausing writes for %s", b.cooldown)
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return
	}
	b.open = false
	b.openUntil = time.Time{}
	metrics.SetBreakerOpen(false)
	b.log.Info("connection to document store restored, resuming writes")
}

// Reset closes the breaker without a notice.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.openUntil = time.Time{}
	metrics.SetBreakerOpen(false)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return BreakerOpen
	}
	return BreakerClosed
}

// OpenUntil returns the current deadline, zero when closed.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}
