package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCapabilityOpen is returned by [Breaker.Allow] while the guarded
// capability is in cooldown after repeated failures. The pipeline drops the
// utterance the same way it does for a stage timeout: the session continues,
// the partner is not notified.
var ErrCapabilityOpen = errors.New("capability circuit open")

// breakerState is the Breaker's internal mode.
type breakerState int

const (
	// breakerClosed — calls pass through; consecutive failures are counted.
	breakerClosed breakerState = iota

	// breakerOpen — calls are refused until the cooldown elapses.
	breakerOpen

	// breakerProbing — after the cooldown, a bounded number of calls probe
	// the backend. One success closes the breaker; one failure re-opens it.
	breakerProbing
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker]. Zero values select the
// documented defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker refuses calls before probing the
	// backend again. Default: 30s.
	Cooldown time.Duration

	// ProbeQuota bounds how many calls may probe concurrently once the
	// cooldown elapses. Default: 2.
	ProbeQuota int
}

// Breaker guards one capability (asr, mt, tts) from hammering a backend that
// keeps failing: after MaxFailures consecutive errors it refuses calls for
// the cooldown, then lets a few probes through and closes again on the first
// success.
//
// Unlike a wrap-the-call executor, the breaker splits admission from
// accounting — [Allow] before the stage runs, [Record] with its outcome —
// because the pipeline already wraps each stage in its own timeout context
// and needs to classify the refusal separately from the stage error.
//
// Safe for concurrent use.
type Breaker struct {
	capability string
	max        int
	cooldown   time.Duration
	probeQuota int

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probes   int
}

// NewBreaker creates a breaker for the named capability.
func NewBreaker(capability string, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 2
	}
	return &Breaker{
		capability: capability,
		max:        cfg.MaxFailures,
		cooldown:   cfg.Cooldown,
		probeQuota: cfg.ProbeQuota,
	}
}

// Allow reports whether a call may proceed. While open it returns
// [ErrCapabilityOpen]; once the cooldown elapses it admits up to ProbeQuota
// probes. Every admitted call must be matched by a [Record].
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil

	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return fmt.Errorf("resilience: %s: %w", b.capability, ErrCapabilityOpen)
		}
		b.state = breakerProbing
		b.probes = 0
		slog.Info("capability breaker probing backend", "capability", b.capability)
		fallthrough

	default: // breakerProbing
		if b.probes >= b.probeQuota {
			return fmt.Errorf("resilience: %s: %w", b.capability, ErrCapabilityOpen)
		}
		b.probes++
		return nil
	}
}

// Record accounts the outcome of an admitted call. A nil error closes a
// probing breaker and clears the failure streak; a failure re-opens a
// probing breaker immediately and trips a closed one once the streak
// reaches MaxFailures. Context cancellation is not a backend failure and is
// ignored.
func (b *Breaker) Record(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == breakerProbing {
			slog.Info("capability breaker closed after successful probe",
				"capability", b.capability)
		}
		b.state = breakerClosed
		b.failures = 0
		return
	}

	switch b.state {
	case breakerProbing:
		b.state = breakerOpen
		b.openedAt = time.Now()
		slog.Warn("capability breaker re-opened by failed probe",
			"capability", b.capability)

	case breakerClosed:
		b.failures++
		if b.failures >= b.max {
			b.state = breakerOpen
			b.openedAt = time.Now()
			slog.Warn("capability breaker opened",
				"capability", b.capability,
				"consecutive_failures", b.failures)
		}
	}
}

// Open reports whether calls would currently be refused outright. The
// probing window counts as not open: a call through [Allow] may still be
// admitted.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && time.Since(b.openedAt) < b.cooldown
}

// IsOpen reports whether err is a breaker refusal.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCapabilityOpen)
}
