// Package breaker guards outbound provider calls with per-provider circuit
// breakers so a consistently failing upstream fails fast instead of hanging
// every request.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
// Callers match it with errors.Is to implement fallback routing; it is never
// used to mask a real upstream error.
var ErrOpen = errors.New("circuit breaker is open")

// Settings control the breaker state machine.
type Settings struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // how long an open breaker refuses admission
}

// DefaultSettings matches the documented defaults.
var DefaultSettings = Settings{
	FailureThreshold: 5,
	SuccessThreshold: 2,
	Timeout:          30 * time.Second,
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultSettings.FailureThreshold
	}

	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = DefaultSettings.SuccessThreshold
	}

	if s.Timeout <= 0 {
		s.Timeout = DefaultSettings.Timeout
	}

	return s
}

// Breaker is the resilience state for one logical provider. All requests to
// that provider share the same instance.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	rejections  int
	lastFailure time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		now:      time.Now,
	}
}

// Execute runs fn under the breaker's admission rules. When the breaker is
// open and the cooldown has not elapsed, fn is never invoked and ErrOpen is
// returned. Otherwise fn runs outside the lock and its error, if any,
// propagates unchanged after bookkeeping.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)

	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.settings.Timeout {
			b.rejections++
			return fmt.Errorf("provider %q: %w", b.name, ErrOpen)
		}

		b.state = StateHalfOpen
		b.successes = 0
	}

	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = b.now()

		// Any half-open failure reopens immediately; a closed breaker opens
		// only once the threshold is reached.
		if b.state == StateHalfOpen || b.failures >= b.settings.FailureThreshold {
			b.state = StateOpen
		}

		return
	}

	b.failures = 0

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.successes = 0
		}
	}
}

// Reset returns the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.rejections = 0
	b.lastFailure = time.Time{}
}

// State reports the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Snapshot is a point-in-time view of a breaker for introspection endpoints.
type Snapshot struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	Rejections  int       `json:"rejections"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Snapshot captures the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:        b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		Successes:   b.successes,
		Rejections:  b.rejections,
		LastFailure: b.lastFailure,
	}
}
