package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// OpenError is returned when a call is rejected because the breaker is open.
// Callers may back off, retry later, or serve degraded data instead of
// propagating it.
type OpenError struct {
	Name  string
	Until time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q open until %s", e.Name, e.Until.UTC().Format(time.RFC3339))
}

// IsOpen reports whether err is (or wraps) a breaker rejection.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

// Breaker guards calls to one named external dependency. The Open→HalfOpen
// transition is lazy: it happens on the first call after the open window
// elapses, not on a background timer.
type Breaker struct {
	name      string
	threshold int
	openFor   time.Duration

	mu        sync.Mutex
	state     string
	failures  int
	changedAt time.Time
	now       func() time.Time
}

// New builds a closed breaker. threshold <= 0 and openFor <= 0 fall back to
// 5 failures / 60s.
func New(name string, threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 60 * time.Second
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		openFor:   openFor,
		state:     StateClosed,
		now:       time.Now,
	}
	b.changedAt = b.now()
	return b
}

// Call runs fn unless the breaker is open, then records the outcome.
func (b *Breaker) Call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.changedAt) >= b.openFor {
		b.state = StateHalfOpen
		b.changedAt = b.now()
		return nil
	}
	return &OpenError{Name: b.name, Until: b.changedAt.Add(b.openFor)}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.threshold {
				b.state = StateOpen
				b.changedAt = b.now()
			}
		case StateHalfOpen:
			// Probe failed; the open window restarts.
			b.state = StateOpen
			b.changedAt = b.now()
		}
		return
	}
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.changedAt = b.now()
	}
}

// Status is a read-only snapshot for health reporting. An elapsed open
// window still reads as open until the next call flips it.
type Status struct {
	Name        string        `json:"name"`
	State       string        `json:"state"`
	Failures    int           `json:"failure_count"`
	Threshold   int           `json:"threshold"`
	OpenTimeout time.Duration `json:"open_timeout"`
	ChangedAt   time.Time     `json:"changed_at"`
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:        b.name,
		State:       b.state,
		Failures:    b.failures,
		Threshold:   b.threshold,
		OpenTimeout: b.openFor,
		ChangedAt:   b.changedAt,
	}
}
