package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the breaker state.
type State uint8

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
		return "half-open"
	default:
		return "unknown"
	}
}

// Counts are the request statistics ReadyToTrip decides on. They reset
// when the breaker closes.
type Counts struct {
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Settings configures a Breaker. Zero values get defaults.
type Settings struct {
	// Timeout is how long the breaker stays open before admitting a
	// probe request.
	Timeout time.Duration
	// ReadyToTrip is consulted after every failure in the closed state.
	ReadyToTrip func(Counts) bool
	// OnStateChange observes transitions; called with the lock held, so
	// it must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Breaker gates calls to one upstream dependency. Closed passes calls
// through and counts failures; Open rejects immediately; HalfOpen admits
// a single probe whose outcome decides between reopening and closing.
type Breaker struct {
	name          string
	timeout       time.Duration
	readyToTrip   func(Counts) bool
	onStateChange func(string, State, State)

	mu       sync.Mutex
	state    State
	counts   Counts
	epoch    uint64 // bumped on every transition; stale results are dropped
	openedAt time.Time
	probing  bool
}

// New creates a breaker named after the dependency it guards.
func New(name string, s Settings) *Breaker {
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	if s.ReadyToTrip == nil {
		s.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures >= 5 }
	}
	return &Breaker{
		name:          name,
		timeout:       s.Timeout,
		readyToTrip:   s.ReadyToTrip,
		onStateChange: s.OnStateChange,
	}
}

// Name returns the guarded dependency's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, advancing open to half-open when the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// Counts returns a copy of the current statistics.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs req if the breaker admits it. Rejections return ErrCircuitOpen
// or, for a half-open breaker already probing, ErrTooManyRequests. A req
// that panics counts as a failure before the panic propagates.
func (b *Breaker) Do(req func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(epoch, false)
			panic(r)
		}
	}()

	err = req()
	b.record(epoch, err == nil)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return 0, ErrTooManyRequests
		}
		b.probing = true
	}
	return b.epoch, nil
}

// record applies a request outcome. Results from before the last
// transition are dropped so a slow straggler cannot flip the state.
func (b *Breaker) record(epoch uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(time.Now())
	if epoch != b.epoch {
		return
	}
	if state == StateHalfOpen {
		b.probing = false
	}

	if success {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.transitionLocked(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	if state == StateHalfOpen || (state == StateClosed && b.readyToTrip(b.counts)) {
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.timeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.epoch++
	b.probing = false

	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.counts = Counts{}
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
