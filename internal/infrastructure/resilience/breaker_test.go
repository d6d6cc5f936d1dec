package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failingBreaker(t *testing.T, timeout time.Duration) *Breaker {
	t.Helper()
	return New("test", Settings{
		Timeout:     timeout,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	})
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerPassesThroughWhenClosed(t *testing.T) {
	b := failingBreaker(t, time.Minute)

	require.NoError(t, b.Do(func() error { return nil }))
	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)

	c := b.Counts()
	assert.Equal(t, uint32(1), c.Successes)
	assert.Equal(t, uint32(1), c.Failures)
	assert.Equal(t, uint32(1), c.ConsecutiveFailures)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := failingBreaker(t, time.Minute)

	// A success in between resets the streak.
	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	require.NoError(t, b.Do(func() error { return nil }))
	require.Equal(t, StateClosed, b.State())

	tripBreaker(t, b)

	called := false
	err := b.Do(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the request")
}

func TestBreakerProbesAfterTimeout(t *testing.T) {
	b := failingBreaker(t, 20*time.Millisecond)
	tripBreaker(t, b)

	time.Sleep(25 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// A successful probe closes and clears the counts.
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := failingBreaker(t, 20*time.Millisecond)
	tripBreaker(t, b)

	time.Sleep(25 * time.Millisecond)
	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerAdmitsSingleProbe(t *testing.T) {
	b := failingBreaker(t, 20*time.Millisecond)
	tripBreaker(t, b)
	time.Sleep(25 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests, "half-open admits one probe at a time")

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := failingBreaker(t, time.Minute)

	for i := 0; i < 3; i++ {
		require.Panics(t, func() {
			b.Do(func() error { panic("request blew up") })
		})
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	b := New("upstream", Settings{
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, from.String()+">"+to.String())
		},
	})

	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, seen)
}

func TestBreakerDefaults(t *testing.T) {
	b := New("defaults", Settings{})
	assert.Equal(t, "defaults", b.Name())

	// Default trip point is five consecutive failures.
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	}
	require.Equal(t, StateClosed, b.State())
	require.ErrorIs(t, b.Do(func() error { return errUpstream }), errUpstream)
	assert.Equal(t, StateOpen, b.State())
}
