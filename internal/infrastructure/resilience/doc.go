/*
Package resilience provides a circuit breaker for upstream dependencies.

# Overview

The breaker prevents cascading failures when an upstream service becomes
unavailable. The manifest loader runs every artifact fetch through one so a
dead artifact service fails sessions fast instead of tying up boot budgets.

# Usage

	breaker := resilience.New("service", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	err := breaker.Do(func() error {
		return client.Call()
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[probe ok]-> Closed
	                                           |
	                                    [probe fails]
	                                           |
	                                           v
	                                         Open

Closed passes requests through and counts failures. Open rejects with
ErrCircuitOpen. Half-Open admits one probe at a time; a second concurrent
caller gets ErrTooManyRequests.
*/
package resilience
