package probe

import (
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker used around rate-limited upstream
// APIs (NVD, OTX, GitHub). After five consecutive failures the breaker opens
// for 30 seconds; the probe then fails fast and the orchestrator's error
// shield turns that into a service-error signal.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
