package circuit

import (
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// consecutiveBreaker opens after a number of consecutive failed
// outcomes, and lets a limited number of trial requests through once
// the timeout expired.
type consecutiveBreaker struct {
	failures uint32
	gb       *gobreaker.TwoStepCircuitBreaker
}

func newConsecutive(s BreakerSettings) *consecutiveBreaker {
	halfOpen := s.HalfOpenRequests
	if halfOpen <= 0 {
		halfOpen = 1
	}

	b := &consecutiveBreaker{failures: uint32(s.Failures)}
	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Endpoint,
		MaxRequests: uint32(halfOpen),
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= b.failures
		},
		OnStateChange: func(endpoint string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"endpoint": endpoint,
				"from":     from.String(),
				"to":       to.String(),
			}).Info("circuit breaker state changed")
		},
	})

	return b
}

// Allow fails with gobreaker.ErrOpenState or ErrTooManyRequests when
// the breaker is not closed.
func (b *consecutiveBreaker) Allow() (func(bool), bool) {
	done, err := b.gb.Allow()
	if err != nil {
		return nil, false
	}

	return done, true
}

func (b *consecutiveBreaker) Closed() bool {
	return b.gb.State() == gobreaker.StateClosed
}
