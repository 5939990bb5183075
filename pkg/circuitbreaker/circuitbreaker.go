package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/jwalitptl/authz-api/pkg/metrics"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open or probing
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration

	// FailureThreshold consecutive failures trip the breaker
	FailureThreshold uint32

	Metrics *metrics.Metrics
}

// CircuitBreaker guards calls to one dependency
type CircuitBreaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

func NewCircuitBreaker[T any](settings Settings) *CircuitBreaker[T] {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}

	m := settings.Metrics
	if m != nil {
		m.BreakerState.WithLabelValues(settings.Name).Set(float64(gobreaker.StateClosed))
	}

	return &CircuitBreaker[T]{
		name: settings.Name,
		cb: gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.FailureThreshold
			},
			// the caller giving up says nothing about the dependency
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
				if m != nil {
					m.BreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		}),
	}
}

// Execute runs fn unless the breaker is open
func (b *CircuitBreaker[T]) Execute(fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return result, ErrOpen
	}
	return result, err
}

// State returns closed, half-open or open
func (b *CircuitBreaker[T]) State() string {
	return b.cb.State().String()
}

func (b *CircuitBreaker[T]) Name() string {
	return b.name
}
