// Package resilience wraps calls to external providers with a rate limiter,
// a circuit breaker and a single retry of transient failures.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

type Config struct {
	// Name identifies the guarded provider in logs and errors.
	Name string
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
	RetryTransient    bool
	RetryDelay        time.Duration
	// MaxFailures consecutive transient failures open the breaker.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Guard is safe for concurrent use.
type Guard struct {
	name       string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retry      bool
	retryDelay time.Duration
	log        logrus.FieldLogger
}

func New(cfg Config, log logrus.FieldLogger) *Guard {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	log = log.WithField("provider", cfg.Name)

	g := &Guard{
		name:       cfg.Name,
		retry:      cfg.RetryTransient,
		retryDelay: cfg.RetryDelay,
		log:        log,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// permanent errors say nothing about the provider's health
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})
	return g
}

// Do runs op. kind is the sentinel reported when the guard itself rejects the
// call (open breaker, rate limiter deadline). A transient failure is retried
// once when retries are enabled; errors from op are returned unchanged.
func (g *Guard) Do(ctx context.Context, kind error, op func(ctx context.Context) error) error {
	err := g.attempt(ctx, kind, op)
	if err == nil || !g.retry || !domain.IsTransient(err) {
		return err
	}
	g.log.WithError(err).Warn("transient provider failure, retrying once")

	timer := time.NewTimer(g.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return g.attempt(ctx, kind, op)
}

func (g *Guard) attempt(ctx context.Context, kind error, op func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return &domain.ProviderError{Kind: kind, Provider: g.name, Err: err}
		}
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ProviderError{Kind: kind, Provider: g.name, Err: err}
	}
	return err
}
