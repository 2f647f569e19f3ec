package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerBackend wraps a Backend so repeated transport failures fail
// fast instead of each waiting out a dial timeout.
type CircuitBreakerBackend struct {
	inner   domain.Backend
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewCircuitBreakerBackend wraps inner. Zero config fields get defaults.
func NewCircuitBreakerBackend(inner domain.Backend, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerBackend {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Only an unreachable backend counts. Cancellation, bad requests and
		// protocol errors say nothing about availability.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrBackendUnreachable)
		},
	})

	return &CircuitBreakerBackend{inner: inner, breaker: cb, logger: logger}
}

func (p *CircuitBreakerBackend) wrapOpen(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError(op, domain.ErrCircuitOpen, p.inner.Name()+": "+err.Error())
	}
	return err
}

// Generate implements domain.Backend.
func (p *CircuitBreakerBackend) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		return p.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, p.wrapOpen("CircuitBreaker.Generate", err)
	}
	return res.(*domain.GenerateResponse), nil
}

// GenerateStream implements domain.Backend. The breaker guards stream
// initiation only; errors delivered on the channel do not trip it.
func (p *CircuitBreakerBackend) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	var ch <-chan domain.StreamEvent
	_, err := p.breaker.Execute(func() (any, error) {
		var streamErr error
		ch, streamErr = p.inner.GenerateStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		return nil, p.wrapOpen("CircuitBreaker.GenerateStream", err)
	}
	return ch, nil
}

// CountTokens implements domain.Backend. Not guarded.
func (p *CircuitBreakerBackend) CountTokens(ctx context.Context, req domain.GenerationRequest) (int, error) {
	return p.inner.CountTokens(ctx, req)
}

// Embed implements domain.Backend.
func (p *CircuitBreakerBackend) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		return p.inner.Embed(ctx, req)
	})
	if err != nil {
		return nil, p.wrapOpen("CircuitBreaker.Embed", err)
	}
	return res.([][]float32), nil
}

// Name implements domain.Backend.
func (p *CircuitBreakerBackend) Name() string { return p.inner.Name() }

// Model implements domain.Backend.
func (p *CircuitBreakerBackend) Model() string { return p.inner.Model() }

// Unwrap returns the wrapped backend.
func (p *CircuitBreakerBackend) Unwrap() domain.Backend { return p.inner }

// State returns the current breaker state.
func (p *CircuitBreakerBackend) State() gobreaker.State { return p.breaker.State() }

// Counts returns the current breaker counts.
func (p *CircuitBreakerBackend) Counts() gobreaker.Counts { return p.breaker.Counts() }

var _ domain.Backend = (*CircuitBreakerBackend)(nil)
