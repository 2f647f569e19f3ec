package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

// stubBackend is a configurable domain.Backend for wrapper tests.
type stubBackend struct {
	name       string
	generate   func(context.Context, domain.GenerationRequest) (*domain.GenerateResponse, error)
	stream     func(context.Context, domain.GenerationRequest) (<-chan domain.StreamEvent, error)
	streamHits int
}

func (s *stubBackend) Name() string  { return s.name }
func (s *stubBackend) Model() string { return "stub-model" }

func (s *stubBackend) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	return s.generate(ctx, req)
}

func (s *stubBackend) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	s.streamHits++
	return s.stream(ctx, req)
}

func (s *stubBackend) CountTokens(context.Context, domain.GenerationRequest) (int, error) {
	return 0, domain.ErrNotSupported
}

func (s *stubBackend) Embed(context.Context, domain.EmbedRequest) ([][]float32, error) {
	return nil, domain.ErrNotSupported
}

var unreachable = domain.NewDomainError("stub", domain.ErrBackendUnreachable, "connection refused")

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &stubBackend{name: "test", generate: func(context.Context, domain.GenerationRequest) (*domain.GenerateResponse, error) {
		return &domain.GenerateResponse{Parts: []domain.Part{domain.TextPart("ok")}}, nil
	}}
	cb := NewCircuitBreakerBackend(inner, config.CircuitBreakerConfig{}, newTestLogger())

	resp, err := cb.Generate(context.Background(), domain.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, "stub-model", cb.Model())
}

func TestCircuitBreakerOpensAfterUnreachable(t *testing.T) {
	inner := &stubBackend{name: "flaky", stream: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
		return nil, unreachable
	}}
	cb := NewCircuitBreakerBackend(inner, config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second}, newTestLogger())

	for range 3 {
		_, err := cb.GenerateStream(context.Background(), domain.GenerationRequest{})
		require.ErrorIs(t, err, domain.ErrBackendUnreachable)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.GenerateStream(context.Background(), domain.GenerationRequest{})
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 3, inner.streamHits, "open circuit must not reach the backend")
}

func TestCircuitBreakerIgnoresCancellationAndProtocolErrors(t *testing.T) {
	errs := []error{context.Canceled, domain.NewDomainError("x", domain.ErrBackendProtocol, "404"), errors.New("other")}
	i := 0
	inner := &stubBackend{name: "b", stream: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
		err := errs[i%len(errs)]
		i++
		return nil, err
	}}
	cb := NewCircuitBreakerBackend(inner, config.CircuitBreakerConfig{MaxFailures: 2}, newTestLogger())

	for range 6 {
		_, err := cb.GenerateStream(context.Background(), domain.GenerationRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 6, inner.streamHits)
}

func TestCircuitBreakerClosesAfterProbeSuccess(t *testing.T) {
	fail := true
	inner := &stubBackend{name: "recovering", generate: func(context.Context, domain.GenerationRequest) (*domain.GenerateResponse, error) {
		if fail {
			return nil, unreachable
		}
		return &domain.GenerateResponse{}, nil
	}}
	cb := NewCircuitBreakerBackend(inner, config.CircuitBreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond}, newTestLogger())

	_, err := cb.Generate(context.Background(), domain.GenerationRequest{})
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	fail = false
	time.Sleep(80 * time.Millisecond)
	_, err = cb.Generate(context.Background(), domain.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerStreamErrorsDoNotTrip(t *testing.T) {
	inner := &stubBackend{name: "s", stream: func(context.Context, domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
		ch := make(chan domain.StreamEvent, 1)
		ch <- domain.ErrorEvent(unreachable)
		close(ch)
		return ch, nil
	}}
	cb := NewCircuitBreakerBackend(inner, config.CircuitBreakerConfig{MaxFailures: 1}, newTestLogger())

	for range 3 {
		ch, err := cb.GenerateStream(context.Background(), domain.GenerationRequest{})
		require.NoError(t, err)
		collect(t, ch)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestAsOllamaUnwraps(t *testing.T) {
	o := NewOllama(testProviderConfig("http://127.0.0.1:1"), nil, newTestLogger())
	cb := NewCircuitBreakerBackend(o, config.CircuitBreakerConfig{}, newTestLogger())

	got, ok := AsOllama(cb)
	require.True(t, ok)
	assert.Same(t, o, got)

	_, ok = AsOllama(&stubBackend{name: "x"})
	assert.False(t, ok)
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "local",
		Providers: []config.ProviderConfig{
			{Name: "local", Type: "ollama", Model: "m"},
			{Name: "remote", Type: "openai", BaseURL: "http://127.0.0.1:1/v1", Model: "m"},
		},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
	}
	reg, err := BuildRegistry(cfg, nil, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "remote"}, reg.List())

	b, err := reg.Get("local")
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerBackend{}, b)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	cfg.Providers = append(cfg.Providers, config.ProviderConfig{Name: "x", Type: "bogus"})
	_, err = BuildRegistry(cfg, nil, newTestLogger())
	assert.Error(t, err)
}
