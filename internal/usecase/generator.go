package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

// charsPerToken is the rough ratio used when a backend cannot count tokens.
const charsPerToken = 4

// GeneratorConfig holds ContentGenerator settings.
type GeneratorConfig struct {
	// RequestsPerMinute paces backend calls. 0 disables pacing.
	RequestsPerMinute int
}

// ContentGenerator is the single entry point the engine uses to reach a
// backend. It never retries.
type ContentGenerator struct {
	backend domain.Backend
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewContentGenerator wraps backend.
func NewContentGenerator(backend domain.Backend, cfg GeneratorConfig, logger *slog.Logger) *ContentGenerator {
	g := &ContentGenerator{backend: backend, logger: logger}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return g
}

// Model returns the backend's default model.
func (g *ContentGenerator) Model() string { return g.backend.Model() }

// Backend returns the wrapped backend name.
func (g *ContentGenerator) Backend() string { return g.backend.Name() }

func (g *ContentGenerator) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewDomainError("ContentGenerator.wait", domain.ErrRateLimit, err.Error())
	}
	return nil
}

// Generate sends req and waits for the complete response.
func (g *ContentGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "generator.generate",
		trace.WithAttributes(tracer.StringAttr("llm.provider", g.backend.Name())),
	)
	defer span.End()

	if err := g.wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	resp, err := g.backend.Generate(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("llm.total_tokens", resp.Usage.TotalTokens))
	tracer.SetOK(span)
	return resp, nil
}

// GenerateStream starts a streaming generation. The span covers stream
// initiation only.
func (g *ContentGenerator) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	spanCtx, span := tracer.StartSpan(ctx, "generator.generate_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", g.backend.Name()),
			tracer.IntAttr("llm.messages", len(req.Contents)),
			tracer.IntAttr("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	if err := g.wait(spanCtx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	// The stream outlives the span, so it runs on the caller's ctx.
	ch, err := g.backend.GenerateStream(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return ch, nil
}

// CountTokens asks the backend for a token count and falls back to
// EstimateTokens when the backend has no counting endpoint.
func (g *ContentGenerator) CountTokens(ctx context.Context, req domain.GenerationRequest) (int, error) {
	n, err := g.backend.CountTokens(ctx, req)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, domain.ErrNotSupported) {
		return 0, err
	}
	est := EstimateTokens(req)
	g.logger.Debug("token count estimated", "backend", g.backend.Name(), "estimate", est)
	return est, nil
}

// Embed returns one vector per input.
func (g *ContentGenerator) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.backend.Embed(ctx, req)
}

// EstimateTokens approximates the token count of req from the length of its
// JSON encoding. It is a fallback, not a measurement.
func EstimateTokens(req domain.GenerationRequest) int {
	data, err := json.Marshal(req)
	if err != nil {
		return 0
	}
	return (len(data) + charsPerToken - 1) / charsPerToken
}
