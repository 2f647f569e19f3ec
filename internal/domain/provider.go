package domain

import "context"

// Backend is implemented by every model backend adapter.
type Backend interface {
	// Name returns the configured provider name (e.g. "ollama").
	Name() string
	// Model returns the default model used when a request leaves it empty.
	Model() string
	// Generate sends a request and returns the complete response.
	Generate(ctx context.Context, req GenerationRequest) (*GenerateResponse, error)
	// GenerateStream returns a finite channel of canonical events. The
	// channel is closed after a terminal event or when ctx is done.
	GenerateStream(ctx context.Context, req GenerationRequest) (<-chan StreamEvent, error)
	// CountTokens returns ErrNotSupported when the backend has no endpoint.
	CountTokens(ctx context.Context, req GenerationRequest) (int, error)
	// Embed returns one vector per input.
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// LoopDecision is the operator's answer after a suspected loop.
type LoopDecision string

const (
	LoopRetry LoopDecision = "retry"
	LoopHalt  LoopDecision = "halt"
)

// LoopDecider is asked what to do once a stream that raised LoopDetected has
// finished.
type LoopDecider interface {
	DecideLoop(ctx context.Context) (LoopDecision, error)
}
