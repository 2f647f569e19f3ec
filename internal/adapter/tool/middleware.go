package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

// Execute is the standard tool pipeline: decode args into P, start a span,
// run the handler and format its result.
//
// The handler returns one of:
//   - (string, nil): plain content
//   - (*domain.ToolOutput, nil): returned as-is
//   - (any other value, nil): JSON-marshaled into content
//   - (nil, error): an error output the model can read
//
// Only cancellation comes back as a Go error, so the scheduler can tell a
// cancelled call from a failed one.
func Execute[P any](
	ctx context.Context,
	spanName string,
	logger *slog.Logger,
	args map[string]any,
	handler func(ctx context.Context, span trace.Span, params P) (any, error),
) (*domain.ToolOutput, error) {
	ctx, span := tracer.StartSpan(ctx, spanName,
		trace.WithAttributes(tracer.StringAttr("tool.name", spanName)),
	)
	defer span.End()

	p, errOut := ParseArgs[P](args)
	if errOut != nil {
		tracer.RecordError(span, fmt.Errorf("%s", errOut.Content))
		return errOut, nil
	}

	result, err := handler(ctx, span, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tracer.RecordError(span, err)
		logger.Warn(spanName+" failed", "error", err)

		content := err.Error()
		if classifyToolError(err) {
			content += " (transient error, may succeed on retry)"
		}
		return &domain.ToolOutput{IsError: true, Content: content}, nil
	}

	return formatResult(span, result)
}

func formatResult(span trace.Span, result any) (*domain.ToolOutput, error) {
	switch v := result.(type) {
	case *domain.ToolOutput:
		if v.IsError {
			tracer.RecordError(span, fmt.Errorf("%s", v.Content))
		} else {
			tracer.SetOK(span)
		}
		return v, nil
	case string:
		tracer.SetOK(span)
		return &domain.ToolOutput{Content: v}, nil
	default:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			tracer.RecordError(span, err)
			return ErrOutput("failed to format response: %v", err), nil
		}
		tracer.SetOK(span)
		return &domain.ToolOutput{Content: string(data)}, nil
	}
}

// ParseArgs converts decoded model arguments into P. On failure it returns
// an error output suitable for returning directly.
func ParseArgs[P any](args map[string]any) (P, *domain.ToolOutput) {
	var p P
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err == nil {
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return p, ErrOutput("invalid params: %v", err)
	}
	return p, nil
}

// ErrOutput creates an error output for validation failures that should be
// shown to the model without being logged as warnings.
func ErrOutput(format string, args ...any) *domain.ToolOutput {
	return &domain.ToolOutput{IsError: true, Content: fmt.Sprintf(format, args...)}
}

// TextOutput creates a plain text success output with an optional display.
func TextOutput(content, display string) *domain.ToolOutput {
	return &domain.ToolOutput{Content: content, Display: display}
}
