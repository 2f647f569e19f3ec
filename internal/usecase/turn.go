package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

// TurnResult is what one model stream produced.
type TurnResult struct {
	Text         string
	Calls        []domain.ToolCallRequest
	FinishReason domain.FinishReason
	Usage        *domain.Usage
	Err          error
	Cancelled    bool
	LoopDetected bool
}

// Turn consumes a single model stream. Events are handled strictly in
// order on the calling goroutine.
type Turn struct {
	promptID string
	nextID   *int
	detector *LoopDetector
	text     strings.Builder
	calls    []domain.ToolCallRequest
	result   TurnResult
}

// newTurn creates a Turn. nextID is shared across the continuations of one
// prompt so call IDs stay unique for the prompt's lifetime.
func newTurn(promptID string, nextID *int, detector *LoopDetector) *Turn {
	return &Turn{promptID: promptID, nextID: nextID, detector: detector}
}

// Run submits req through gen and forwards every event to emit, including
// the LoopDetected and UserCancelled events the turn raises itself. It
// returns once the stream ended, failed or ctx was cancelled.
func (t *Turn) Run(ctx context.Context, gen *ContentGenerator, req domain.GenerationRequest, onStart func(), emit func(domain.StreamEvent)) TurnResult {
	ctx, span := tracer.StartSpan(ctx, "turn.run",
		trace.WithAttributes(tracer.StringAttr("turn.prompt_id", t.promptID)),
	)
	defer span.End()

	stream, err := gen.GenerateStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return t.cancelled(emit)
		}
		t.result.Err = err
		emit(domain.ErrorEvent(err))
		tracer.RecordError(span, err)
		return t.done()
	}
	if onStart != nil {
		onStart()
	}

	for {
		select {
		case <-ctx.Done():
			return t.cancelled(emit)
		case ev, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return t.cancelled(emit)
				}
				err := domain.NewDomainError("Turn.Run", domain.ErrBackendProtocol,
					"stream closed without a terminal event")
				t.result.Err = err
				emit(domain.ErrorEvent(err))
				tracer.RecordError(span, err)
				return t.done()
			}
			// Nothing arriving after cancellation reaches the buffer.
			if ctx.Err() != nil {
				return t.cancelled(emit)
			}
			if t.handle(ev, emit) {
				if t.result.Err != nil {
					tracer.RecordError(span, t.result.Err)
				} else {
					tracer.SetOK(span)
				}
				return t.done()
			}
		}
	}
}

// handle processes one event and reports whether the stream is over.
func (t *Turn) handle(ev domain.StreamEvent, emit func(domain.StreamEvent)) bool {
	switch ev.Type {
	case domain.EventContent:
		t.text.WriteString(ev.Text)
		emit(ev)
		t.checkLoop(ev, emit)
	case domain.EventToolCallRequest:
		if ev.ToolCall == nil {
			return false
		}
		call := *ev.ToolCall
		call.CallID = fmt.Sprintf("%s-%d", t.promptID, *t.nextID)
		*t.nextID++
		call.PromptID = t.promptID
		t.calls = append(t.calls, call)
		ev = domain.ToolCallEvent(call)
		emit(ev)
		t.checkLoop(ev, emit)
	case domain.EventFinished:
		t.result.FinishReason = ev.FinishReason
		t.result.Usage = ev.Usage
		emit(ev)
		return true
	case domain.EventError:
		t.result.Err = ev.Err
		emit(ev)
		return true
	case domain.EventUserCancelled:
		t.result.Cancelled = true
		emit(ev)
		return true
	default:
		emit(ev)
	}
	return false
}

func (t *Turn) checkLoop(ev domain.StreamEvent, emit func(domain.StreamEvent)) {
	if t.detector == nil || t.result.LoopDetected {
		return
	}
	if t.detector.AddEvent(ev) {
		t.result.LoopDetected = true
		emit(domain.StreamEvent{Type: domain.EventLoopDetected, Err: domain.ErrLoopSuspected})
	}
}

func (t *Turn) cancelled(emit func(domain.StreamEvent)) TurnResult {
	t.result.Cancelled = true
	emit(domain.StreamEvent{Type: domain.EventUserCancelled})
	return t.done()
}

func (t *Turn) done() TurnResult {
	t.result.Text = t.text.String()
	t.result.Calls = t.calls
	return t.result
}
