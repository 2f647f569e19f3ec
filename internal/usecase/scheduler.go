package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

const cancelledMessage = "Tool call cancelled by user."

// SchedulerDeps holds injected dependencies for the Scheduler.
type SchedulerDeps struct {
	Tools    domain.ToolRegistry
	Policy   *ApprovalPolicy
	Approval domain.ApprovalHandler // nil rejects everything needing approval
	// Checkpointer is offered edit-class calls before approval. Optional.
	Checkpointer domain.Checkpointer
	Logger       *slog.Logger
	// OnUpdate receives a snapshot after every state change. It is called
	// from the goroutine driving the call and must not block for long.
	OnUpdate func(domain.ToolCallSnapshot)
}

// Scheduler runs the tool calls of one batch concurrently and reports once
// every call is terminal. Tracked calls are owned by the scheduler; callers
// only ever see snapshots.
type Scheduler struct {
	deps SchedulerDeps
}

// NewScheduler creates a Scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	if deps.Policy == nil {
		deps.Policy = NewApprovalPolicy(ApprovalDefault, nil)
	}
	return &Scheduler{deps: deps}
}

// Policy returns the approval policy in use.
func (s *Scheduler) Policy() *ApprovalPolicy { return s.deps.Policy }

// BatchResult is delivered once per batch, after every call is terminal.
// Calls are in request order.
type BatchResult struct {
	Calls []domain.ToolCallSnapshot
}

// AllCancelled reports whether every call in the batch was cancelled.
func (b BatchResult) AllCancelled() bool {
	if len(b.Calls) == 0 {
		return false
	}
	for _, c := range b.Calls {
		if c.Status != domain.StatusCancelled {
			return false
		}
	}
	return true
}

// ResponseParts returns the function responses of model-initiated calls in
// request order. Client-initiated calls are never resubmitted.
func (b BatchResult) ResponseParts() []domain.Part {
	var parts []domain.Part
	for _, c := range b.Calls {
		if c.Request.IsClientInitiated || c.Result == nil {
			continue
		}
		parts = append(parts, c.Result.ResponseParts...)
	}
	return parts
}

// trackedCall is the scheduler-private mutable record of one call.
type trackedCall struct {
	mu        sync.Mutex
	req       domain.ToolCallRequest
	status    domain.ToolCallStatus
	kind      domain.ToolKind
	result    *domain.ToolCallResult
	submitted bool
	started   time.Time
	ended     time.Time
}

func (c *trackedCall) snapshot() domain.ToolCallSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := domain.ToolCallSnapshot{
		Request:   c.req,
		Status:    c.status,
		Kind:      c.kind,
		Submitted: c.submitted,
		StartedAt: c.started,
	}
	if c.result != nil {
		r := *c.result
		r.ResponseParts = append([]domain.Part(nil), c.result.ResponseParts...)
		snap.Result = &r
	}
	if !c.ended.IsZero() {
		snap.Duration = c.ended.Sub(c.started)
	}
	return snap
}

// Schedule starts every call in calls and returns a channel that yields
// exactly one BatchResult and is then closed. history is offered to the
// checkpointer for edit-class calls.
func (s *Scheduler) Schedule(ctx context.Context, calls []domain.ToolCallRequest, history []domain.Message) <-chan BatchResult {
	out := make(chan BatchResult, 1)
	tracked := make([]*trackedCall, len(calls))
	for i, req := range calls {
		tracked[i] = &trackedCall{req: req, status: domain.StatusValidating, started: time.Now()}
		s.notify(tracked[i])
	}

	if len(calls) == 0 {
		out <- BatchResult{}
		close(out)
		return out
	}

	var remaining atomic.Int32
	remaining.Store(int32(len(calls)))
	for _, tc := range tracked {
		go func() {
			s.run(ctx, tc, history)
			if remaining.Add(-1) == 0 {
				res := BatchResult{Calls: make([]domain.ToolCallSnapshot, len(tracked))}
				for i, c := range tracked {
					res.Calls[i] = c.snapshot()
				}
				out <- res
				close(out)
			}
		}()
	}
	return out
}

// run drives one call from Validating to a terminal state.
func (s *Scheduler) run(ctx context.Context, tc *trackedCall, history []domain.Message) {
	req := tc.req
	ctx, span := tracer.StartSpan(ctx, "scheduler.tool_call",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", req.Name),
			tracer.StringAttr("tool.call_id", req.CallID),
		),
	)
	defer span.End()

	tool, err := s.deps.Tools.Get(req.Name)
	if err != nil {
		s.fail(tc, domain.NewDomainError("Scheduler.validate", domain.ErrToolValidation,
			fmt.Sprintf("tool %q not found", req.Name)))
		tracer.RecordError(span, err)
		return
	}
	s.set(tc, func(c *trackedCall) { c.kind = tool.Kind() })
	if err := s.deps.Tools.ValidateArgs(req.Name, req.Args); err != nil {
		s.fail(tc, err)
		tracer.RecordError(span, err)
		return
	}
	if ctx.Err() != nil {
		s.cancel(tc)
		return
	}

	if !req.IsClientInitiated && s.deps.Policy.NeedsApproval(req.Name, tool.Kind()) {
		s.transition(tc, domain.StatusAwaitingApproval)
		if tool.Kind() == domain.KindEdit {
			s.offerCheckpoint(ctx, tool, req, history)
		}
		outcome, err := s.awaitApproval(ctx, tool, req)
		switch {
		case ctx.Err() != nil:
			s.cancel(tc)
			return
		case err != nil:
			s.fail(tc, fmt.Errorf("approval: %w", err))
			return
		case outcome == domain.Reject:
			s.fail(tc, domain.NewDomainError("Scheduler.approve", domain.ErrToolRejected,
				fmt.Sprintf("the user declined to run %s", req.Name)))
			return
		case outcome == domain.ProceedAlways:
			s.deps.Policy.Remember(req.Name)
		}
	} else {
		s.transition(tc, domain.StatusScheduled)
	}

	if ctx.Err() != nil {
		s.cancel(tc)
		return
	}
	s.transition(tc, domain.StatusExecuting)
	output, err := tool.Execute(ctx, req.Args)

	// A tool that ignored cancellation still ends cancelled.
	if ctx.Err() != nil {
		s.cancel(tc)
		return
	}
	if err != nil {
		s.fail(tc, domain.NewDomainError("Scheduler.execute", domain.ErrToolExecution, err.Error()))
		tracer.RecordError(span, err)
		return
	}
	if output == nil {
		output = &domain.ToolOutput{}
	}
	if output.IsError {
		s.finish(tc, domain.StatusError, map[string]any{"error": output.Content}, output.Display,
			domain.NewDomainError("Scheduler.execute", domain.ErrToolExecution, output.Content))
		tracer.RecordError(span, errors.New(output.Content))
		return
	}
	s.finish(tc, domain.StatusSuccess, map[string]any{"output": output.Content}, output.Display, nil)
	tracer.SetOK(span)
}

func (s *Scheduler) awaitApproval(ctx context.Context, tool domain.Tool, req domain.ToolCallRequest) (domain.ApprovalOutcome, error) {
	if s.deps.Approval == nil {
		return domain.Reject, nil
	}
	return s.deps.Approval.RequestApproval(ctx, domain.ApprovalRequest{
		Call:    req,
		Kind:    tool.Kind(),
		Summary: tool.Description(),
	})
}

func (s *Scheduler) offerCheckpoint(ctx context.Context, tool domain.Tool, req domain.ToolCallRequest, history []domain.Message) {
	if s.deps.Checkpointer == nil {
		return
	}
	var path string
	if pt, ok := tool.(domain.PathedTool); ok {
		path = pt.TargetPath(req.Args)
	}
	cp := domain.Checkpoint{Call: req, FilePath: path, History: history, CreatedAt: time.Now().UTC()}
	if err := s.deps.Checkpointer.Save(ctx, cp); err != nil {
		s.deps.Logger.WarnContext(ctx, "checkpoint failed, continuing without one",
			"tool", req.Name, "file", path, "error", err)
	}
}

func (s *Scheduler) set(tc *trackedCall, fn func(*trackedCall)) {
	tc.mu.Lock()
	fn(tc)
	tc.mu.Unlock()
}

// transition moves tc to a non-terminal state. Terminal states are final.
func (s *Scheduler) transition(tc *trackedCall, status domain.ToolCallStatus) {
	tc.mu.Lock()
	if tc.status.IsTerminal() {
		tc.mu.Unlock()
		return
	}
	tc.status = status
	tc.mu.Unlock()
	s.notify(tc)
}

func (s *Scheduler) finish(tc *trackedCall, status domain.ToolCallStatus, response map[string]any, display string, err error) {
	tc.mu.Lock()
	if tc.status.IsTerminal() {
		tc.mu.Unlock()
		return
	}
	tc.status = status
	tc.ended = time.Now()
	tc.result = &domain.ToolCallResult{
		CallID: tc.req.CallID,
		Status: status,
		ResponseParts: []domain.Part{domain.FunctionResponsePart(domain.FunctionResponse{
			ID:       tc.req.CallID,
			Name:     tc.req.Name,
			Response: response,
		})},
		Err:     err,
		Display: display,
	}
	// Client-initiated calls are never resubmitted.
	tc.submitted = tc.req.IsClientInitiated
	tc.mu.Unlock()

	if err != nil && status == domain.StatusError {
		s.deps.Logger.Debug("tool call failed", "tool", tc.req.Name, "call_id", tc.req.CallID, "error", err)
	}
	s.notify(tc)
}

func (s *Scheduler) fail(tc *trackedCall, err error) {
	s.finish(tc, domain.StatusError, map[string]any{"error": err.Error()}, "", err)
}

func (s *Scheduler) cancel(tc *trackedCall) {
	s.finish(tc, domain.StatusCancelled, map[string]any{"error": cancelledMessage}, "",
		domain.ErrUserCancelled)
}

func (s *Scheduler) notify(tc *trackedCall) {
	if s.deps.OnUpdate != nil {
		s.deps.OnUpdate(tc.snapshot())
	}
}
