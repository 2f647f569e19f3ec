package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
)

// State is the processor's position in the turn state machine.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
	StateAwaitingTools
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	case StateAwaitingTools:
		return "awaiting_tools"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Observer receives read-only notifications from the processor. Methods may
// be called from several goroutines (tool updates arrive concurrently).
type Observer interface {
	OnStateChange(State)
	OnEvent(domain.StreamEvent)
	// OnText receives assistant text in markdown-safe pieces.
	OnText(text string)
	OnToolCall(domain.ToolCallSnapshot)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnStateChange(State)                {}
func (NopObserver) OnEvent(domain.StreamEvent)         {}
func (NopObserver) OnText(string)                      {}
func (NopObserver) OnToolCall(domain.ToolCallSnapshot) {}

// OutcomeStatus says how a submitted prompt ended.
type OutcomeStatus string

const (
	OutcomeFinished  OutcomeStatus = "finished"
	OutcomeError     OutcomeStatus = "error"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeHalted    OutcomeStatus = "halted"
)

// Outcome summarizes one Submit.
type Outcome struct {
	PromptID string
	Status   OutcomeStatus
	// Text is the assistant text of the last model response.
	Text string
	// Rounds counts model submissions, continuations included.
	Rounds int
	Usage  domain.Usage
	Err    error
}

// ProcessorDeps holds injected dependencies for the Processor.
type ProcessorDeps struct {
	Generator  *ContentGenerator
	Chat       *Chat
	Scheduler  *Scheduler
	Detector   *LoopDetector      // optional
	Decider    domain.LoopDecider // optional, nil halts on a suspected loop
	Compressor *Compressor        // optional
	Observer   Observer           // optional
	Logger     *slog.Logger
	// MaxRounds bounds model submissions per prompt. 0 means unbounded.
	MaxRounds int
	// TokenLimit is the model context size used for the overflow warning.
	TokenLimit int
	// FlushThreshold is the buffered text size that triggers a flush.
	FlushThreshold int
}

// Processor drives turns for one session. At most one turn is active.
type Processor struct {
	deps ProcessorDeps

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// NewProcessor creates a Processor.
func NewProcessor(deps ProcessorDeps) *Processor {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Scheduler != nil && deps.Scheduler.deps.OnUpdate == nil {
		deps.Scheduler.deps.OnUpdate = deps.Observer.OnToolCall
	}
	return &Processor{deps: deps}
}

// State returns the current state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	p.mu.Unlock()
	if changed {
		p.deps.Observer.OnStateChange(s)
	}
}

// begin claims the session for a new turn.
func (p *Processor) begin(parent context.Context) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return nil, domain.NewDomainError("Processor.Submit", domain.ErrTurnActive, p.state.String())
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.state = StateSubmitting
	return ctx, nil
}

func (p *Processor) end() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.setState(StateIdle)
}

// Cancel aborts the active turn, if any. Calling it again has no effect.
func (p *Processor) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit runs a user prompt to completion, including every tool-call
// continuation. It returns ErrTurnActive while another turn is running.
func (p *Processor) Submit(ctx context.Context, input string) (*Outcome, error) {
	ctx, err := p.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer p.end()
	p.deps.Observer.OnStateChange(StateSubmitting)

	promptID := newULID(time.Now())
	ctx = domain.ContextWithSessionID(ctx, p.deps.Chat.ID())
	ctx = domain.ContextWithPromptID(ctx, promptID)
	ctx, span := tracer.StartSpan(ctx, "processor.submit",
		trace.WithAttributes(
			tracer.StringAttr("session.id", p.deps.Chat.ID()),
			tracer.StringAttr("turn.prompt_id", promptID),
		),
	)
	defer span.End()

	if p.deps.Detector != nil {
		p.deps.Detector.Reset()
	}
	p.deps.Chat.append(domain.NewTextMessage(domain.RoleUser, input))

	out := p.run(ctx, promptID)
	if out.Err != nil {
		tracer.RecordError(span, out.Err)
	} else {
		tracer.SetOK(span)
	}
	p.deps.Logger.DebugContext(ctx, "prompt finished",
		"status", out.Status, "rounds", out.Rounds, "error", out.Err)
	return out, out.Err
}

// run is the continuation loop. History already ends with the message that
// the next submission answers.
func (p *Processor) run(ctx context.Context, promptID string) *Outcome {
	out := &Outcome{PromptID: promptID}
	nextID := 0

	for {
		if p.deps.MaxRounds > 0 && out.Rounds >= p.deps.MaxRounds {
			out.Status = OutcomeError
			out.Err = domain.NewDomainError("Processor.Submit", domain.ErrMaxIterations,
				fmt.Sprintf("stopped after %d model rounds", out.Rounds))
			p.deps.Observer.OnEvent(domain.ErrorEvent(out.Err))
			return out
		}
		p.setState(StateSubmitting)
		p.prepare(ctx)
		req := p.deps.Chat.BuildRequest(p.deps.Generator.Model())

		// A retry after a suspected loop resubmits the same request.
		var res TurnResult
		for {
			out.Rounds++
			res = p.stream(ctx, promptID, &nextID, req)
			if !res.LoopDetected || res.Cancelled || res.Err != nil {
				break
			}
			if p.decideLoop(ctx) != domain.LoopRetry {
				out.Status = OutcomeHalted
				out.Text = res.Text
				return out
			}
			p.deps.Detector.Disable()
			p.deps.Logger.InfoContext(ctx, "loop detection disabled for session, retrying request")
		}
		addUsage(&out.Usage, res.Usage)
		out.Text = res.Text

		switch {
		case res.Cancelled:
			if res.Text != "" {
				p.deps.Chat.append(domain.NewTextMessage(domain.RoleAssistant, res.Text))
			}
			out.Status = OutcomeCancelled
			return out
		case res.Err != nil:
			if res.Text != "" {
				p.deps.Chat.append(domain.NewTextMessage(domain.RoleAssistant, res.Text))
			}
			out.Status = OutcomeError
			out.Err = res.Err
			return out
		}

		if msg := assistantMessage(res); len(msg.Parts) > 0 {
			p.deps.Chat.append(msg)
		}
		if len(res.Calls) == 0 {
			out.Status = OutcomeFinished
			return out
		}

		p.setState(StateAwaitingTools)
		batch := <-p.deps.Scheduler.Schedule(ctx, res.Calls, p.deps.Chat.History())
		p.deps.Chat.append(domain.Message{Role: domain.RoleUser, Parts: batch.ResponseParts()})

		if batch.AllCancelled() || ctx.Err() != nil {
			p.deps.Logger.InfoContext(ctx, "tool batch cancelled, not resubmitting",
				"calls", len(batch.Calls))
			p.deps.Observer.OnEvent(domain.StreamEvent{Type: domain.EventUserCancelled})
			out.Status = OutcomeCancelled
			return out
		}
	}
}

// stream runs one Turn and routes its events through the flusher.
func (p *Processor) stream(ctx context.Context, promptID string, nextID *int, req domain.GenerationRequest) TurnResult {
	flusher := &textFlusher{threshold: p.deps.FlushThreshold, emit: p.deps.Observer.OnText}
	turn := newTurn(promptID, nextID, p.deps.Detector)
	res := turn.Run(ctx, p.deps.Generator, req,
		func() { p.setState(StateStreaming) },
		func(ev domain.StreamEvent) {
			if ev.Type == domain.EventContent {
				flusher.add(ev.Text)
			} else if ev.IsTerminal() {
				flusher.flush()
			}
			p.deps.Observer.OnEvent(ev)
		},
	)
	flusher.flush()
	return res
}

// prepare runs compression and the overflow estimate before a submission.
func (p *Processor) prepare(ctx context.Context) {
	if p.deps.Compressor != nil {
		info, err := p.deps.Compressor.Compress(ctx, p.deps.Chat)
		if err != nil {
			p.deps.Logger.WarnContext(ctx, "history compression failed", "error", err)
		} else if info != nil {
			p.deps.Observer.OnEvent(domain.StreamEvent{Type: domain.EventChatCompressed, Compression: info})
		}
	}
	if p.deps.TokenLimit <= 0 {
		return
	}
	req := p.deps.Chat.BuildRequest(p.deps.Generator.Model())
	est, err := p.deps.Generator.CountTokens(ctx, req)
	if err != nil {
		p.deps.Logger.DebugContext(ctx, "token count failed", "error", err)
		return
	}
	if est > p.deps.TokenLimit {
		p.deps.Observer.OnEvent(domain.StreamEvent{
			Type:     domain.EventContextWindowWillOverflow,
			Overflow: &domain.OverflowInfo{Estimated: est, Remaining: p.deps.TokenLimit},
		})
	}
}

func (p *Processor) decideLoop(ctx context.Context) domain.LoopDecision {
	if p.deps.Decider == nil || p.deps.Detector == nil {
		return domain.LoopHalt
	}
	d, err := p.deps.Decider.DecideLoop(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.deps.Logger.WarnContext(ctx, "loop decision failed, halting", "error", err)
		}
		return domain.LoopHalt
	}
	return d
}

// RunClientTool executes a locally requested tool call (for example a shell
// command typed by the user). It goes through the scheduler but its result
// is never sent to the model; a note is added to history instead so later
// prompts can refer to it.
func (p *Processor) RunClientTool(ctx context.Context, name string, args map[string]any) (*BatchResult, error) {
	ctx, err := p.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer p.end()
	p.deps.Observer.OnStateChange(StateAwaitingTools)

	promptID := newULID(time.Now())
	req := domain.ToolCallRequest{
		CallID:            promptID + "-0",
		Name:              name,
		Args:              args,
		PromptID:          promptID,
		IsClientInitiated: true,
	}
	batch := <-p.deps.Scheduler.Schedule(ctx, []domain.ToolCallRequest{req}, p.deps.Chat.History())
	for _, c := range batch.Calls {
		if c.Status == domain.StatusCancelled {
			p.deps.Observer.OnEvent(domain.StreamEvent{Type: domain.EventUserCancelled})
			continue
		}
		p.deps.Chat.append(domain.NewTextMessage(domain.RoleUser, clientToolNote(c)))
	}
	return &batch, nil
}

func clientToolNote(c domain.ToolCallSnapshot) string {
	var body string
	if c.Result != nil {
		for _, fr := range partsResponses(c.Result.ResponseParts) {
			if v, ok := fr.Response["output"]; ok {
				body = fmt.Sprint(v)
			} else if v, ok := fr.Response["error"]; ok {
				body = "error: " + fmt.Sprint(v)
			}
		}
	}
	return fmt.Sprintf("I ran %s with %v myself. Result:\n%s", c.Request.Name, c.Request.Args, body)
}

func partsResponses(parts []domain.Part) []domain.FunctionResponse {
	return domain.Message{Parts: parts}.FunctionResponses()
}

// assistantMessage builds the history entry for a finished model response:
// its text followed by its calls in request order.
func assistantMessage(res TurnResult) domain.Message {
	msg := domain.Message{Role: domain.RoleAssistant}
	if res.Text != "" {
		msg.Parts = append(msg.Parts, domain.TextPart(res.Text))
	}
	for _, c := range res.Calls {
		msg.Parts = append(msg.Parts, domain.FunctionCallPart(domain.FunctionCall{
			ID:   c.CallID,
			Name: c.Name,
			Args: c.Args,
		}))
	}
	return msg
}

func addUsage(total *domain.Usage, u *domain.Usage) {
	if u == nil {
		return
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
