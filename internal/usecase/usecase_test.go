package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"termagent/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Backend ---

// script is one scripted model stream.
type script struct {
	events []domain.StreamEvent
	// hold keeps the stream open after events until ctx is done, then
	// tries to send late.
	hold bool
	late []domain.StreamEvent
	// err is returned by GenerateStream instead of a stream.
	err error
}

type scriptedBackend struct {
	mu        sync.Mutex
	scripts   []script
	requests  []domain.GenerationRequest
	generated []domain.GenerationRequest
	summary   string
	tokens    int
	tokensErr error
	// repeat replays the last script when scripts run out.
	repeat bool
}

func (b *scriptedBackend) Name() string  { return "scripted" }
func (b *scriptedBackend) Model() string { return "test-model" }

func (b *scriptedBackend) Generate(_ context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generated = append(b.generated, req.Clone())
	return &domain.GenerateResponse{
		Model:        "test-model",
		Parts:        []domain.Part{domain.TextPart(b.summary)},
		FinishReason: domain.FinishStop,
	}, nil
}

func (b *scriptedBackend) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req.Clone())
	var sc script
	switch {
	case len(b.scripts) > 0:
		sc = b.scripts[0]
		if len(b.scripts) > 1 || !b.repeat {
			b.scripts = b.scripts[1:]
		}
	default:
		sc = script{events: []domain.StreamEvent{
			domain.ContentEvent("fallback"),
			domain.FinishedEvent(domain.FinishStop, nil),
		}}
	}
	b.mu.Unlock()

	if sc.err != nil {
		return nil, sc.err
	}
	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range sc.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if !sc.hold {
			return
		}
		<-ctx.Done()
		for _, ev := range sc.late {
			select {
			case ch <- ev:
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}()
	return ch, nil
}

func (b *scriptedBackend) CountTokens(_ context.Context, _ domain.GenerationRequest) (int, error) {
	if b.tokensErr != nil {
		return 0, b.tokensErr
	}
	return b.tokens, nil
}

func (b *scriptedBackend) Embed(_ context.Context, req domain.EmbedRequest) ([][]float32, error) {
	out := make([][]float32, len(req.Inputs))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (b *scriptedBackend) Requests() []domain.GenerationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.GenerationRequest(nil), b.requests...)
}

func callEvent(name string, args map[string]any) domain.StreamEvent {
	return domain.ToolCallEvent(domain.ToolCallRequest{Name: name, Args: args})
}

func finished(reason domain.FinishReason) domain.StreamEvent {
	return domain.FinishedEvent(reason, &domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
}

// --- Tools ---

type funcTool struct {
	name string
	kind domain.ToolKind
	path string
	fn   func(ctx context.Context, args map[string]any) (*domain.ToolOutput, error)
}

func (t *funcTool) Name() string          { return t.name }
func (t *funcTool) Description() string   { return t.name + " test tool" }
func (t *funcTool) Kind() domain.ToolKind { return t.kind }
func (t *funcTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *funcTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	if t.fn == nil {
		return &domain.ToolOutput{Content: t.name + " ok"}, nil
	}
	return t.fn(ctx, args)
}

// pathedTool adds TargetPath to funcTool.
type pathedTool struct{ funcTool }

func (t *pathedTool) TargetPath(map[string]any) string { return t.path }

func staticTool(name string, kind domain.ToolKind, content string) *funcTool {
	return &funcTool{name: name, kind: kind, fn: func(context.Context, map[string]any) (*domain.ToolOutput, error) {
		return &domain.ToolOutput{Content: content}, nil
	}}
}

// blockingTool signals started and waits for ctx.
func blockingTool(name string, kind domain.ToolKind, started chan<- string) *funcTool {
	return &funcTool{name: name, kind: kind, fn: func(ctx context.Context, _ map[string]any) (*domain.ToolOutput, error) {
		started <- name
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

type fakeRegistry struct {
	tools map[string]domain.Tool
	// invalid maps tool name to a validation message.
	invalid map[string]string
}

func newFakeRegistry(tools ...domain.Tool) *fakeRegistry {
	r := &fakeRegistry{tools: map[string]domain.Tool{}, invalid: map[string]string{}}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *fakeRegistry) Get(name string) (domain.Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("fakeRegistry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (r *fakeRegistry) Declarations() []domain.ToolDeclaration {
	var out []domain.ToolDeclaration
	for _, t := range r.tools {
		out = append(out, t.Declaration())
	}
	return out
}

func (r *fakeRegistry) ValidateArgs(name string, _ map[string]any) error {
	if msg, ok := r.invalid[name]; ok {
		return domain.NewDomainError("fakeRegistry.ValidateArgs", domain.ErrToolValidation, msg)
	}
	return nil
}

// --- Collaborators ---

type stubApprover struct {
	mu       sync.Mutex
	outcome  domain.ApprovalOutcome
	err      error
	block    bool
	requests []domain.ApprovalRequest
	asked    chan string
}

func (a *stubApprover) RequestApproval(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalOutcome, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	if a.asked != nil {
		a.asked <- req.Call.Name
	}
	if a.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return a.outcome, a.err
}

func (a *stubApprover) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

type recordingCheckpointer struct {
	mu    sync.Mutex
	saved []domain.Checkpoint
	err   error
}

func (c *recordingCheckpointer) Save(_ context.Context, cp domain.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, cp)
	return c.err
}

type stubDecider struct {
	decision domain.LoopDecision
	calls    int
}

func (d *stubDecider) DecideLoop(context.Context) (domain.LoopDecision, error) {
	d.calls++
	return d.decision, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	states  []State
	events  []domain.StreamEvent
	text    []string
	updates []domain.ToolCallSnapshot
	onEvent func(domain.StreamEvent)
}

func (o *recordingObserver) OnStateChange(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) OnEvent(ev domain.StreamEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	hook := o.onEvent
	o.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (o *recordingObserver) OnText(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.text = append(o.text, text)
}

func (o *recordingObserver) OnToolCall(s domain.ToolCallSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, s)
}

func (o *recordingObserver) eventTypes() []domain.EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.EventType, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Type
	}
	return out
}

func (o *recordingObserver) hasEvent(t domain.EventType) bool {
	for _, et := range o.eventTypes() {
		if et == t {
			return true
		}
	}
	return false
}

// --- Harness ---

type harness struct {
	backend   *scriptedBackend
	registry  *fakeRegistry
	chat      *Chat
	observer  *recordingObserver
	approver  *stubApprover
	scheduler *Scheduler
	processor *Processor
}

type harnessOption func(*ProcessorDeps, *SchedulerDeps)

func newHarness(t *testing.T, backend *scriptedBackend, tools []domain.Tool, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		backend:  backend,
		registry: newFakeRegistry(tools...),
		observer: &recordingObserver{},
		approver: &stubApprover{outcome: domain.ProceedOnce},
	}
	h.chat = NewChat(ChatOptions{SystemPrompt: "be helpful", Tools: h.registry.Declarations})

	sdeps := SchedulerDeps{
		Tools:    h.registry,
		Policy:   NewApprovalPolicy(ApprovalDefault, nil),
		Approval: h.approver,
		Logger:   newTestLogger(),
	}
	pdeps := ProcessorDeps{
		Generator: NewContentGenerator(backend, GeneratorConfig{}, newTestLogger()),
		Chat:      h.chat,
		Observer:  h.observer,
		Logger:    newTestLogger(),
		Detector:  NewLoopDetector(defaultLoopConfig(), newTestLogger()),
		MaxRounds: 10,
	}
	for _, o := range opts {
		o(&pdeps, &sdeps)
	}
	h.scheduler = NewScheduler(sdeps)
	pdeps.Scheduler = h.scheduler
	h.processor = NewProcessor(pdeps)
	return h
}

func roleSeq(msgs []domain.Message) string {
	s := ""
	for _, m := range msgs {
		kind := "text"
		switch {
		case len(m.FunctionCalls()) > 0:
			kind = "call"
		case len(m.FunctionResponses()) > 0:
			kind = "result"
		}
		s += fmt.Sprintf("%s:%s ", m.Role, kind)
	}
	return s
}

func waitFor(t *testing.T, ch <-chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}
