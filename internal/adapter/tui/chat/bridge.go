package chat

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"termagent/internal/domain"
	"termagent/internal/usecase"
)

// Bridge forwards processor callbacks into the Bubble Tea update loop and
// turns approval and loop questions into prompts. It implements
// usecase.Observer, domain.ApprovalHandler and domain.LoopDecider, so it
// can be wired into the engine before the program starts.
type Bridge struct {
	logger *slog.Logger

	mu      sync.RWMutex
	program *tea.Program
}

// NewBridge creates a bridge with no program attached. Until Run attaches
// one, notifications are dropped and questions are answered negatively.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

func (b *Bridge) send(msg tea.Msg) bool {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()
	if p == nil {
		return false
	}
	p.Send(msg)
	return true
}

func (b *Bridge) OnStateChange(s usecase.State) { b.send(StateMsg{State: s}) }

func (b *Bridge) OnEvent(ev domain.StreamEvent) {
	// Content is delivered through OnText in flushed pieces.
	if ev.Type == domain.EventContent {
		return
	}
	b.send(EventMsg{Event: ev})
}

func (b *Bridge) OnText(text string) { b.send(TextMsg{Text: text}) }

func (b *Bridge) OnToolCall(snap domain.ToolCallSnapshot) { b.send(ToolUpdateMsg{Snapshot: snap}) }

// RequestApproval blocks until the user answers or ctx is done.
func (b *Bridge) RequestApproval(ctx context.Context, req domain.ApprovalRequest) (domain.ApprovalOutcome, error) {
	reply := make(chan domain.ApprovalOutcome, 1)
	if !b.send(ApprovalRequestMsg{Req: req, Reply: reply}) {
		b.logger.Warn("no terminal attached, rejecting tool call", "tool", req.Call.Name)
		return domain.Reject, nil
	}
	select {
	case outcome := <-reply:
		return outcome, nil
	case <-ctx.Done():
		return domain.Reject, ctx.Err()
	}
}

// DecideLoop blocks until the user answers or ctx is done.
func (b *Bridge) DecideLoop(ctx context.Context) (domain.LoopDecision, error) {
	reply := make(chan domain.LoopDecision, 1)
	if !b.send(LoopPromptMsg{Reply: reply}) {
		return domain.LoopHalt, nil
	}
	select {
	case d := <-reply:
		return d, nil
	case <-ctx.Done():
		return domain.LoopHalt, ctx.Err()
	}
}

// Run starts the program and blocks until it exits or ctx is done.
func (b *Bridge) Run(ctx context.Context, deps ChatModelDeps) error {
	p := tea.NewProgram(
		NewChatModel(deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	b.mu.Lock()
	b.program = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.program = nil
		b.mu.Unlock()
	}()

	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
