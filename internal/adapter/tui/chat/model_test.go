package chat

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termagent/internal/adapter/tui/components"
	"termagent/internal/domain"
	"termagent/internal/usecase"
)

type fakeEngine struct {
	mu        sync.Mutex
	prompts   []string
	toolName  string
	toolArgs  map[string]any
	cancelled int
}

func (f *fakeEngine) Submit(_ context.Context, input string) (*usecase.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, input)
	return &usecase.Outcome{Status: usecase.OutcomeFinished, Text: "ok"}, nil
}

func (f *fakeEngine) RunClientTool(_ context.Context, name string, args map[string]any) (*usecase.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolName, f.toolArgs = name, args
	return &usecase.BatchResult{}, nil
}

func (f *fakeEngine) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func newTestModel(t *testing.T) (ChatModel, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	m := NewChatModel(ChatModelDeps{
		Engine:      eng,
		Policy:      usecase.NewApprovalPolicy(usecase.ApprovalDefault, nil),
		BackendName: "ollama",
		ModelName:   "qwen",
	})
	return update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40}), eng
}

func update(t *testing.T, m ChatModel, msg tea.Msg) ChatModel {
	t.Helper()
	next, _ := m.Update(msg)
	cm, ok := next.(ChatModel)
	require.True(t, ok)
	return cm
}

func updateCmd(t *testing.T, m ChatModel, msg tea.Msg) (ChatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(ChatModel), cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func lastMessage(m ChatModel) components.ChatMessage {
	msgs := m.chatView.Messages.Messages
	return msgs[len(msgs)-1]
}

func TestChatModel_SubmitRunsTurn(t *testing.T) {
	m, eng := newTestModel(t)

	m, cmd := updateCmd(t, m, components.InputSubmitMsg{Value: "list files"})
	require.NotNil(t, cmd)
	assert.True(t, m.running)
	assert.Equal(t, components.RoleUser, lastMessage(m).Role)

	done := cmd()
	require.IsType(t, TurnDoneMsg{}, done)
	assert.Equal(t, []string{"list files"}, eng.prompts)

	m = update(t, m, done)
	assert.False(t, m.running)
}

func TestChatModel_RejectsSubmitWhileRunning(t *testing.T) {
	m, eng := newTestModel(t)
	m, _ = updateCmd(t, m, components.InputSubmitMsg{Value: "first"})

	m, cmd := updateCmd(t, m, components.InputSubmitMsg{Value: "second"})
	assert.Nil(t, cmd)
	assert.Equal(t, components.RoleError, lastMessage(m).Role)
	assert.Empty(t, eng.prompts)
}

func TestChatModel_ShellCommand(t *testing.T) {
	m, eng := newTestModel(t)

	m, cmd := updateCmd(t, m, components.InputSubmitMsg{Value: "!ls -la"})
	require.NotNil(t, cmd)
	require.IsType(t, ClientToolDoneMsg{}, cmd())
	assert.Equal(t, shellToolName, eng.toolName)
	assert.Equal(t, map[string]any{"command": "ls -la"}, eng.toolArgs)
	assert.Empty(t, eng.prompts)

	snap := domain.ToolCallSnapshot{
		Request: domain.ToolCallRequest{CallID: "p-0", Name: shellToolName, Args: eng.toolArgs, IsClientInitiated: true},
		Status:  domain.StatusSuccess,
		Result:  &domain.ToolCallResult{Display: "total 0"},
	}
	m = update(t, m, ToolUpdateMsg{Snapshot: snap})
	last := lastMessage(m)
	assert.Equal(t, components.RoleShell, last.Role)
	assert.Equal(t, "ls -la", last.ToolName)
	assert.Equal(t, "total 0", last.Content)
}

func TestChatModel_StreamingText(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = updateCmd(t, m, components.InputSubmitMsg{Value: "hi"})

	m = update(t, m, TextMsg{Text: "Hello\n\n"})
	m = update(t, m, TextMsg{Text: "world"})
	last := lastMessage(m)
	assert.Equal(t, components.RoleAssistant, last.Role)
	assert.Equal(t, "Hello\n\nworld", last.Content)
	assert.True(t, last.Streaming)

	m = update(t, m, EventMsg{Event: domain.FinishedEvent(domain.FinishStop, nil)})
	assert.False(t, lastMessage(m).Streaming)
	assert.Len(t, m.chatView.Messages.Messages, 2)
}

func TestChatModel_ApprovalKeys(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = updateCmd(t, m, components.InputSubmitMsg{Value: "edit it"})

	first := make(chan domain.ApprovalOutcome, 1)
	second := make(chan domain.ApprovalOutcome, 1)
	req := domain.ApprovalRequest{Call: domain.ToolCallRequest{CallID: "p-0", Name: "write_file"}, Kind: domain.KindEdit}
	m = update(t, m, ApprovalRequestMsg{Req: req, Reply: first})
	m = update(t, m, ApprovalRequestMsg{Req: req, Reply: second})
	assert.Contains(t, m.View(), "Allow write_file")

	m = update(t, m, key("x"))
	assert.Len(t, m.approvals, 2, "unrelated keys are ignored")

	m = update(t, m, key("a"))
	assert.Equal(t, domain.ProceedAlways, <-first)
	m = update(t, m, key("n"))
	assert.Equal(t, domain.Reject, <-second)
	assert.Empty(t, m.approvals)
}

func TestChatModel_EscCancelsAndRejectsPending(t *testing.T) {
	m, eng := newTestModel(t)
	m, _ = updateCmd(t, m, components.InputSubmitMsg{Value: "go"})

	reply := make(chan domain.ApprovalOutcome, 1)
	m = update(t, m, ApprovalRequestMsg{Req: domain.ApprovalRequest{Call: domain.ToolCallRequest{Name: "run_shell_command"}}, Reply: reply})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})

	assert.Equal(t, 1, eng.cancelled)
	assert.Equal(t, domain.Reject, <-reply)
	assert.Empty(t, m.approvals)

	m = update(t, m, TurnDoneMsg{Outcome: &usecase.Outcome{Status: usecase.OutcomeCancelled}})
	assert.False(t, m.running)
	assert.Equal(t, "Request cancelled.", lastMessage(m).Content)
}

func TestChatModel_LoopPrompt(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = updateCmd(t, m, components.InputSubmitMsg{Value: "go"})

	reply := make(chan domain.LoopDecision, 1)
	m = update(t, m, LoopPromptMsg{Reply: reply})
	assert.Contains(t, m.View(), "repeating itself")

	m = update(t, m, key("y"))
	assert.Equal(t, domain.LoopRetry, <-reply)
	assert.Nil(t, m.loopReply)
}

func TestChatModel_ToolUpdateReportedOnce(t *testing.T) {
	m, _ := newTestModel(t)
	snap := domain.ToolCallSnapshot{
		Request: domain.ToolCallRequest{CallID: "p-0", Name: "read_file"},
		Status:  domain.StatusExecuting,
	}
	m = update(t, m, ToolUpdateMsg{Snapshot: snap})
	assert.Empty(t, m.chatView.Messages.Messages)

	snap.Status = domain.StatusError
	snap.Result = &domain.ToolCallResult{Display: "no such file"}
	m = update(t, m, ToolUpdateMsg{Snapshot: snap})
	m = update(t, m, ToolUpdateMsg{Snapshot: snap})

	require.Len(t, m.chatView.Messages.Messages, 1)
	assert.True(t, lastMessage(m).Failed)
	assert.Equal(t, 1, m.toolPane.Len())
}

func TestChatModel_ModeCommand(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, components.InputSubmitMsg{Value: "/mode yolo"})
	assert.Equal(t, usecase.ApprovalYolo, m.deps.Policy.Mode())
	assert.Equal(t, "yolo", m.statusBar.Mode)

	m = update(t, m, components.InputSubmitMsg{Value: "/mode bogus"})
	assert.Equal(t, components.RoleError, lastMessage(m).Role)
}

func TestChatModel_ClearCallsHook(t *testing.T) {
	cleared := false
	m := NewChatModel(ChatModelDeps{Engine: &fakeEngine{}, OnClear: func() { cleared = true }})
	m = update(t, m, components.InputSubmitMsg{Value: "/clear"})
	assert.True(t, cleared)
	assert.Len(t, m.chatView.Messages.Messages, 1)
}

func TestBridge_NoProgram(t *testing.T) {
	b := NewBridge(slog.New(slog.DiscardHandler))

	outcome, err := b.RequestApproval(context.Background(), domain.ApprovalRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.Reject, outcome)

	d, err := b.DecideLoop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.LoopHalt, d)

	b.OnText("dropped")
}

func TestIsMouseEscapeLeak(t *testing.T) {
	for _, s := range []string{"<65;38;21M", "[M", "[12;3;4M"} {
		assert.True(t, isMouseEscapeLeak(s), s)
	}
	for _, s := range []string{"a", "<abcM", "hello"} {
		assert.False(t, isMouseEscapeLeak(s), s)
	}
}
