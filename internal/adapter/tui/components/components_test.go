package components

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termagent/internal/domain"
)

func TestParseShellCommand(t *testing.T) {
	cmd, ok := ParseShellCommand("  !git status ")
	assert.True(t, ok)
	assert.Equal(t, "git status", cmd)

	_, ok = ParseShellCommand("!")
	assert.False(t, ok)
	_, ok = ParseShellCommand("hello")
	assert.False(t, ok)
}

func TestParseSlashCommand(t *testing.T) {
	cmd, args, ok := ParseSlashCommand("/Mode yolo")
	assert.True(t, ok)
	assert.Equal(t, "/mode", cmd)
	assert.Equal(t, []string{"yolo"}, args)
}

func TestToolOutput_UpsertByCallID(t *testing.T) {
	m := NewToolOutput()
	m.SetSize(60, 20)

	snap := domain.ToolCallSnapshot{Request: domain.ToolCallRequest{CallID: "p-0", Name: "glob"}, Status: domain.StatusExecuting}
	m.Upsert(snap)
	m.Upsert(domain.ToolCallSnapshot{Request: domain.ToolCallRequest{CallID: "p-1", Name: "read_file"}, Status: domain.StatusExecuting})
	assert.Equal(t, -1, m.LastCompletedIdx())

	snap.Status = domain.StatusSuccess
	snap.Result = &domain.ToolCallResult{ResponseParts: []domain.Part{
		domain.FunctionResponsePart(domain.FunctionResponse{ID: "p-0", Name: "glob", Response: map[string]any{"output": "a.go\nb.go"}}),
	}}
	m.Upsert(snap)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 0, m.LastCompletedIdx())
	first, ok := m.At(0)
	assert.True(t, ok)
	assert.Equal(t, "glob", first.Request.Name)
	assert.Equal(t, "a.go\nb.go", ResultText(first))

	got, ok := m.Get("p-0")
	assert.True(t, ok)
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestResultText_PrefersDisplay(t *testing.T) {
	c := domain.ToolCallSnapshot{Result: &domain.ToolCallResult{
		Display:       "pretty",
		ResponseParts: []domain.Part{domain.FunctionResponsePart(domain.FunctionResponse{Response: map[string]any{"output": "raw"}})},
	}}
	assert.Equal(t, "pretty", ResultText(c))
	assert.Equal(t, "", ResultText(domain.ToolCallSnapshot{}))
}

func TestMessageList_Streaming(t *testing.T) {
	var l MessageListModel
	l.Add(ChatMessage{Role: RoleAssistant, Content: "part", Streaming: true})
	l.AppendToLast(" two")
	assert.Equal(t, "part two", l.Last().Content)
	l.FinishLast()
	assert.False(t, l.Last().Streaming)

	l.SetMaxMessages(2)
	l.Add(ChatMessage{Role: RoleUser, Content: "a"})
	l.Add(ChatMessage{Role: RoleUser, Content: "b"})
	assert.Len(t, l.Messages, 2)
	assert.Equal(t, "(1 older messages trimmed)", l.TrimmedIndicator())
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "command: ls\ndir: /tmp", FormatArgs(map[string]any{"dir": "/tmp", "command": "ls"}))
}

func TestWrapText_KeepsNewlines(t *testing.T) {
	assert.Equal(t, "one\n  two", wrapText("one\ntwo", 40))
	assert.Equal(t, "aaaa\n  bbbb", wrapText("aaaa bbbb", 6))
}

var testCommands = []SlashCommand{
	{Name: "/help"},
	{Name: "/clear"},
	{Name: "/compress"},
	{Name: "/mode", Choices: []string{"default", "auto_edit", "yolo"}},
}

func TestCommandMenu_FuzzyNames(t *testing.T) {
	m := NewCommandMenu(testCommands)

	m.Filter("/")
	assert.Equal(t, 6, m.Height(), "all four commands plus the border")

	m.Filter("/mo")
	require.True(t, m.Visible())
	text, ok := m.Accept()
	assert.True(t, ok)
	assert.Equal(t, "/mode", text)
	assert.False(t, m.Visible())

	m.Filter("/cl")
	text, _ = m.Accept()
	assert.Equal(t, "/clear", text)

	m.Filter("/help")
	assert.False(t, m.Visible(), "a fully typed command has nothing to complete")

	m.Filter("hello")
	assert.False(t, m.Visible())
}

func TestCommandMenu_ArgumentChoices(t *testing.T) {
	m := NewCommandMenu(testCommands)

	m.Filter("/mode ")
	assert.Equal(t, 5, m.Height())
	m.Move(-1)
	text, _ := m.Accept()
	assert.Equal(t, "/mode yolo", text)

	m.Filter("/mode au")
	text, _ = m.Accept()
	assert.Equal(t, "/mode auto_edit", text)

	m.Filter("/mode yolo extra")
	assert.False(t, m.Visible())
}

func TestInputArea_HistoryRecall(t *testing.T) {
	in := NewInputArea(testCommands)
	for _, v := range []string{"first", "second"} {
		in.Textarea.SetValue(v)
		var cmd tea.Cmd
		in, cmd = in.Update(tea.KeyMsg{Type: tea.KeyEnter})
		require.NotNil(t, cmd)
		assert.Equal(t, InputSubmitMsg{Value: v}, cmd())
	}
	assert.Equal(t, []string{"first", "second"}, in.History())

	in.Textarea.SetValue("draft")
	in, _ = in.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "second", in.Value())
	in, _ = in.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "first", in.Value())
	in, _ = in.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, "first", in.Value())
	in, _ = in.Update(tea.KeyMsg{Type: tea.KeyDown})
	in, _ = in.Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, "draft", in.Value())
}

func TestInputArea_BangAloneDoesNotSubmit(t *testing.T) {
	in := NewInputArea(nil)
	in.Textarea.SetValue("!")
	_, cmd := in.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestLayout(t *testing.T) {
	var l Layout
	l.Resize(80, 30)
	l.ToggleTools()
	assert.False(t, l.ShowTools, "too narrow for the tool pane")
	assert.Equal(t, 80, l.ChatWidth())

	l.Resize(160, 30)
	l.ToggleTools()
	require.True(t, l.ShowTools)
	assert.Equal(t, 56, l.ToolsWidth())
	assert.Equal(t, 160-56-1, l.ChatWidth())

	assert.True(t, l.CycleFocus())
	assert.True(t, l.ToolsFocused())

	l.Resize(90, 30)
	assert.False(t, l.ShowTools)
	assert.False(t, l.ToolsFocused())
}

func TestChatView_CountsUnseenWhileScrolledUp(t *testing.T) {
	v := NewChatView()
	v.SetSize(60, 5)
	for i := 0; i < 10; i++ {
		v.AddMessage(ChatMessage{Role: RoleSystem, Content: "line"})
	}
	assert.Zero(t, v.Unseen())

	v.ScrollTop()
	v.AddMessage(ChatMessage{Role: RoleSystem, Content: "late"})
	v.AppendStreaming("tok")
	v.AppendStreaming("en")
	assert.Equal(t, 2, v.Unseen())
	assert.Contains(t, v.View(), "2 new")

	v.ScrollBottom()
	assert.Zero(t, v.Unseen())
}

func TestResultViewer(t *testing.T) {
	v := NewResultViewer()
	v.Resize(100, 30)
	v.Show(domain.ToolCallSnapshot{
		Request: domain.ToolCallRequest{CallID: "p-3", Name: "read_file", Args: map[string]any{"path": "go.mod"}},
		Status:  domain.StatusSuccess,
		Result:  &domain.ToolCallResult{Display: "module termagent"},
	})
	require.True(t, v.Open())
	out := v.View()
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "path: go.mod")
	assert.Contains(t, out, "module termagent")

	v, _ = v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.False(t, v.Open())
}

func TestContextUsage(t *testing.T) {
	assert.Equal(t, "25% ctx", ContextUsage(8192, 32768))
	assert.Equal(t, "", ContextUsage(10, 0))
}
