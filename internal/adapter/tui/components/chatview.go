package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"termagent/internal/adapter/tui/theme"
)

// ChatViewModel shows the transcript. It sticks to the bottom while the
// user is there; once they scroll up, new messages are counted instead
// and a marker on the last line says how many arrived.
type ChatViewModel struct {
	Viewport viewport.Model
	Messages MessageListModel
	ready    bool
	pinned   bool
	unseen   int
}

// NewChatView creates a transcript view. The viewport is built on the
// first SetSize.
func NewChatView() ChatViewModel {
	return ChatViewModel{Messages: NewMessageList(), pinned: true}
}

// SetMaxMessages caps the transcript length.
func (m *ChatViewModel) SetMaxMessages(n int) { m.Messages.SetMaxMessages(n) }

// SetSize resizes the viewport and re-renders.
func (m *ChatViewModel) SetSize(w, h int) {
	m.Messages.SetWidth(w)
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.Viewport.MouseWheelDelta = 3
		m.ready = true
	} else {
		m.Viewport.Width, m.Viewport.Height = w, h
	}
	m.render(false)
}

// AddMessage finishes any streaming message and appends msg.
func (m *ChatViewModel) AddMessage(msg ChatMessage) {
	m.Messages.FinishLast()
	m.Messages.Add(msg)
	m.render(true)
}

// AppendStreaming adds streamed assistant text, opening a new streaming
// message when the last one is not one.
func (m *ChatViewModel) AppendStreaming(text string) {
	if last := m.Messages.Last(); last != nil && last.Role == RoleAssistant && last.Streaming {
		m.Messages.AppendToLast(text)
		m.render(false)
		return
	}
	m.Messages.Add(ChatMessage{Role: RoleAssistant, Content: text, Streaming: true})
	m.render(true)
}

// FinishStreaming renders the streaming message, if any, as markdown.
func (m *ChatViewModel) FinishStreaming() {
	m.Messages.FinishLast()
	m.render(false)
}

// Clear empties the transcript.
func (m *ChatViewModel) Clear() {
	m.Messages.Clear()
	m.pinned = true
	m.unseen = 0
	m.render(false)
}

// ScrollBy moves the view by n lines, down when positive.
func (m *ChatViewModel) ScrollBy(n int) {
	if n > 0 {
		m.Viewport.LineDown(n)
	} else {
		m.Viewport.LineUp(-n)
	}
	m.syncPin()
}

// ScrollTop jumps to the first line.
func (m *ChatViewModel) ScrollTop() {
	m.Viewport.GotoTop()
	m.syncPin()
}

// ScrollBottom jumps to the last line and resumes following.
func (m *ChatViewModel) ScrollBottom() {
	m.Viewport.GotoBottom()
	m.syncPin()
}

// Unseen is the number of messages added since the user scrolled away.
func (m ChatViewModel) Unseen() int { return m.unseen }

func (m *ChatViewModel) render(added bool) {
	if !m.ready {
		return
	}
	m.Viewport.SetContent(m.Messages.View())
	switch {
	case m.pinned:
		m.Viewport.GotoBottom()
	case added:
		m.unseen++
	}
}

func (m *ChatViewModel) syncPin() {
	m.pinned = m.Viewport.AtBottom()
	if m.pinned {
		m.unseen = 0
	}
}

// Update handles scrolling.
func (m ChatViewModel) Update(msg tea.Msg) (ChatViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.syncPin()
	return m, cmd
}

// View renders the viewport.
func (m ChatViewModel) View() string {
	if !m.ready {
		return "  Initializing..."
	}
	out := m.Viewport.View()
	if m.pinned || m.unseen == 0 {
		return out
	}
	lines := strings.Split(out, "\n")
	lines[len(lines)-1] = theme.TextInfo.Render(fmt.Sprintf("  ↓ %d new (G to jump)", m.unseen))
	return strings.Join(lines, "\n")
}
