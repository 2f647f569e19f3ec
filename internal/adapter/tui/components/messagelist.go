package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
)

// MessageRole identifies the sender of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
	RoleShell     MessageRole = "shell"
	RoleError     MessageRole = "error"
)

// ChatMessage is one entry in the transcript.
type ChatMessage struct {
	Role     MessageRole
	Content  string
	Rendered string // cached glamour output; empty means not yet rendered
	// Streaming marks assistant text that is still arriving. It is shown
	// as plain text and rendered as markdown once finished.
	Streaming bool
	Timestamp time.Time
	ToolName  string // RoleTool and RoleShell only
	Failed    bool   // RoleTool only
}

// MessageListModel manages an ordered list of chat messages with optional ring buffer.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 = unlimited
	trimCount   int
	width       int
	mdRenderer  *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMaxMessages sets the ring buffer capacity. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// TrimmedIndicator returns a note if older messages were trimmed.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message, trimming the oldest past MaxMessages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

// Last returns the last message, or nil.
func (m *MessageListModel) Last() *ChatMessage {
	if len(m.Messages) == 0 {
		return nil
	}
	return &m.Messages[len(m.Messages)-1]
}

// AppendToLast adds text to the last message.
func (m *MessageListModel) AppendToLast(text string) {
	if last := m.Last(); last != nil {
		last.Content += text
		last.Rendered = ""
	}
}

// FinishLast ends streaming on the last message so it renders as markdown.
func (m *MessageListModel) FinishLast() {
	if last := m.Last(); last != nil && last.Streaming {
		last.Streaming = false
		last.Rendered = ""
	}
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  Ask something, or type !command to run a shell command.")
	}

	contentWidth := ContentWidth(m.width)

	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], contentWidth))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := m.roleLabel(msg)
	if msg.Role == RoleUser || msg.Role == RoleAssistant {
		header += " " + theme.Timestamp.Render(RelativeTime(msg.Timestamp))
	}
	headerWidth := lipgloss.Width(header)

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.Streaming {
			body = wrapText(msg.Content, width-2)
			break
		}
		if msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimSpace(msg.Rendered)
	case RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	case RoleTool, RoleShell:
		body = theme.Dim.Render(indent(clipLines(msg.Content, 8), "  "))
		if body != "" {
			return header + "\n" + body
		}
		return header
	default:
		inlineW := width - headerWidth - 2
		if inlineW < 20 {
			inlineW = width - 2
		}
		body = wrapText(msg.Content, inlineW)
	}

	if body == "" {
		return header
	}
	if width-headerWidth-2 < 20 {
		return header + "\n  " + body
	}

	lines := strings.SplitN(body, "\n", 2)
	result := header + "  " + strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		result += "\n" + lines[1]
	}
	return result
}

func (m *MessageListModel) roleLabel(msg *ChatMessage) string {
	switch msg.Role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleTool:
		icon := theme.TextSuccess.Render(theme.SymbolSuccess)
		if msg.Failed {
			icon = theme.TextError.Render(theme.SymbolError)
		}
		return icon + " " + theme.ToolLabel.Render(msg.ToolName)
	case RoleShell:
		return theme.ShellPrompt.Render(theme.SymbolShell + " " + msg.ToolName)
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(msg.Role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + content
	}
	return rendered
}

// RelativeTime returns a human-readable relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps text to width with a 2-space indent on continuation lines.
// Existing newlines are kept. Works on runes so multibyte text is safe.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			idx := -1
			for i := width - 1; i > 0; i-- {
				if runes[i] == ' ' {
					idx = i
					break
				}
			}
			if idx <= 0 {
				idx = width
			}
			out = append(out, string(runes[:idx]))
			runes = runes[idx:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n  ")
}

// clipLines keeps the first n lines of s and notes how many were dropped.
func clipLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n%s (%d more lines, Ctrl+T for the tool pane)", theme.SymbolEllipsis, len(lines)-n)
}

func indent(s, prefix string) string {
	if s == "" {
		return ""
	}
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

// TruncatePath shortens a path with an ellipsis in the middle,
// e.g. "/home/user/very/deep/nested/path/file.go" -> "/home/.../path/file.go".
func TruncatePath(path string, maxLen int) string {
	if len(path) <= maxLen || maxLen < 10 {
		return path
	}
	parts := strings.Split(path, "/")
	if len(parts) <= 3 {
		return path[:maxLen-1] + theme.SymbolEllipsis
	}
	result := parts[0] + "/" + theme.SymbolEllipsis + "/" + strings.Join(parts[len(parts)-2:], "/")
	if len(result) > maxLen {
		return path[:maxLen-1] + theme.SymbolEllipsis
	}
	return result
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	return min(max(termWidth-4, 40), theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", max(width, 0)))
}
