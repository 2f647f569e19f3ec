package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
	"termagent/internal/domain"
)

const maxToolExecutions = 100

// ToolOutputModel lists tool calls in a scrollable pane, one entry per
// call ID, updated in place as the call moves through its lifecycle.
type ToolOutputModel struct {
	Viewport viewport.Model
	calls    []domain.ToolCallSnapshot
	index    map[string]int
	ready    bool
	width    int
	height   int
}

// NewToolOutput creates a tool output pane.
func NewToolOutput() ToolOutputModel {
	return ToolOutputModel{index: make(map[string]int)}
}

// SetSize sets the pane dimensions.
func (m *ToolOutputModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.Viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refreshContent()
}

// Upsert records the latest snapshot of a call.
func (m *ToolOutputModel) Upsert(snap domain.ToolCallSnapshot) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[snap.Request.CallID]; ok {
		m.calls[i] = snap
	} else {
		m.calls = append(m.calls, snap)
		if len(m.calls) > maxToolExecutions {
			m.calls = m.calls[len(m.calls)-maxToolExecutions:]
		}
		m.reindex()
	}
	m.refreshContent()
	m.Viewport.GotoBottom()
}

func (m *ToolOutputModel) reindex() {
	clear(m.index)
	for i, c := range m.calls {
		m.index[c.Request.CallID] = i
	}
}

// Get returns the last snapshot recorded for callID.
func (m *ToolOutputModel) Get(callID string) (domain.ToolCallSnapshot, bool) {
	i, ok := m.index[callID]
	if !ok {
		return domain.ToolCallSnapshot{}, false
	}
	return m.calls[i], true
}

// Len returns the number of tracked calls.
func (m *ToolOutputModel) Len() int { return len(m.calls) }

// At returns the call at index i.
func (m *ToolOutputModel) At(i int) (domain.ToolCallSnapshot, bool) {
	if i < 0 || i >= len(m.calls) {
		return domain.ToolCallSnapshot{}, false
	}
	return m.calls[i], true
}

// LastCompletedIdx returns the index of the most recent terminal call, or -1.
func (m *ToolOutputModel) LastCompletedIdx() int {
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Status.IsTerminal() {
			return i
		}
	}
	return -1
}

// Clear removes all calls.
func (m *ToolOutputModel) Clear() {
	m.calls = nil
	clear(m.index)
	m.refreshContent()
}

// Update handles viewport scrolling.
func (m ToolOutputModel) Update(msg tea.Msg) (ToolOutputModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the tool output pane.
func (m ToolOutputModel) View() string {
	if !m.ready {
		return ""
	}
	return theme.Bold.Render(" Tools") + "\n" + m.Viewport.View()
}

// ResultText is the human-readable output of a finished call: its display
// text when the tool produced one, else the response payload.
func ResultText(c domain.ToolCallSnapshot) string {
	if c.Result == nil {
		return ""
	}
	if c.Result.Display != "" {
		return c.Result.Display
	}
	var parts []string
	for _, fr := range (domain.Message{Parts: c.Result.ResponseParts}).FunctionResponses() {
		if v, ok := fr.Response["output"]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
		if v, ok := fr.Response["error"]; ok {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "\n")
}

// Failed reports whether a snapshot ended in error.
func Failed(c domain.ToolCallSnapshot) bool {
	return c.Status == domain.StatusError
}

func statusIcon(s domain.ToolCallStatus) string {
	switch s {
	case domain.StatusSuccess:
		return theme.SymbolSuccess
	case domain.StatusError:
		return theme.SymbolError
	case domain.StatusCancelled:
		return theme.SymbolWarning
	case domain.StatusAwaitingApproval:
		return "?"
	default:
		return theme.SymbolSpinner
	}
}

func (m *ToolOutputModel) refreshContent() {
	if !m.ready {
		return
	}
	if len(m.calls) == 0 {
		m.Viewport.SetContent(theme.TextMuted.Render("  No tool calls yet"))
		return
	}

	contentWidth := max(m.width-4, 20)

	var sb strings.Builder
	for i, c := range m.calls {
		if i > 0 {
			sb.WriteString("\n" + Divider(m.width-2) + "\n")
		}

		status := lipgloss.NewStyle().
			Foreground(theme.StatusColor(c.Status.IsTerminal(), Failed(c))).
			Render(statusIcon(c.Status) + " " + string(c.Status))
		fmt.Fprintf(&sb, "  %s %s\n", theme.Bold.Render(c.Request.Name), status)
		if c.Request.IsClientInitiated {
			sb.WriteString(theme.Dim.Render("  (run by you)") + "\n")
		}

		if c.Status.IsTerminal() && c.Duration > 0 {
			fmt.Fprintf(&sb, "  %s %s\n",
				theme.TextMuted.Render("Duration:"),
				c.Duration.Round(time.Millisecond).String(),
			)
		}

		result := ResultText(c)
		if result == "" {
			continue
		}
		const maxLines = 10
		lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
		truncated := len(lines) > maxLines
		if truncated {
			lines = append(lines[:maxLines], fmt.Sprintf("%s (%d more lines)", theme.SymbolEllipsis, len(lines)-maxLines))
		}
		sb.WriteString(theme.TextMuted.Render("  Result:") + "\n")
		for _, line := range lines {
			if r := []rune(line); len(r) > contentWidth {
				line = string(r[:contentWidth-1]) + theme.SymbolEllipsis
			}
			sb.WriteString("  " + line + "\n")
		}
		if truncated {
			sb.WriteString(theme.Dim.Render("  (press Enter to view full output)") + "\n")
		}
	}

	m.Viewport.SetContent(sb.String())
}
