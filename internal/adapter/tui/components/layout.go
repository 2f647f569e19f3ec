package components

import (
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
)

// Focus names the pane that receives scroll keys.
type Focus int

const (
	FocusChat Focus = iota
	FocusTools
)

// Layout divides the content area between the transcript and the tool
// pane on its right.
type Layout struct {
	ShowTools bool
	Focus     Focus
	width     int
	height    int
}

// Resize records the content area. The tool pane closes on terminals too
// narrow to hold both panes.
func (l *Layout) Resize(w, h int) {
	l.width, l.height = w, h
	if !l.fits() {
		l.ShowTools = false
		l.Focus = FocusChat
	}
}

func (l Layout) fits() bool { return l.width >= theme.MinSplitWidth }

// ToggleTools opens or closes the tool pane. Focus returns to the chat.
func (l *Layout) ToggleTools() {
	if !l.ShowTools && !l.fits() {
		return
	}
	l.ShowTools = !l.ShowTools
	l.Focus = FocusChat
}

// CycleFocus moves focus to the other pane and reports whether it moved.
func (l *Layout) CycleFocus() bool {
	if !l.ShowTools {
		return false
	}
	if l.Focus == FocusChat {
		l.Focus = FocusTools
	} else {
		l.Focus = FocusChat
	}
	return true
}

// ToolsFocused reports whether scroll keys go to the tool pane.
func (l Layout) ToolsFocused() bool { return l.ShowTools && l.Focus == FocusTools }

// ToolsWidth is the tool pane's content width, zero when hidden.
func (l Layout) ToolsWidth() int {
	if !l.ShowTools {
		return 0
	}
	return min(max(l.width*35/100, 32), 64)
}

// ChatWidth is what remains for the transcript.
func (l Layout) ChatWidth() int {
	if !l.ShowTools {
		return l.width
	}
	return l.width - l.ToolsWidth() - 1
}

// Height is the content height shared by both panes.
func (l Layout) Height() int { return l.height }

// Join places the panes side by side, the tool pane behind a left rule
// that lights up while it has focus.
func (l Layout) Join(chat, tools string) string {
	if !l.ShowTools {
		return chat
	}
	rule := theme.ColorBorder
	if l.Focus == FocusTools {
		rule = theme.ColorBorderActive
	}
	pane := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(rule).
		Width(l.ToolsWidth()).
		Height(l.height).
		Render(tools)
	return lipgloss.JoinHorizontal(lipgloss.Top, chat, pane)
}
