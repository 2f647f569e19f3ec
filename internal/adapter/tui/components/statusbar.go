package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
)

// KeyHint is one keybinding shown on the left of the status bar.
type KeyHint struct {
	Key  string
	Desc string
}

// StatusBarModel is the bottom line: key hints on the left, then the
// backend, model, approval mode, context use and turn activity.
type StatusBarModel struct {
	Hints     []KeyHint
	AgentName string
	ModelName string
	Mode      string
	// Tokens is the prompt size of the last request, zero when unknown.
	Tokens int
	Limit  int
	Extra  string
	width  int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) { m.width = w }

func (m StatusBarModel) segments() []string {
	var segs []string
	var ident []string
	for _, s := range []string{m.AgentName, m.ModelName} {
		if s != "" {
			ident = append(ident, s)
		}
	}
	if len(ident) > 0 {
		segs = append(segs, theme.TextMuted.Render(strings.Join(ident, " "+theme.SymbolBullet+" ")))
	}
	if m.Mode != "" {
		segs = append(segs, theme.TextWarning.Render(m.Mode))
	}
	if m.Tokens > 0 && m.Limit > 0 {
		style := theme.TextMuted
		if m.Tokens*10 >= m.Limit*8 {
			style = theme.TextWarning
		}
		segs = append(segs, style.Render(ContextUsage(m.Tokens, m.Limit)))
	}
	if m.Extra != "" {
		segs = append(segs, theme.TextInfo.Render(m.Extra))
	}
	return segs
}

// View renders the bar as a single line.
func (m StatusBarModel) View() string {
	hints := make([]string, 0, len(m.Hints))
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+" "+h.Desc)
	}
	left := strings.Join(hints, "  ")
	right := strings.Join(m.segments(), theme.Dim.Render(" | "))

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// ContextUsage formats prompt tokens against the window, e.g. "12% ctx".
func ContextUsage(tokens, limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf("%d%% ctx", tokens*100/limit)
}
