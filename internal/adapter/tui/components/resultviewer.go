package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
	"termagent/internal/domain"
)

type viewerKeyMap struct {
	Close  key.Binding
	Down   key.Binding
	Up     key.Binding
	Top    key.Binding
	Bottom key.Binding
}

var viewerKeys = viewerKeyMap{
	Close:  key.NewBinding(key.WithKeys("esc", "q"), key.WithHelp("esc/q", "close")),
	Down:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "scroll")),
	Up:     key.NewBinding(key.WithKeys("k", "up")),
	Top:    key.NewBinding(key.WithKeys("g", "home"), key.WithHelp("g/G", "top/bottom")),
	Bottom: key.NewBinding(key.WithKeys("G", "end")),
}

// ResultViewer shows one tool call full screen: its arguments and the
// complete output the pane had to clip.
type ResultViewer struct {
	vp     viewport.Model
	call   domain.ToolCallSnapshot
	open   bool
	width  int
	height int
}

// NewResultViewer creates a closed viewer.
func NewResultViewer() ResultViewer {
	return ResultViewer{width: 80, height: 24}
}

// Open reports whether the viewer is showing.
func (v ResultViewer) Open() bool { return v.open }

// Show opens the viewer on snap.
func (v *ResultViewer) Show(snap domain.ToolCallSnapshot) {
	v.call = snap
	v.open = true
	v.vp = viewport.New(v.innerWidth(), v.innerHeight())
	v.vp.MouseWheelEnabled = true
	v.vp.SetContent(v.body())
}

// Hide closes the viewer.
func (v *ResultViewer) Hide() { v.open = false }

// Resize fits the viewer to the terminal.
func (v *ResultViewer) Resize(w, h int) {
	v.width, v.height = w, h
	if v.open {
		v.vp.Width = v.innerWidth()
		v.vp.Height = v.innerHeight()
		v.vp.SetContent(v.body())
	}
}

func (v ResultViewer) innerWidth() int  { return max(v.width-4, 20) }
func (v ResultViewer) innerHeight() int { return max(v.height-5, 3) }

// Update handles scrolling and closing.
func (v ResultViewer) Update(msg tea.Msg) (ResultViewer, tea.Cmd) {
	if !v.open {
		return v, nil
	}
	if k, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(k, viewerKeys.Close):
			v.Hide()
		case key.Matches(k, viewerKeys.Down):
			v.vp.LineDown(3)
		case key.Matches(k, viewerKeys.Up):
			v.vp.LineUp(3)
		case key.Matches(k, viewerKeys.Top):
			v.vp.GotoTop()
		case key.Matches(k, viewerKeys.Bottom):
			v.vp.GotoBottom()
		default:
			var cmd tea.Cmd
			v.vp, cmd = v.vp.Update(msg)
			return v, cmd
		}
		return v, nil
	}
	var cmd tea.Cmd
	v.vp, cmd = v.vp.Update(msg)
	return v, cmd
}

func (v ResultViewer) body() string {
	c := v.call
	w := v.innerWidth()
	var sb strings.Builder

	status := lipgloss.NewStyle().
		Foreground(theme.StatusColor(c.Status.IsTerminal(), Failed(c))).
		Render(string(c.Status))
	fmt.Fprintf(&sb, "%s %s", theme.TextMuted.Render("Status:"), status)
	if c.Duration > 0 {
		fmt.Fprintf(&sb, "  %s %s", theme.TextMuted.Render("Took:"), c.Duration.Round(time.Millisecond))
	}
	sb.WriteString("\n")
	if c.Request.CallID != "" {
		sb.WriteString(theme.TextMuted.Render("Call:") + " " + c.Request.CallID + "\n")
	}

	if args := FormatArgs(c.Request.Args); args != "" {
		sb.WriteString("\n" + theme.Bold.Render("Arguments") + "\n")
		sb.WriteString(lipgloss.NewStyle().Width(w).Render(args) + "\n")
	}

	sb.WriteString("\n" + theme.Bold.Render("Output") + "\n")
	out := ResultText(c)
	if out == "" {
		out = theme.TextMuted.Render("(no output)")
	}
	sb.WriteString(lipgloss.NewStyle().Width(w).Render(out))
	return sb.String()
}

// View renders the viewer frame.
func (v ResultViewer) View() string {
	if !v.open {
		return ""
	}
	title := theme.Bold.Render(v.call.Request.Name)
	if v.call.Request.IsClientInitiated {
		title += theme.Dim.Render("  run by you")
	}
	help := []string{}
	for _, b := range []key.Binding{viewerKeys.Close, viewerKeys.Down, viewerKeys.Top} {
		h := b.Help()
		help = append(help, theme.StatusKey.Render(h.Key)+" "+h.Desc)
	}
	footer := theme.Dim.Render(strings.Join(help, "  ")) +
		theme.TextMuted.Render(fmt.Sprintf("  %3.0f%%", v.vp.ScrollPercent()*100))

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Width(v.width - 2).
		Height(v.height - 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, v.vp.View(), footer))
}
