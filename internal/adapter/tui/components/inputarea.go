package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/theme"
)

// InputSubmitMsg carries a submitted prompt, slash command or shell line.
type InputSubmitMsg struct {
	Value string
}

const historyLimit = 200

// InputAreaModel is the prompt editor. Enter submits, Alt+Enter breaks the
// line, Up and Down walk earlier prompts while the editor holds at most one
// line. A leading "/" opens the command menu and a leading "!" switches to
// shell mode.
type InputAreaModel struct {
	Textarea textarea.Model
	Menu     CommandMenu
	Enabled  bool

	history []string
	// recall indexes history while browsing; len(history) means the draft.
	recall int
	draft  string
}

// NewInputArea creates the editor with the given slash commands.
func NewInputArea(cmds []SlashCommand) InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Ask something, /help for commands, !cmd for shell"
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{Textarea: ta, Menu: NewCommandMenu(cmds), Enabled: true}
}

// SetWidth updates the editor width.
func (m *InputAreaModel) SetWidth(w int) {
	m.Textarea.SetWidth(w - 2)
	m.Menu.SetWidth(w)
}

// SetEnabled focuses or blurs the editor.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
		m.Menu.Close()
	}
}

// Value returns the current text.
func (m InputAreaModel) Value() string { return m.Textarea.Value() }

// IsShellMode reports whether the input is a "!" shell command.
func (m InputAreaModel) IsShellMode() bool {
	return strings.HasPrefix(m.Textarea.Value(), "!")
}

// History returns submitted entries, oldest first.
func (m InputAreaModel) History() []string { return m.history }

// ParseShellCommand extracts the command line from "!cmd" input.
func ParseShellCommand(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "!") {
		return "", false
	}
	cmd := strings.TrimSpace(input[1:])
	return cmd, cmd != ""
}

// ParseSlashCommand splits "/name args..." into a lower-cased name and args.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles editing keys.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if k, ok := msg.(tea.KeyMsg); ok {
		if m.Menu.Visible() {
			if handled := m.menuKey(k); handled {
				return m, nil
			}
		}
		switch k.Type {
		case tea.KeyEnter:
			if k.Alt {
				break
			}
			return m.submit()
		case tea.KeyUp:
			if m.Textarea.LineCount() <= 1 && m.recallPrev() {
				return m, nil
			}
		case tea.KeyDown:
			if m.Textarea.LineCount() <= 1 && m.recallNext() {
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	m.Menu.Filter(m.Textarea.Value())
	return m, cmd
}

func (m *InputAreaModel) menuKey(k tea.KeyMsg) bool {
	switch k.Type {
	case tea.KeyTab, tea.KeyDown:
		m.Menu.Move(1)
	case tea.KeyShiftTab, tea.KeyUp:
		m.Menu.Move(-1)
	case tea.KeyEnter:
		if text, ok := m.Menu.Accept(); ok {
			m.Textarea.SetValue(text + " ")
			m.Textarea.CursorEnd()
		}
	case tea.KeyEsc:
		m.Menu.Close()
	default:
		return false
	}
	return true
}

func (m InputAreaModel) submit() (InputAreaModel, tea.Cmd) {
	value := strings.TrimSpace(m.Textarea.Value())
	if value == "" || value == "!" {
		return m, nil
	}
	if n := len(m.history); n == 0 || m.history[n-1] != value {
		m.history = append(m.history, value)
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
	}
	m.recall = len(m.history)
	m.draft = ""
	m.Textarea.Reset()
	m.Menu.Close()
	return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
}

func (m *InputAreaModel) recallPrev() bool {
	if m.recall > len(m.history) {
		m.recall = len(m.history)
	}
	if m.recall == 0 {
		return false
	}
	if m.recall == len(m.history) {
		m.draft = m.Textarea.Value()
	}
	m.recall--
	m.setText(m.history[m.recall])
	return true
}

func (m *InputAreaModel) recallNext() bool {
	if m.recall >= len(m.history) {
		return false
	}
	m.recall++
	if m.recall == len(m.history) {
		m.setText(m.draft)
	} else {
		m.setText(m.history[m.recall])
	}
	return true
}

func (m *InputAreaModel) setText(s string) {
	m.Textarea.SetValue(s)
	m.Textarea.CursorEnd()
	m.Menu.Close()
}

// View renders the editor with the command menu above it.
func (m InputAreaModel) View() string {
	ta := m.Textarea.View()
	if m.IsShellMode() {
		ta = theme.ShellBorder.Render(theme.ShellPrompt.Render("shell mode") + "\n" + ta)
	}
	if m.Menu.Visible() {
		return m.Menu.View() + "\n" + ta
	}
	return ta
}
