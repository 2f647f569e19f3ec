package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"

	"termagent/internal/adapter/tui/theme"
)

// SlashCommand is a command offered by the input menu.
type SlashCommand struct {
	Name  string // with the leading slash
	Usage string
	// Choices completes the first argument.
	Choices []string
}

type menuItem struct {
	insert string
	label  string
	hint   string
	hits   []int
}

const menuRows = 6

// CommandMenu suggests slash commands, ranked by fuzzy match, and the
// values their first argument accepts.
type CommandMenu struct {
	commands []SlashCommand
	names    []string
	items    []menuItem
	cursor   int
	width    int
}

// NewCommandMenu creates a menu over cmds.
func NewCommandMenu(cmds []SlashCommand) CommandMenu {
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = strings.TrimPrefix(c.Name, "/")
	}
	return CommandMenu{commands: cmds, names: names}
}

// SetWidth updates the available width.
func (m *CommandMenu) SetWidth(w int) { m.width = w }

// Visible reports whether there is anything to suggest.
func (m CommandMenu) Visible() bool { return len(m.items) > 0 }

// Close drops the suggestions.
func (m *CommandMenu) Close() {
	m.items = nil
	m.cursor = 0
}

// Filter recomputes the suggestions for the current input.
func (m *CommandMenu) Filter(input string) {
	if !strings.HasPrefix(input, "/") {
		m.Close()
		return
	}
	name, arg, hasArg := strings.Cut(input, " ")
	switch {
	case !hasArg:
		m.items = m.matchCommands(name)
	case !strings.Contains(strings.TrimLeft(arg, " "), " "):
		m.items = m.matchChoices(strings.ToLower(name), strings.TrimLeft(arg, " "))
	default:
		m.items = nil
	}
	if m.cursor >= len(m.items) {
		m.cursor = 0
	}
}

func (m *CommandMenu) matchCommands(name string) []menuItem {
	var items []menuItem
	pattern := strings.TrimPrefix(name, "/")
	if pattern == "" {
		for _, c := range m.commands {
			items = append(items, menuItem{insert: c.Name, label: c.Name, hint: c.Usage})
		}
		return items
	}
	for _, match := range fuzzy.Find(strings.ToLower(pattern), m.names) {
		c := m.commands[match.Index]
		if c.Name == strings.ToLower(name) && len(c.Choices) == 0 {
			// Fully typed, nothing left to complete.
			continue
		}
		hits := make([]int, len(match.MatchedIndexes))
		for i, h := range match.MatchedIndexes {
			hits[i] = h + 1
		}
		items = append(items, menuItem{insert: c.Name, label: c.Name, hint: c.Usage, hits: hits})
	}
	return items
}

func (m *CommandMenu) matchChoices(name, arg string) []menuItem {
	var items []menuItem
	for _, c := range m.commands {
		if c.Name != name {
			continue
		}
		for _, choice := range c.Choices {
			if choice != arg && strings.HasPrefix(choice, strings.ToLower(arg)) {
				hits := make([]int, len(arg))
				for i := range hits {
					hits[i] = i
				}
				items = append(items, menuItem{insert: c.Name + " " + choice, label: choice, hits: hits})
			}
		}
	}
	return items
}

// Move shifts the selection by delta, wrapping at either end.
func (m *CommandMenu) Move(delta int) {
	if n := len(m.items); n > 0 {
		m.cursor = ((m.cursor+delta)%n + n) % n
	}
}

// Accept returns the text for the selected suggestion and closes the menu.
func (m *CommandMenu) Accept() (string, bool) {
	if len(m.items) == 0 {
		return "", false
	}
	text := m.items[m.cursor].insert
	m.Close()
	return text, true
}

// Height is the number of lines View occupies.
func (m CommandMenu) Height() int {
	if !m.Visible() {
		return 0
	}
	return min(len(m.items), menuRows) + 2
}

// View renders the suggestion list.
func (m CommandMenu) View() string {
	if !m.Visible() {
		return ""
	}
	start := max(0, m.cursor-menuRows+1)
	end := min(len(m.items), start+menuRows)

	labelW := 0
	for _, it := range m.items[start:end] {
		labelW = max(labelW, len(it.label))
	}
	hitStyle := lipgloss.NewStyle().Foreground(theme.ColorInfo).Bold(true)
	plain := lipgloss.NewStyle()

	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		it := m.items[i]
		marker := "  "
		if i == m.cursor {
			marker = theme.TextInfo.Render(theme.SymbolArrowR) + " "
		}
		label := lipgloss.StyleRunes(it.label, it.hits, hitStyle, plain)
		row := marker + label + strings.Repeat(" ", labelW-len(it.label))
		if it.hint != "" {
			row += "  " + theme.TextMuted.Render(it.hint)
		}
		rows = append(rows, row)
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1)
	if m.width > 8 {
		style = style.MaxWidth(m.width)
	}
	return style.Render(strings.Join(rows, "\n"))
}
