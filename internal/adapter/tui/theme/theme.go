// Package theme provides a unified visual design system for the TUI.
// All styles use adaptive colors that work on both light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is respected automatically by lipgloss via
// its color profile detection. When set, all color output is suppressed.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// --- Adaptive Color Palette (4-6 primary colors) ---

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	ColorBorder       = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBorderActive = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}

	ColorBgAlt = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
)

// --- Symbol variables (set by InitSymbols in symbols.go) ---
// These default to Unicode glyphs but fall back to ASCII on non-UTF8 terminals.

var (
	SymbolSuccess  = "✓"
	SymbolError    = "✗"
	SymbolWarning  = "⚠"
	SymbolInfo     = "●"
	SymbolSpinner  = "⏳"
	SymbolArrowR   = "→"
	SymbolBullet   = "•"
	SymbolEllipsis = "…"
	SymbolUser     = "You"
	SymbolBot      = "Agent"
	SymbolShell    = "$"
)

// --- Base styles ---

var (
	// Bold labels for role/keyword emphasis. Dim for secondary metadata.
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	// Semantic text styles.
	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// --- Layout styles ---

var (
	// Shell mode input border.
	ShellBorder = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(ColorWarning)
)

// --- Message role styles ---

var (
	UserLabel = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	BotLabel = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SystemLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Bold(true)

	ErrorLabel = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	ToolLabel = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	Timestamp = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Faint(true)
)

// --- Status bar ---

var (
	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)
)

// --- Input area ---

var (
	InputPrompt = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)

	InputPlaceholder = lipgloss.NewStyle().
				Foreground(ColorFgDim)

	ShellPrompt = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)
)

// --- Approval prompt ---

var (
	PromptBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)

	PromptTitle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	PromptChoice = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)
)

// MaxContentWidth is the recommended max width for readable text content.
const MaxContentWidth = 100

// MinSplitWidth is the minimum terminal width that shows the split pane.
const MinSplitWidth = 100

// StatusColor picks the color for a tool call status label.
func StatusColor(terminal, failed bool) lipgloss.TerminalColor {
	switch {
	case failed:
		return ColorError
	case terminal:
		return ColorSuccess
	default:
		return ColorInfo
	}
}
