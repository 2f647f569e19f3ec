package components

import (
	"fmt"
	"sort"
	"strings"

	"termagent/internal/adapter/tui/theme"
	"termagent/internal/domain"
)

// ApprovalPromptModel renders the pending question for a tool call that
// needs a human decision, or a suspected loop.
type ApprovalPromptModel struct {
	width int
}

// NewApprovalPrompt creates the prompt renderer.
func NewApprovalPrompt() ApprovalPromptModel {
	return ApprovalPromptModel{}
}

// SetWidth updates the available width.
func (m *ApprovalPromptModel) SetWidth(w int) {
	m.width = w
}

// ApprovalKeys maps prompt keys to outcomes.
var ApprovalKeys = map[string]domain.ApprovalOutcome{
	"y": domain.ProceedOnce,
	"a": domain.ProceedAlways,
	"n": domain.Reject,
}

// ViewApproval renders the question for req. queued is how many more
// requests are waiting behind it.
func (m ApprovalPromptModel) ViewApproval(req domain.ApprovalRequest, queued int) string {
	var sb strings.Builder
	title := fmt.Sprintf("Allow %s (%s)?", req.Call.Name, req.Kind)
	sb.WriteString(theme.PromptTitle.Render(title))
	if queued > 0 {
		sb.WriteString(theme.TextMuted.Render(fmt.Sprintf("  +%d waiting", queued)))
	}
	sb.WriteString("\n")

	detail := req.Summary
	if detail == "" {
		detail = FormatArgs(req.Call.Args)
	}
	if detail != "" {
		sb.WriteString(clipLines(detail, 12) + "\n")
	}

	sb.WriteString(choice("y", "yes, once") + "  " + choice("a", "always for "+req.Call.Name) + "  " + choice("n", "no"))
	return m.box(sb.String())
}

// ViewLoop renders the suspected-loop question.
func (m ApprovalPromptModel) ViewLoop() string {
	body := theme.PromptTitle.Render(theme.SymbolWarning+" The model seems to be repeating itself.") + "\n" +
		"Retry with loop detection off for this session, or stop the turn?\n" +
		choice("y", "retry") + "  " + choice("n", "stop")
	return m.box(body)
}

func (m ApprovalPromptModel) box(body string) string {
	style := theme.PromptBox
	if m.width > 4 {
		style = style.Width(min(m.width-2, theme.MaxContentWidth))
	}
	return style.Render(body)
}

func choice(key, desc string) string {
	return theme.PromptChoice.Render("["+key+"]") + " " + desc
}

// FormatArgs renders call arguments one per line in key order.
func FormatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, args[k]))
	}
	return strings.Join(lines, "\n")
}
