package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"termagent/internal/adapter/toolcall"
	"termagent/internal/domain"
)

// toolProtocolPrompt describes the available tools and the <tool_call>
// convention to a model without native function calling.
func toolProtocolPrompt(tools []domain.ToolDeclaration) string {
	var b strings.Builder
	b.WriteString("# Tools\n\n")
	b.WriteString("You can call the tools below. To call a tool, reply with one block per call, exactly in this form:\n\n")
	b.WriteString("<tool_call>\n{\"name\": \"<tool name>\", \"arguments\": {<arguments as JSON>}}\n</tool_call>\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only the tools listed here, with arguments matching their JSON schema.\n")
	b.WriteString("- You may emit several <tool_call> blocks in one reply; they run before you continue.\n")
	b.WriteString("- After the calls, stop and wait. Results arrive in <tool_response> blocks.\n")
	b.WriteString("- When no tool is needed, answer normally without any <tool_call> block.\n\n")
	b.WriteString("Example:\n<tool_call>\n{\"name\": \"read_file\", \"arguments\": {\"file_path\": \"README.md\"}}\n</tool_call>\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n## %s\n%s\n", t.Name, strings.TrimSpace(t.Description))
		if len(t.Parameters) > 0 {
			fmt.Fprintf(&b, "Parameters schema: %s\n", compactJSON(t.Parameters))
		}
	}
	return b.String()
}

// withRenderedCalls appends <tool_call> markup for calls whose text does not
// already carry it, so the model sees its own earlier calls in the format it
// is asked to use.
func withRenderedCalls(text string, calls []domain.FunctionCall) string {
	if len(calls) == 0 || toolcall.HasToolCalls(text) {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	for _, fc := range calls {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderToolCall(fc))
	}
	return b.String()
}

func renderToolCall(fc domain.FunctionCall) string {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	data, _ := json.Marshal(struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{fc.Name, args})
	return "<tool_call>\n" + string(data) + "\n</tool_call>"
}

// renderToolResponses turns a tool-result message into user text.
func renderToolResponses(m domain.Message) string {
	var b strings.Builder
	for _, fr := range m.FunctionResponses() {
		fmt.Fprintf(&b, "<tool_response name=%q>\n%s\n</tool_response>\n", fr.Name, responseJSON(fr))
	}
	if text := m.Text(); text != "" {
		b.WriteString(text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func compactJSON(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return string(raw)
	}
	return out.String()
}
