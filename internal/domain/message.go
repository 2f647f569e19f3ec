package domain

import "strings"

// Role identifies the author of a message.
type Role string

// Role constants for message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind identifies which variant a Part holds.
type PartKind int

const (
	PartText PartKind = iota
	PartFunctionCall
	PartFunctionResponse
)

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse carries the result of a tool call back to the model.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// Part is one element of a message. Exactly one of Text, FunctionCall or
// FunctionResponse is meaningful; Kind reports which.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// Kind returns the variant held by the part.
func (p Part) Kind() PartKind {
	switch {
	case p.FunctionCall != nil:
		return PartFunctionCall
	case p.FunctionResponse != nil:
		return PartFunctionResponse
	default:
		return PartText
	}
}

// TextPart builds a plain text part.
func TextPart(text string) Part { return Part{Text: text} }

// FunctionCallPart builds a function-call part.
func FunctionCallPart(call FunctionCall) Part { return Part{FunctionCall: &call} }

// FunctionResponsePart builds a function-response part.
func FunctionResponsePart(resp FunctionResponse) Part { return Part{FunctionResponse: &resp} }

// Message is a single role-tagged entry in the conversation. The order of
// parts is significant.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextMessage creates a message holding a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{TextPart(text)}}
}

// Text concatenates all non-thought text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind() == PartText && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function-call parts in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function-response parts in order.
func (m Message) FunctionResponses() []FunctionResponse {
	var out []FunctionResponse
	for _, p := range m.Parts {
		if p.FunctionResponse != nil {
			out = append(out, *p.FunctionResponse)
		}
	}
	return out
}

// Clone returns a deep-enough copy: the parts slice and the argument maps are
// copied so that the clone can be rewritten without touching the original.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Parts: make([]Part, len(m.Parts))}
	for i, p := range m.Parts {
		cp := p
		if p.FunctionCall != nil {
			fc := *p.FunctionCall
			fc.Args = cloneMap(fc.Args)
			cp.FunctionCall = &fc
		}
		if p.FunctionResponse != nil {
			fr := *p.FunctionResponse
			fr.Response = cloneMap(fr.Response)
			cp.FunctionResponse = &fr
		}
		out.Parts[i] = cp
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
