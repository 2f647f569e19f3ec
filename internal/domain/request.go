package domain

import "encoding/json"

// ToolDeclaration describes a tool to the model.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// GenerationConfig holds sampling options. Nil pointers mean "backend default".
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
	Stop            []string `json:"stop,omitempty"`
}

// GenerationRequest is the backend-agnostic request. It is built fresh for
// every submission and must not be mutated afterwards; adapters that need to
// rewrite it work on Clone().
type GenerationRequest struct {
	Model             string            `json:"model,omitempty"`
	Contents          []Message         `json:"contents"`
	SystemInstruction string            `json:"system_instruction,omitempty"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
	Config            GenerationConfig  `json:"config"`
}

// Clone returns a copy whose slices can be modified independently.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	out.Contents = make([]Message, len(r.Contents))
	for i, m := range r.Contents {
		out.Contents[i] = m.Clone()
	}
	out.Tools = append([]ToolDeclaration(nil), r.Tools...)
	out.Config.Stop = append([]string(nil), r.Config.Stop...)
	return out
}

// FinishReason explains why the model stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "STOP"
	FinishMaxTokens FinishReason = "MAX_TOKENS"
	FinishToolCalls FinishReason = "TOOL_CALLS"
	FinishOther     FinishReason = "OTHER"
)

// GenerateResponse is a complete, non-streamed model response.
type GenerateResponse struct {
	Model        string       `json:"model"`
	Parts        []Part       `json:"parts"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Text returns the concatenated text of the response.
func (r *GenerateResponse) Text() string {
	return Message{Role: RoleAssistant, Parts: r.Parts}.Text()
}

// EmbedRequest asks the backend for one vector per input.
type EmbedRequest struct {
	Model  string   `json:"model,omitempty"`
	Inputs []string `json:"inputs"`
}
