package llm

import (
	"encoding/json"
	"strings"
	"time"

	"termagent/internal/domain"
)

// Ollama native API wire types (/api/chat, /api/show, /api/embed, /api/tags).

type ollamaChatRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	Tools     []ollamaTool    `json:"tools,omitempty"`
	Stream    bool            `json:"stream"`
	Options   *ollamaOptions  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaFunctionDecl `json:"function"`
}

type ollamaFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ollamaChatChunk is both a streamed NDJSON record and the non-streamed body.
type ollamaChatChunk struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (c ollamaChatChunk) usage() domain.Usage {
	return domain.Usage{
		PromptTokens:     c.PromptEvalCount,
		CompletionTokens: c.EvalCount,
		TotalTokens:      c.PromptEvalCount + c.EvalCount,
	}
}

type ollamaShowResponse struct {
	Capabilities []string `json:"capabilities"`
	Details      struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func ollamaFinishReason(doneReason string, hasToolCalls bool) domain.FinishReason {
	if hasToolCalls {
		return domain.FinishToolCalls
	}
	switch doneReason {
	case "", "stop":
		return domain.FinishStop
	case "length":
		return domain.FinishMaxTokens
	default:
		return domain.FinishOther
	}
}

func toOllamaTools(decls []domain.ToolDeclaration) []ollamaTool {
	out := make([]ollamaTool, len(decls))
	for i, d := range decls {
		out[i] = ollamaTool{
			Type: "function",
			Function: ollamaFunctionDecl{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

// toOllamaMessages converts history. In text mode function calls and
// responses are rendered into message text instead of structured fields.
func toOllamaMessages(req domain.GenerationRequest, textMode bool) []ollamaMessage {
	var out []ollamaMessage

	system := req.SystemInstruction
	if textMode {
		system = strings.TrimSpace(system + "\n\n" + toolProtocolPrompt(req.Tools))
	}
	if system != "" {
		out = append(out, ollamaMessage{Role: "system", Content: system})
	}

	for _, m := range req.Contents {
		switch {
		case m.Role == domain.RoleAssistant:
			msg := ollamaMessage{Role: "assistant", Content: m.Text()}
			calls := m.FunctionCalls()
			if textMode {
				msg.Content = withRenderedCalls(msg.Content, calls)
			} else {
				for _, fc := range calls {
					msg.ToolCalls = append(msg.ToolCalls, ollamaToolCall{
						Function: ollamaFunctionCall{Name: fc.Name, Arguments: fc.Args},
					})
				}
			}
			out = append(out, msg)

		case len(m.FunctionResponses()) > 0:
			if textMode {
				out = append(out, ollamaMessage{Role: "user", Content: renderToolResponses(m)})
				continue
			}
			for _, fr := range m.FunctionResponses() {
				out = append(out, ollamaMessage{Role: "tool", Content: responseJSON(fr), ToolName: fr.Name})
			}
			if text := m.Text(); text != "" {
				out = append(out, ollamaMessage{Role: "user", Content: text})
			}

		default:
			out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Text()})
		}
	}
	return out
}

func toOllamaOptions(cfg domain.GenerationConfig, fallbackTemp *float64) *ollamaOptions {
	opts := &ollamaOptions{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		NumPredict:  cfg.MaxOutputTokens,
		Stop:        cfg.Stop,
	}
	if opts.Temperature == nil {
		opts.Temperature = fallbackTemp
	}
	if opts.Temperature == nil && opts.TopP == nil && opts.NumPredict == 0 && len(opts.Stop) == 0 {
		return nil
	}
	return opts
}

func responseJSON(fr domain.FunctionResponse) string {
	data, err := json.Marshal(fr.Response)
	if err != nil {
		return `{"error":"unserialisable tool response"}`
	}
	return string(data)
}
