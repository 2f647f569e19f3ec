package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
	"termagent/internal/infra/tracer"
)

var _ domain.Backend = (*OpenAI)(nil)

// OpenAI implements domain.Backend for any OpenAI-compatible API, including
// llama.cpp, vLLM and Ollama's own /v1 surface.
type OpenAI struct {
	name    string
	model   string
	baseURL string
	client  *openai.Client
	logger  *slog.Logger
}

// NewOpenAI creates the adapter. An empty base URL means api.openai.com.
func NewOpenAI(cfg config.ProviderConfig, logger *slog.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = NewHTTPClient(cfg)

	return &OpenAI{
		name:    cfg.Name,
		model:   cfg.Model,
		baseURL: oc.BaseURL,
		client:  openai.NewClientWithConfig(oc),
		logger:  logger,
	}
}

// Name implements domain.Backend.
func (p *OpenAI) Name() string { return p.name }

// Model implements domain.Backend.
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) remediation() string {
	return fmt.Sprintf("cannot reach %s; check base_url and that the server is running", p.baseURL)
}

// mapError turns a go-openai error into a domain error.
func (p *OpenAI) mapError(ctx context.Context, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.WrapOp(op, mapHTTPError(apiErr.HTTPStatusCode, []byte(apiErr.Message)))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return domain.WrapOp(op, mapHTTPError(reqErr.HTTPStatusCode, []byte(detail)))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return malformed(op, err)
	}
	return classifyTransportError(ctx, op, p.remediation(), err)
}

// isDecodeError reports whether err came from decoding a single chunk. The
// stream reader stays usable after one.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (p *OpenAI) buildRequest(req domain.GenerationRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req),
		MaxTokens: req.Config.MaxOutputTokens,
		Stop:      req.Config.Stop,
	}
	if req.Config.Temperature != nil {
		out.Temperature = float32(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		out.TopP = float32(*req.Config.TopP)
	}
	for _, d := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// toOpenAIMessages maps history onto chat messages. Each function response
// becomes its own role=tool message keyed by the call ID.
func toOpenAIMessages(req domain.GenerationRequest) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.SystemInstruction != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	for _, m := range req.Contents {
		switch {
		case m.Role == domain.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, fc := range m.FunctionCalls() {
				args, _ := json.Marshal(fc.Args)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       fc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: fc.Name, Arguments: string(args)},
				})
			}
			out = append(out, msg)

		case len(m.FunctionResponses()) > 0:
			for _, fr := range m.FunctionResponses() {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    responseJSON(fr),
					Name:       fr.Name,
					ToolCallID: fr.ID,
				})
			}
			if text := m.Text(); text != "" {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}

		default:
			out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Text()})
		}
	}
	return out
}

func openAIFinishReason(r openai.FinishReason) domain.FinishReason {
	switch r {
	case openai.FinishReasonStop:
		return domain.FinishStop
	case openai.FinishReasonLength:
		return domain.FinishMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return domain.FinishToolCalls
	default:
		return domain.FinishOther
	}
}

// decodeArgs parses a tool call's JSON arguments. Unparseable arguments are
// kept under "_raw" so schema validation reports them instead of losing them.
func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

// Generate implements domain.Backend.
func (p *OpenAI) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.generate", traceAttrs(p.name, req.Model, p.model, len(req.Contents))...)
	defer span.End()

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		err = p.mapError(ctx, "OpenAI.Generate", err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := domain.NewDomainError("OpenAI.Generate", domain.ErrBackendProtocol, "response has no choices")
		tracer.RecordError(span, err)
		return nil, err
	}

	choice := resp.Choices[0]
	var parts []domain.Part
	if choice.Message.Content != "" {
		parts = append(parts, domain.TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, domain.FunctionCallPart(domain.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: decodeArgs(tc.Function.Arguments),
		}))
	}
	out := &domain.GenerateResponse{
		Model:        resp.Model,
		Parts:        parts,
		FinishReason: openAIFinishReason(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.FinishReason = domain.FinishToolCalls
	}
	setUsageAttrs(span, out.Usage)
	tracer.SetOK(span)
	return out, nil
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// GenerateStream implements domain.Backend. Tool call fragments are
// accumulated by index and emitted once the model reports a finish reason.
func (p *OpenAI) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream", traceAttrs(p.name, req.Model, p.model, len(req.Contents))...)

	wire := p.buildRequest(req)
	wire.Stream = true
	wire.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, wire)
	if err != nil {
		err = p.mapError(ctx, "OpenAI.GenerateStream", err)
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()
		defer span.End()

		var (
			sentModel bool
			finish    openai.FinishReason
			usage     domain.Usage
			pending   = map[int]*pendingToolCall{}
		)
		emit := func(ev domain.StreamEvent) bool { return sendEvent(ctx, out, ev) }

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if isDecodeError(err) {
					p.logger.Warn("skipping undecodable stream chunk",
						"error", domain.ErrStreamDecode, "cause", err)
					continue
				}
				err = p.mapError(ctx, "OpenAI.GenerateStream", err)
				tracer.RecordError(span, err)
				emit(domain.ErrorEvent(err))
				return
			}

			if !sentModel && resp.Model != "" {
				sentModel = true
				if !emit(domain.ModelInfoEvent(resp.Model)) {
					return
				}
			}
			if resp.Usage != nil {
				usage = domain.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" && !emit(domain.ContentEvent(choice.Delta.Content)) {
					return
				}
				for i, tc := range choice.Delta.ToolCalls {
					idx := i
					if tc.Index != nil {
						idx = *tc.Index
					}
					pc, ok := pending[idx]
					if !ok {
						pc = &pendingToolCall{}
						pending[idx] = pc
					}
					if tc.ID != "" {
						pc.id = tc.ID
					}
					if tc.Function.Name != "" {
						pc.name = tc.Function.Name
					}
					pc.args.WriteString(tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					finish = choice.FinishReason
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		if finish == "" {
			err := domain.NewDomainError("OpenAI.GenerateStream", domain.ErrBackendProtocol, "stream ended without a finish reason")
			tracer.RecordError(span, err)
			emit(domain.ErrorEvent(err))
			return
		}

		indices := make([]int, 0, len(pending))
		for idx := range pending {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			pc := pending[idx]
			if pc.name == "" {
				p.logger.Warn("dropping streamed tool call without a name", "index", idx)
				continue
			}
			if !emit(domain.ToolCallEvent(domain.ToolCallRequest{CallID: pc.id, Name: pc.name, Args: decodeArgs(pc.args.String())})) {
				return
			}
		}

		reason := openAIFinishReason(finish)
		if len(pending) > 0 {
			reason = domain.FinishToolCalls
		}
		setUsageAttrs(span, usage)
		tracer.SetOK(span)
		emit(domain.FinishedEvent(reason, &usage))
	}()
	return out, nil
}

// CountTokens implements domain.Backend. The chat API has no counting endpoint.
func (p *OpenAI) CountTokens(context.Context, domain.GenerationRequest) (int, error) {
	return 0, domain.ErrNotSupported
}

// Embed implements domain.Backend.
func (p *OpenAI) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: req.Inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, p.mapError(ctx, "OpenAI.Embed", err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, domain.NewDomainError("OpenAI.Embed", domain.ErrBackendProtocol,
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(req.Inputs)))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
