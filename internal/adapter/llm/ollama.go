package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"termagent/internal/adapter/toolcall"
	"termagent/internal/domain"
	"termagent/internal/infra/config"
	"termagent/internal/infra/tracer"
)

// Compile-time interface assertion.
var _ domain.Backend = (*Ollama)(nil)

// Default Ollama timeouts: short connect (local), long first byte (model loading).
const (
	ollamaDefaultConnTimeout = 5 * time.Second
	ollamaDefaultRespTimeout = 300 * time.Second
)

// Tool modes.
const (
	ToolModeAuto   = "auto"
	ToolModeNative = "native"
	ToolModeText   = "text"
)

// Ollama talks to the native Ollama API. Models that advertise the "tools"
// capability get structured tool calling; others get the text protocol and
// their output is run through the extractor.
type Ollama struct {
	name        string
	model       string
	baseURL     string
	toolMode    string
	keepAlive   string
	temperature *float64
	client      *http.Client
	extractor   *toolcall.Extractor
	logger      *slog.Logger

	mu   sync.Mutex
	caps map[string]bool // model -> native tool support, cached for the session
}

// OllamaModel describes a locally available Ollama model.
type OllamaModel struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// OllamaModelInfo is the subset of /api/show we use.
type OllamaModelInfo struct {
	Capabilities      []string
	Family            string
	ParameterSize     string
	QuantizationLevel string
}

// NewOllama creates the Ollama adapter. A nil extractor gets the default one.
func NewOllama(cfg config.ProviderConfig, extractor *toolcall.Extractor, logger *slog.Logger) *Ollama {
	ollamaCfg := cfg
	if ollamaCfg.ConnTimeout == 0 {
		ollamaCfg.ConnTimeout = ollamaDefaultConnTimeout
	}
	if ollamaCfg.RespTimeout == 0 {
		ollamaCfg.RespTimeout = ollamaDefaultRespTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultOllamaURL
	}
	mode := cfg.ToolMode
	if mode == "" {
		mode = ToolModeAuto
	}
	if extractor == nil {
		extractor = toolcall.New(logger)
	}

	return &Ollama{
		name:        cfg.Name,
		model:       cfg.Model,
		baseURL:     baseURL,
		toolMode:    mode,
		keepAlive:   cfg.KeepAlive,
		temperature: cfg.Temperature,
		client:      NewHTTPClient(ollamaCfg),
		extractor:   extractor,
		logger:      logger,
		caps:        make(map[string]bool),
	}
}

// Name implements domain.Backend.
func (o *Ollama) Name() string { return o.name }

// Model implements domain.Backend.
func (o *Ollama) Model() string { return o.model }

func (o *Ollama) remediation() string {
	return fmt.Sprintf("cannot reach Ollama at %s; start it with `ollama serve` or point base_url / OLLAMA_HOST at a running server", o.baseURL)
}

// SupportsNativeTools reports whether model can take structured tools,
// honouring the configured tool mode. Probe results are cached per model.
func (o *Ollama) SupportsNativeTools(ctx context.Context, model string) (bool, error) {
	switch o.toolMode {
	case ToolModeNative:
		return true, nil
	case ToolModeText:
		return false, nil
	}

	o.mu.Lock()
	native, ok := o.caps[model]
	o.mu.Unlock()
	if ok {
		return native, nil
	}

	info, err := o.Show(ctx, model)
	if err != nil {
		if errors.Is(err, domain.ErrBackendUnreachable) || errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
			return false, err
		}
		// Older servers lack capabilities; fall back to the text protocol.
		o.logger.Warn("ollama capability probe failed, using text tool protocol", "model", model, "error", err)
		info = &OllamaModelInfo{}
	}
	native = slices.Contains(info.Capabilities, "tools")

	o.mu.Lock()
	o.caps[model] = native
	o.mu.Unlock()

	o.logger.Debug("ollama capability probe", "model", model, "native_tools", native, "capabilities", info.Capabilities)
	return native, nil
}

// Show fetches model metadata from /api/show.
func (o *Ollama) Show(ctx context.Context, model string) (*OllamaModelInfo, error) {
	body, err := doJSONRequest(ctx, o.client, http.MethodPost, o.baseURL+"/api/show",
		map[string]string{"model": model}, nil, "Ollama.Show", o.remediation())
	if err != nil {
		return nil, err
	}
	var resp ollamaShowResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("Ollama.Show", err)
	}
	return &OllamaModelInfo{
		Capabilities:      resp.Capabilities,
		Family:            resp.Details.Family,
		ParameterSize:     resp.Details.ParameterSize,
		QuantizationLevel: resp.Details.QuantizationLevel,
	}, nil
}

// buildChat converts req to the wire shape and reports whether the text
// protocol is in use.
func (o *Ollama) buildChat(ctx context.Context, req domain.GenerationRequest, stream bool) (ollamaChatRequest, bool, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	textMode := false
	if len(req.Tools) > 0 {
		native, err := o.SupportsNativeTools(ctx, model)
		if err != nil {
			return ollamaChatRequest{}, false, err
		}
		textMode = !native
	}

	wire := ollamaChatRequest{
		Model:     model,
		Messages:  toOllamaMessages(req, textMode),
		Stream:    stream,
		Options:   toOllamaOptions(req.Config, o.temperature),
		KeepAlive: o.keepAlive,
	}
	if len(req.Tools) > 0 && !textMode {
		wire.Tools = toOllamaTools(req.Tools)
	}
	return wire, textMode, nil
}

// Generate implements domain.Backend.
func (o *Ollama) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerateResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.generate",
		traceAttrs(o.name, req.Model, o.model, len(req.Contents))...)
	defer span.End()

	wire, textMode, err := o.buildChat(ctx, req, false)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.BoolAttr("llm.text_protocol", textMode))

	body, err := doJSONRequest(ctx, o.client, http.MethodPost, o.baseURL+"/api/chat", wire, nil, "Ollama.Generate", o.remediation())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var chunk ollamaChatChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		err = malformed("Ollama.Generate", err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if chunk.Error != "" {
		err := domain.NewDomainError("Ollama.Generate", domain.ErrBackendProtocol, chunk.Error)
		tracer.RecordError(span, err)
		return nil, err
	}

	var parts []domain.Part
	if chunk.Message.Thinking != "" {
		parts = append(parts, domain.Part{Text: chunk.Message.Thinking, Thought: true})
	}
	if chunk.Message.Content != "" {
		parts = append(parts, domain.TextPart(chunk.Message.Content))
	}
	calls := o.collectCalls(chunk.Message, chunk.Message.Content, textMode)
	for _, c := range calls {
		parts = append(parts, domain.FunctionCallPart(domain.FunctionCall{Name: c.Name, Args: c.Args}))
	}

	resp := &domain.GenerateResponse{
		Model:        chunk.Model,
		Parts:        parts,
		FinishReason: ollamaFinishReason(chunk.DoneReason, len(calls) > 0),
		Usage:        chunk.usage(),
	}
	setUsageAttrs(span, resp.Usage)
	tracer.SetOK(span)
	o.logger.Debug("ollama generate completed", "model", resp.Model, "tokens", resp.Usage.TotalTokens, "tool_calls", len(calls))
	return resp, nil
}

// collectCalls returns native tool calls or, in text mode, the calls the
// extractor recovers from the full text.
func (o *Ollama) collectCalls(msg ollamaMessage, fullText string, textMode bool) []toolcall.Call {
	if textMode {
		return o.extractor.Extract(fullText)
	}
	calls := make([]toolcall.Call, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, toolcall.Call{Name: tc.Function.Name, Args: args})
	}
	return calls
}

// GenerateStream implements domain.Backend. The NDJSON record with done=true
// concludes the stream; in text mode extraction runs at that point and the
// recovered calls are emitted just before Finished.
func (o *Ollama) GenerateStream(ctx context.Context, req domain.GenerationRequest) (<-chan domain.StreamEvent, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		traceAttrs(o.name, req.Model, o.model, len(req.Contents))...)

	wire, textMode, err := o.buildChat(ctx, req, true)
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}
	span.SetAttributes(tracer.BoolAttr("llm.text_protocol", textMode))

	resp, err := doStreamRequest(ctx, o.client, o.baseURL+"/api/chat", wire, nil, "Ollama.GenerateStream", o.remediation())
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer span.End()

		var (
			text       strings.Builder
			sentModel  bool
			toolCalls  int
			terminated bool
		)
		emit := func(ev domain.StreamEvent) bool { return sendEvent(ctx, out, ev) }

		readErr := readNDJSON(ctx, resp.Body, o.logger, func(c ollamaChatChunk) bool {
			if c.Error != "" {
				terminated = true
				err := domain.NewDomainError("Ollama.GenerateStream", domain.ErrBackendProtocol, c.Error)
				tracer.RecordError(span, err)
				emit(domain.ErrorEvent(err))
				return false
			}
			if !sentModel && c.Model != "" {
				sentModel = true
				if !emit(domain.ModelInfoEvent(c.Model)) {
					return false
				}
			}
			if c.Message.Thinking != "" && !emit(domain.ThoughtEvent(c.Message.Thinking)) {
				return false
			}
			if c.Message.Content != "" {
				text.WriteString(c.Message.Content)
				if !emit(domain.ContentEvent(c.Message.Content)) {
					return false
				}
			}
			if !textMode {
				for _, call := range o.collectCalls(c.Message, "", false) {
					toolCalls++
					if !emit(domain.ToolCallEvent(domain.ToolCallRequest{Name: call.Name, Args: call.Args})) {
						return false
					}
				}
			}
			if !c.Done {
				return true
			}

			terminated = true
			if textMode {
				for _, call := range o.extractor.Extract(text.String()) {
					toolCalls++
					if !emit(domain.ToolCallEvent(domain.ToolCallRequest{Name: call.Name, Args: call.Args})) {
						return false
					}
				}
			}
			usage := c.usage()
			setUsageAttrs(span, usage)
			tracer.SetOK(span)
			emit(domain.FinishedEvent(ollamaFinishReason(c.DoneReason, toolCalls > 0), &usage))
			return false
		})

		if terminated || ctx.Err() != nil {
			return
		}
		var err error
		switch {
		case errors.Is(readErr, bufio.ErrTooLong):
			err = domain.NewDomainError("Ollama.GenerateStream", domain.ErrBackendProtocol,
				fmt.Sprintf("stream record larger than %d bytes", maxNDJSONLine))
		case readErr != nil:
			err = domain.NewDomainError("Ollama.GenerateStream", domain.ErrBackendUnreachable, "stream interrupted: "+readErr.Error())
		default:
			err = domain.NewDomainError("Ollama.GenerateStream", domain.ErrBackendProtocol, "stream ended without a done record")
		}
		tracer.RecordError(span, err)
		emit(domain.ErrorEvent(err))
	}()
	return out, nil
}

// CountTokens implements domain.Backend. Ollama has no token-count endpoint.
func (o *Ollama) CountTokens(context.Context, domain.GenerationRequest) (int, error) {
	return 0, domain.ErrNotSupported
}

// Embed implements domain.Backend via /api/embed.
func (o *Ollama) Embed(ctx context.Context, req domain.EmbedRequest) ([][]float32, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	body, err := doJSONRequest(ctx, o.client, http.MethodPost, o.baseURL+"/api/embed",
		ollamaEmbedRequest{Model: model, Input: req.Inputs}, nil, "Ollama.Embed", o.remediation())
	if err != nil {
		return nil, err
	}
	var resp ollamaEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("Ollama.Embed", err)
	}
	if len(resp.Embeddings) != len(req.Inputs) {
		return nil, domain.NewDomainError("Ollama.Embed", domain.ErrBackendProtocol,
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Embeddings), len(req.Inputs)))
	}
	return resp.Embeddings, nil
}

// ListModels returns the locally available Ollama models.
func (o *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	body, err := doJSONRequest(ctx, o.client, http.MethodGet, o.baseURL+"/api/tags", nil, nil, "Ollama.ListModels", o.remediation())
	if err != nil {
		return nil, err
	}
	var resp struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed("Ollama.ListModels", err)
	}
	return resp.Models, nil
}

// IsHealthy checks if the Ollama server is reachable.
func (o *Ollama) IsHealthy(ctx context.Context) bool {
	_, err := doJSONRequest(ctx, o.client, http.MethodGet, o.baseURL+"/", nil, nil, "Ollama.IsHealthy", "")
	return err == nil
}

// Warmup loads the configured model so the first real request does not pay
// the load latency.
func (o *Ollama) Warmup(ctx context.Context) error {
	if !o.IsHealthy(ctx) {
		return domain.NewDomainError("Ollama.Warmup", domain.ErrBackendUnreachable, o.remediation())
	}
	o.logger.Info("warming up Ollama model", "model", o.model, "base_url", o.baseURL)

	keepAlive := o.keepAlive
	if keepAlive == "" {
		keepAlive = "5m"
	}
	_, err := doJSONRequest(ctx, o.client, http.MethodPost, o.baseURL+"/api/generate",
		map[string]string{"model": o.model, "keep_alive": keepAlive}, nil, "Ollama.Warmup", o.remediation())
	if err != nil {
		return err
	}
	o.logger.Info("Ollama model warmed up", "model", o.model)
	return nil
}
