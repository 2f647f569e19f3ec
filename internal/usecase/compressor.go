package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

const compressSystemPrompt = `You are a conversation summarizer for a coding assistant. Given a conversation history, produce a concise summary that preserves:
- The user's goals and requirements
- Files inspected or changed, and what changed
- Commands run and their important results
- Decisions made and tasks still pending

Output ONLY the summary, no preamble.`

const compressAck = "Got it. Thanks for the additional context!"

// Compressor summarizes older history once a request grows past a share of
// the model's token limit.
type Compressor struct {
	gen        *ContentGenerator
	threshold  float64
	keepRecent int
	tokenLimit int
	logger     *slog.Logger
}

// NewCompressor creates a compressor. tokenLimit is the model context size.
func NewCompressor(gen *ContentGenerator, cfg config.CompressionConfig, tokenLimit int, logger *slog.Logger) *Compressor {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.7
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 6
	}
	return &Compressor{
		gen:        gen,
		threshold:  cfg.Threshold,
		keepRecent: cfg.KeepRecent,
		tokenLimit: tokenLimit,
		logger:     logger,
	}
}

// ShouldCompress reports whether req is above the compression threshold.
func (c *Compressor) ShouldCompress(req domain.GenerationRequest) bool {
	if c.tokenLimit <= 0 {
		return false
	}
	return float64(EstimateTokens(req)) > c.threshold*float64(c.tokenLimit)
}

// Compress summarizes chat when its next request would be too large.
// Returns nil info when nothing was done.
func (c *Compressor) Compress(ctx context.Context, chat *Chat) (*domain.CompressionInfo, error) {
	if !c.ShouldCompress(chat.BuildRequest(c.gen.Model())) {
		return nil, nil
	}
	return c.ForceCompress(ctx, chat)
}

// ForceCompress compresses regardless of size.
func (c *Compressor) ForceCompress(ctx context.Context, chat *Chat) (*domain.CompressionInfo, error) {
	msgs := chat.History()
	cut := splitPoint(msgs, c.keepRecent)
	if cut <= 0 {
		return nil, nil
	}
	before := EstimateTokens(chat.BuildRequest(c.gen.Model()))

	convText := renderTranscript(msgs[:cut])
	if strings.TrimSpace(convText) == "" {
		return nil, nil
	}
	temp := 0.3
	resp, err := c.gen.Generate(ctx, domain.GenerationRequest{
		Model:             c.gen.Model(),
		SystemInstruction: compressSystemPrompt,
		Contents:          []domain.Message{domain.NewTextMessage(domain.RoleUser, convText)},
		Config:            domain.GenerationConfig{Temperature: &temp},
	})
	if err != nil {
		c.logger.Warn("compression failed, continuing without compression", "error", err)
		return nil, domain.WrapOp("compress", err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, nil
	}

	compressed := append([]domain.Message{
		domain.NewTextMessage(domain.RoleUser, "Summary of our earlier conversation:\n\n"+summary),
		domain.NewTextMessage(domain.RoleAssistant, compressAck),
	}, msgs[cut:]...)
	chat.replace(compressed)

	after := EstimateTokens(chat.BuildRequest(c.gen.Model()))
	c.logger.Info("conversation compressed",
		"original_count", len(msgs),
		"kept_recent", len(msgs)-cut,
		"tokens_before", before,
		"tokens_after", after,
	)
	return &domain.CompressionInfo{Before: before, After: after}, nil
}

// splitPoint picks where the summarized prefix ends: at most keepRecent
// messages are kept, and the kept part starts with a plain user message so
// no call is separated from its response.
func splitPoint(msgs []domain.Message, keepRecent int) int {
	for i := max(len(msgs)-keepRecent, 0); i < len(msgs); i++ {
		m := msgs[i]
		if m.Role == domain.RoleUser && len(m.FunctionResponses()) == 0 {
			return i
		}
	}
	return -1
}

func renderTranscript(msgs []domain.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		if text := m.Text(); text != "" {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, text)
		}
		for _, fc := range m.FunctionCalls() {
			fmt.Fprintf(&sb, "%s called %s(%v)\n", m.Role, fc.Name, fc.Args)
		}
		for _, fr := range m.FunctionResponses() {
			fmt.Fprintf(&sb, "result of %s: %v\n", fr.Name, truncateForSummary(fmt.Sprint(fr.Response)))
		}
	}
	return sb.String()
}

func truncateForSummary(s string) string {
	const limit = 2000
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
