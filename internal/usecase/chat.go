package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"termagent/internal/domain"
)

// Chat owns the conversation history of one session. Only the Processor
// appends to it; everyone else reads copies.
type Chat struct {
	mu           sync.RWMutex
	id           string
	history      []domain.Message
	systemPrompt string
	tools        func() []domain.ToolDeclaration
	config       domain.GenerationConfig
	createdAt    time.Time
}

// ChatOptions configures a new Chat.
type ChatOptions struct {
	SystemPrompt string
	// Tools supplies declarations at request build time. Nil means no tools.
	Tools  func() []domain.ToolDeclaration
	Config domain.GenerationConfig
}

// NewChat creates an empty chat with a fresh ULID session id.
func NewChat(opts ChatOptions) *Chat {
	now := time.Now()
	return &Chat{
		id:           newULID(now),
		systemPrompt: opts.SystemPrompt,
		tools:        opts.Tools,
		config:       opts.Config,
		createdAt:    now,
	}
}

func newULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ID returns the session id.
func (c *Chat) ID() string { return c.id }

// History returns a copy of the conversation.
func (c *Chat) History() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Message, len(c.history))
	for i, m := range c.history {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages without copying.
func (c *Chat) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// Clear drops the history and starts a new session id.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.id = newULID(time.Now())
}

func (c *Chat) append(msgs ...domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msgs...)
}

func (c *Chat) replace(msgs []domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append([]domain.Message(nil), msgs...)
}

// BuildRequest assembles a fresh request from the current history. The
// result shares nothing with the chat.
func (c *Chat) BuildRequest(model string) domain.GenerationRequest {
	req := domain.GenerationRequest{
		Model:             model,
		Contents:          c.History(),
		SystemInstruction: c.systemPrompt,
		Config:            c.config,
	}
	if c.tools != nil {
		req.Tools = c.tools()
	}
	return req.Clone()
}
