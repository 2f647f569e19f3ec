// Package toolcall recovers structured tool invocations from free-form model
// text, for backends that cannot return them natively.
package toolcall

import (
	"log/slog"
	"strings"
)

// Call is one recovered invocation.
type Call struct {
	Name string
	Args map[string]any
}

// Result is what a single strategy found.
type Result struct {
	Calls []Call
	// Candidates counts the matches the strategy tried to decode.
	Candidates int
	// Skipped counts candidates that were malformed and ignored.
	Skipped int
}

// Valid reports whether the strategy produced at least one call.
func (r Result) Valid() bool { return len(r.Calls) > 0 }

// Strategy is one encoding the extractor understands.
type Strategy interface {
	Name() string
	Parse(text string) Result
}

// Extractor applies strategies in precedence order; the first one that
// yields a call wins.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New returns an extractor with the default precedence: delimited JSON,
// then fenced or bare JSON, then positional call syntax.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{
		strategies: []Strategy{
			DelimitedJSON{},
			LooseJSON{},
			Positional{},
		},
		logger: logger,
	}
}

// NewWithStrategies builds an extractor with a custom precedence list.
func NewWithStrategies(logger *slog.Logger, strategies ...Strategy) *Extractor {
	e := New(logger)
	e.strategies = strategies
	return e
}

// HasToolCalls is a cheap marker check. When it returns false, Extract
// returns nothing.
func (e *Extractor) HasToolCalls(text string) bool {
	return HasToolCalls(text)
}

// HasToolCalls reports whether text contains anything that could be a tool
// call in one of the understood encodings.
func HasToolCalls(text string) bool {
	if strings.Contains(text, openTag) {
		return true
	}
	if strings.ContainsRune(text, '{') && looksLikeEnvelope(text) {
		return true
	}
	for name := range positionalParams {
		if strings.Contains(text, name+"(") {
			return true
		}
	}
	return false
}

// Extract returns the calls encoded in text, in order of appearance, with
// argument keys normalised.
func (e *Extractor) Extract(text string) []Call {
	if !HasToolCalls(text) {
		return nil
	}
	for _, s := range e.strategies {
		res := s.Parse(text)
		if res.Skipped > 0 {
			e.logger.Debug("tool call candidates skipped",
				"strategy", s.Name(), "candidates", res.Candidates, "skipped", res.Skipped)
		}
		if !res.Valid() {
			continue
		}
		calls := make([]Call, 0, len(res.Calls))
		for _, c := range res.Calls {
			c = Normalize(c)
			if c.Name == "" {
				continue
			}
			calls = append(calls, c)
		}
		if len(calls) > 0 {
			e.logger.Debug("tool calls extracted", "strategy", s.Name(), "count", len(calls))
			return calls
		}
	}
	return nil
}
