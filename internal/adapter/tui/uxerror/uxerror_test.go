package uxerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"termagent/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"wrapped unreachable", domain.NewDomainError("Ollama.GenerateStream", domain.ErrBackendUnreachable, "dial tcp 127.0.0.1:11434"), "Backend Unreachable"},
		{"decode", fmt.Errorf("turn: %w", domain.ErrStreamDecode), "Unexpected Backend Response"},
		{"max rounds", domain.NewDomainError("Processor.Submit", domain.ErrMaxIterations, "stopped"), "Turn Limit Reached"},
		{"raw refused", errors.New("Post http://x: connection refused"), "Connection Failed"},
		{"raw 429", errors.New("status 429"), "Rate Limited"},
		{"fallback", errors.New("something odd"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := Humanize(tt.err)
			assert.Equal(t, tt.title, fe.Title)
			assert.Equal(t, tt.err.Error(), fe.Raw)
		})
	}
}

func TestRender(t *testing.T) {
	out := Humanize(domain.ErrBackendUnreachable).Render()
	assert.Contains(t, out, "Backend Unreachable")
	assert.Contains(t, out, "Suggestions:")
	assert.Contains(t, out, "ollama serve")

	assert.Equal(t, "Unknown Error", Humanize(nil).Title)
}
