package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Scheduler.Validate", ErrToolNotFound, "tool 'foo'")
	want := "Scheduler.Validate: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Processor.Submit", ErrMaxIterations, "")
	want := "Processor.Submit: turn reached max continuations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Ollama.Chat", ErrBackendUnreachable, "start `ollama serve`")
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Error("errors.Is should match ErrBackendUnreachable")
	}
	if errors.Is(err, ErrBackendProtocol) {
		t.Error("unreachable must not be conflated with protocol errors")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewDomainError("Registry.Get", ErrProviderNotFound, "groq"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Registry.Get", de.Op)
	assert.Equal(t, CodeProviderNotFound, de.Code())
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"direct", ErrToolRejected, CodeToolRejected},
		{"wrapped", WrapOp("Tool.Execute", ErrToolExecution), CodeToolExecution},
		{"rate limit beats protocol", fmt.Errorf("%w: %w", ErrBackendProtocol, ErrRateLimit), CodeRateLimit},
		{"unknown", errors.New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation(ErrUserCancelled))
	assert.True(t, IsCancellation(fmt.Errorf("read: %w", context.Canceled)))
	assert.False(t, IsCancellation(ErrToolExecution))
}
