package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrNotSupported = fmt.Errorf("not supported")
)

// Sentinel errors for the engine.
var (
	// Backend errors.
	ErrBackendUnreachable = fmt.Errorf("backend unreachable")
	ErrBackendProtocol    = fmt.Errorf("backend protocol error")
	ErrStreamDecode       = fmt.Errorf("stream record could not be decoded")
	ErrProviderNotFound   = fmt.Errorf("backend provider not found")
	ErrContextOverflow    = fmt.Errorf("context window exceeded")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrCircuitOpen        = fmt.Errorf("backend circuit open")

	// Tool errors.
	ErrToolNotFound   = fmt.Errorf("tool not found")
	ErrToolValidation = fmt.Errorf("tool arguments invalid")
	ErrToolExecution  = fmt.Errorf("tool execution failed")
	ErrToolRejected   = fmt.Errorf("tool call rejected by user")
	ErrPathOutside    = fmt.Errorf("path is outside sandbox boundary")
	ErrURLBlocked     = fmt.Errorf("url targets a private or disallowed address")

	// Turn errors.
	ErrTurnActive     = fmt.Errorf("a turn is already active")
	ErrUserCancelled  = fmt.Errorf("cancelled by user")
	ErrLoopSuspected  = fmt.Errorf("possible loop detected")
	ErrMaxIterations  = fmt.Errorf("turn reached max continuations")
	ErrConfigLoad     = fmt.Errorf("failed to load configuration")
	ErrCheckpointSave = fmt.Errorf("checkpoint save failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Ollama.GenerateStream")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCancellation reports whether err stems from a user cancellation rather
// than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrUserCancelled) || errors.Is(err, context.Canceled)
}

// ErrorCode is a machine-parseable error category for logs.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeNotSupported       ErrorCode = "NOT_SUPPORTED"
	CodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"
	CodeBackendProtocol    ErrorCode = "BACKEND_PROTOCOL"
	CodeStreamDecode       ErrorCode = "STREAM_DECODE"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolValidation     ErrorCode = "TOOL_VALIDATION"
	CodeToolExecution      ErrorCode = "TOOL_EXECUTION"
	CodeToolRejected       ErrorCode = "TOOL_REJECTED"
	CodePathOutside        ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeURLBlocked         ErrorCode = "URL_BLOCKED"
	CodeTurnActive         ErrorCode = "TURN_ACTIVE"
	CodeUserCancelled      ErrorCode = "USER_CANCELLED"
	CodeLoopSuspected      ErrorCode = "LOOP_SUSPECTED"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeCheckpointSave     ErrorCode = "CHECKPOINT_SAVE"
)

// errorCodeOrder lists sentinels most specific first so that an error
// wrapping several (e.g. protocol + rate limit) resolves deterministically.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrContextOverflow, CodeContextOverflow},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrBackendUnreachable, CodeBackendUnreachable},
	{ErrBackendProtocol, CodeBackendProtocol},
	{ErrStreamDecode, CodeStreamDecode},
	{ErrProviderNotFound, CodeProviderNotFound},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrToolValidation, CodeToolValidation},
	{ErrToolExecution, CodeToolExecution},
	{ErrToolRejected, CodeToolRejected},
	{ErrPathOutside, CodePathOutside},
	{ErrURLBlocked, CodeURLBlocked},
	{ErrTurnActive, CodeTurnActive},
	{ErrUserCancelled, CodeUserCancelled},
	{ErrLoopSuspected, CodeLoopSuspected},
	{ErrMaxIterations, CodeMaxIterations},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrCheckpointSave, CodeCheckpointSave},
	{ErrNotFound, CodeNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrNotSupported, CodeNotSupported},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
