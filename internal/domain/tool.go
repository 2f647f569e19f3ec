package domain

import (
	"context"
	"time"
)

// ToolCallRequest is created when the model (or a local command) asks for a
// tool to run. It is immutable once created.
type ToolCallRequest struct {
	CallID            string         `json:"call_id"`
	Name              string         `json:"name"`
	Args              map[string]any `json:"args"`
	PromptID          string         `json:"prompt_id"`
	IsClientInitiated bool           `json:"is_client_initiated,omitempty"`
}

// ToolCallStatus is the lifecycle state of a tracked tool call.
type ToolCallStatus string

const (
	StatusValidating       ToolCallStatus = "validating"
	StatusScheduled        ToolCallStatus = "scheduled"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusExecuting        ToolCallStatus = "executing"
	StatusSuccess          ToolCallStatus = "success"
	StatusError            ToolCallStatus = "error"
	StatusCancelled        ToolCallStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s ToolCallStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ToolCallResult is the outcome attached to a call once it is terminal.
type ToolCallResult struct {
	CallID        string         `json:"call_id"`
	Status        ToolCallStatus `json:"status"`
	ResponseParts []Part         `json:"response_parts"`
	Err           error          `json:"-"`
	Display       string         `json:"display,omitempty"`
}

// ToolCallSnapshot is a read-only copy of a tracked call for presentation.
type ToolCallSnapshot struct {
	Request   ToolCallRequest
	Status    ToolCallStatus
	Kind      ToolKind
	Result    *ToolCallResult
	Submitted bool
	StartedAt time.Time
	Duration  time.Duration
}

// ToolKind classifies tools by risk.
type ToolKind string

const (
	KindRead    ToolKind = "read"
	KindSearch  ToolKind = "search"
	KindFetch   ToolKind = "fetch"
	KindEdit    ToolKind = "edit"
	KindExecute ToolKind = "execute"
	KindOther   ToolKind = "other"
)

// IsReadOnly reports whether tools of this kind have no side effects.
func (k ToolKind) IsReadOnly() bool {
	return k == KindRead || k == KindSearch || k == KindFetch
}

// ToolOutput is what a tool returns on completion.
type ToolOutput struct {
	// Content is fed back to the model.
	Content string
	// Display is an optional human-oriented rendering.
	Display string
	// IsError marks a failed run whose content explains the failure.
	IsError bool
}

// Tool is the interface every executable tool implements.
type Tool interface {
	Name() string
	Description() string
	Kind() ToolKind
	Declaration() ToolDeclaration
	Execute(ctx context.Context, args map[string]any) (*ToolOutput, error)
}

// PathedTool is implemented by tools that operate on a single file, so the
// engine can offer that file to the checkpoint subsystem.
type PathedTool interface {
	TargetPath(args map[string]any) string
}

// ToolRegistry looks tools up and validates arguments against their schema.
type ToolRegistry interface {
	Get(name string) (Tool, error)
	Declarations() []ToolDeclaration
	ValidateArgs(name string, args map[string]any) error
}

// ApprovalOutcome is the human decision for a call awaiting approval.
type ApprovalOutcome string

const (
	ProceedOnce   ApprovalOutcome = "proceed_once"
	ProceedAlways ApprovalOutcome = "proceed_always"
	Reject        ApprovalOutcome = "reject"
)

// ApprovalRequest is presented to the approval layer.
type ApprovalRequest struct {
	Call    ToolCallRequest
	Kind    ToolKind
	Summary string
}

// ApprovalHandler is the human-in-the-loop collaborator. It blocks until a
// decision arrives or ctx is done.
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalOutcome, error)
}

// Checkpoint is a snapshot offered before an edit-class tool runs.
type Checkpoint struct {
	ID        string
	Call      ToolCallRequest
	FilePath  string
	Content   []byte
	History   []Message
	CreatedAt time.Time
}

// Checkpointer snapshots conversation and file state. Failures must only
// degrade to warnings.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
}
