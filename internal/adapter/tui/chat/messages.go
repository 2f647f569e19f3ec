// Package chat is the interactive terminal front end: a Bubble Tea program
// that renders turn progress and answers approval and loop questions.
package chat

import (
	"termagent/internal/domain"
	"termagent/internal/usecase"
)

// StateMsg carries a processor state change.
type StateMsg struct {
	State usecase.State
}

// TextMsg carries a markdown-safe piece of assistant text.
type TextMsg struct {
	Text string
}

// EventMsg carries a non-text stream event.
type EventMsg struct {
	Event domain.StreamEvent
}

// ToolUpdateMsg carries the latest snapshot of a tool call.
type ToolUpdateMsg struct {
	Snapshot domain.ToolCallSnapshot
}

// ApprovalRequestMsg asks the user about a tool call. Exactly one outcome
// is sent on Reply.
type ApprovalRequestMsg struct {
	Req   domain.ApprovalRequest
	Reply chan<- domain.ApprovalOutcome
}

// LoopPromptMsg asks the user whether to retry after a suspected loop.
type LoopPromptMsg struct {
	Reply chan<- domain.LoopDecision
}

// TurnDoneMsg signals that Submit returned.
type TurnDoneMsg struct {
	Outcome *usecase.Outcome
	Err     error
}

// ClientToolDoneMsg signals that a user-initiated tool call finished.
type ClientToolDoneMsg struct {
	Batch *usecase.BatchResult
	Err   error
}

// CompressDoneMsg signals that a manual /compress finished.
type CompressDoneMsg struct {
	Info *domain.CompressionInfo
	Err  error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
