package domain

// EventType identifies the kind of canonical stream event.
type EventType string

const (
	EventContent                   EventType = "content"
	EventThought                   EventType = "thought"
	EventToolCallRequest           EventType = "tool_call_request"
	EventFinished                  EventType = "finished"
	EventError                     EventType = "error"
	EventUserCancelled             EventType = "user_cancelled"
	EventChatCompressed            EventType = "chat_compressed"
	EventLoopDetected              EventType = "loop_detected"
	EventContextWindowWillOverflow EventType = "context_window_will_overflow"
	EventCitation                  EventType = "citation"
	EventModelInfo                 EventType = "model_info"
)

// CompressionInfo is the payload of EventChatCompressed.
type CompressionInfo struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// OverflowInfo is the payload of EventContextWindowWillOverflow.
type OverflowInfo struct {
	Estimated int `json:"estimated"`
	Remaining int `json:"remaining"`
}

// StreamEvent is the backend-agnostic representation of one piece of
// streamed model output. Only the payload field matching Type is set.
type StreamEvent struct {
	Type         EventType
	Text         string // Content, Thought, Citation, ModelInfo
	ToolCall     *ToolCallRequest
	FinishReason FinishReason
	Usage        *Usage
	Err          error
	Compression  *CompressionInfo
	Overflow     *OverflowInfo
}

// IsTerminal reports whether the event ends a stream's meaningful content.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case EventFinished, EventError, EventUserCancelled:
		return true
	}
	return false
}

// ContentEvent builds an EventContent.
func ContentEvent(text string) StreamEvent { return StreamEvent{Type: EventContent, Text: text} }

// ThoughtEvent builds an EventThought.
func ThoughtEvent(summary string) StreamEvent { return StreamEvent{Type: EventThought, Text: summary} }

// ToolCallEvent builds an EventToolCallRequest.
func ToolCallEvent(req ToolCallRequest) StreamEvent {
	return StreamEvent{Type: EventToolCallRequest, ToolCall: &req}
}

// FinishedEvent builds an EventFinished.
func FinishedEvent(reason FinishReason, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventFinished, FinishReason: reason, Usage: usage}
}

// ErrorEvent builds an EventError.
func ErrorEvent(err error) StreamEvent { return StreamEvent{Type: EventError, Err: err} }

// ModelInfoEvent builds an EventModelInfo.
func ModelInfoEvent(model string) StreamEvent { return StreamEvent{Type: EventModelInfo, Text: model} }
