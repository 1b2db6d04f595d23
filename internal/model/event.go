package model

import "encoding/json"

// EventType identifies a pipeline event variant.
type EventType string

// Pipeline event variants, emitted in order by the agentic orchestrator.
// A stream terminates after exactly one complete or error event.
const (
	EventProgress   EventType = "progress"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventReasoning  EventType = "reasoning"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// PipelineEvent is one frame of the agentic orchestrator's progress
// stream. Only the fields for the given Type are populated.
type PipelineEvent struct {
	Result  *MatchResult    `json:"result,omitempty"`
	Type    EventType       `json:"type"`
	Message string          `json:"message,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Text    string          `json:"text,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e PipelineEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// ProgressEvent builds a progress frame.
func ProgressEvent(message string) PipelineEvent {
	return PipelineEvent{Type: EventProgress, Message: message}
}

// ToolCallEvent builds a tool_call frame.
func ToolCallEvent(tool string, input json.RawMessage) PipelineEvent {
	return PipelineEvent{Type: EventToolCall, Tool: tool, Input: input}
}

// ToolResultEvent builds a tool_result frame.
func ToolResultEvent(tool string, output json.RawMessage) PipelineEvent {
	return PipelineEvent{Type: EventToolResult, Tool: tool, Output: output}
}

// ReasoningEvent builds a reasoning frame.
func ReasoningEvent(text string) PipelineEvent {
	return PipelineEvent{Type: EventReasoning, Text: text}
}

// CompleteEvent builds the terminal complete frame.
func CompleteEvent(result MatchResult) PipelineEvent {
	return PipelineEvent{Type: EventComplete, Result: &result}
}

// ErrorEvent builds the terminal error frame.
func ErrorEvent(message string) PipelineEvent {
	return PipelineEvent{Type: EventError, Message: message}
}
