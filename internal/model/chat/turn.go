package chat

import "time"

// Turn status values. A turn is mutable while the orchestrator runs it and
// immutable once it reaches a terminal status.
const (
	TurnCompleted = "completed"
	TurnErrored   = "errored"
)

// Turn persists one message of the conversation: either a user message or the
// assistant's full response lifecycle for it, including the tool calls it made.
type Turn struct {
	MessageID   string           `json:"messageId"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Status      string           `json:"status,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// ToolInvocation is one entry of a turn's append-only tool log, kept for
// debugging and for replaying observations back to the model.
type ToolInvocation struct {
	Iteration int           `json:"iteration"`
	Tool      string        `json:"tool"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}
