package event

import "github.com/rudnitski/HealthUp-sub005/internal/model/query"

// Outbound event types, in the relative order the protocol requires:
// session_start once, then per turn message_start, interleaved
// text/tool_start/tool_complete/status, at most one result or error, message_end.
const (
	TypeSessionStart = "session_start"
	TypeMessageStart = "message_start"
	TypeText         = "text"
	TypeToolStart    = "tool_start"
	TypeToolComplete = "tool_complete"
	TypeStatus       = "status"
	TypePlotResult   = "plot_result"
	TypeTableResult  = "table_result"
	TypeError        = "error"
	TypeMessageEnd   = "message_end"
)

// Event is one unit of the streaming protocol. Fields beyond Type are filled
// per type and omitted otherwise; the transport treats them as opaque.
type Event struct {
	Type       string           `json:"type"`
	SessionID  string           `json:"sessionId,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	Content    string           `json:"content,omitempty"`
	Tool       string           `json:"tool,omitempty"`
	Params     map[string]any   `json:"params,omitempty"`
	Status     string           `json:"status,omitempty"`
	Message    string           `json:"message,omitempty"`
	Rows       []map[string]any `json:"rows,omitempty"`
	PlotTitle  string           `json:"plot_title,omitempty"`
	TableTitle string           `json:"table_title,omitempty"`
}

// SessionStart builds the one-time session_start event.
func SessionStart(sessionID string) Event {
	return Event{Type: TypeSessionStart, SessionID: sessionID}
}

// MessageStart opens the event bracket for one assistant message.
func MessageStart(messageID string) Event {
	return Event{Type: TypeMessageStart, MessageID: messageID}
}

// Text carries a chunk of assistant prose.
func Text(messageID, content string) Event {
	return Event{Type: TypeText, MessageID: messageID, Content: content}
}

// ToolStart announces a tool invocation with its parameters.
func ToolStart(tool string, params map[string]any) Event {
	return Event{Type: TypeToolStart, Tool: tool, Params: params}
}

// ToolComplete closes the bracket opened by ToolStart for the same tool.
func ToolComplete(tool string) Event {
	return Event{Type: TypeToolComplete, Tool: tool}
}

// Status narrates loop recovery: validator rejections and tool retries.
func Status(status, message string) Event {
	return Event{Type: TypeStatus, Status: status, Message: message}
}

// PlotResult is the terminal result event for plot-shaped answers.
func PlotResult(messageID string, res query.Result, title string) Event {
	return Event{Type: TypePlotResult, MessageID: messageID, Rows: res.Rows, PlotTitle: title}
}

// TableResult is the terminal result event for table-shaped answers.
func TableResult(messageID string, res query.Result, title string) Event {
	return Event{Type: TypeTableResult, MessageID: messageID, Rows: res.Rows, TableTitle: title}
}

// Error is the single terminal error event of a failed turn.
func Error(messageID, message string) Event {
	return Event{Type: TypeError, MessageID: messageID, Message: message}
}

// MessageEnd seals a message id; no further events may reference it.
func MessageEnd(messageID string) Event {
	return Event{Type: TypeMessageEnd, MessageID: messageID}
}
