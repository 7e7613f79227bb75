package bus

import (
	"time"

	"github.com/google/uuid"
)

// Type distinguishes the message kinds carried by the bus.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
	TypeCommand  Type = "command"
	TypeStatus   Type = "status"
	TypeError    Type = "error"
)

// Priority orders messages for consumers that care about urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Broadcast is the wildcard channel. Subscribers of it receive every
// message published without a target.
const Broadcast = "*"

// Message is the unit of communication between agents, plugins and
// processors. An empty Target means broadcast. CorrelationID links a
// response or error back to the request it answers.
type Message struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Source        string         `json:"source"`
	Target        string         `json:"target,omitempty"`
	Content       map[string]any `json:"content"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

func newMessage(t Type, source, target string, content map[string]any, prio Priority) *Message {
	if content == nil {
		content = map[string]any{}
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Source:    source,
		Target:    target,
		Content:   content,
		Priority:  prio,
		Timestamp: time.Now(),
	}
}

// NewRequest builds a request message addressed to target.
func NewRequest(source, target string, content map[string]any, prio Priority) *Message {
	return newMessage(TypeRequest, source, target, content, prio)
}

// NewResponse builds the response to a request. The response inherits the
// request's priority and is routed back to the request's source.
func NewResponse(req *Message, source string, content map[string]any) *Message {
	m := newMessage(TypeResponse, source, req.Source, content, req.Priority)
	m.CorrelationID = req.ID
	return m
}

// NewError builds a correlated error reply to a request. Error replies are
// always high priority.
func NewError(req *Message, source, errMsg string, details map[string]any) *Message {
	content := map[string]any{"error": errMsg}
	if details != nil {
		content["details"] = details
	}
	m := newMessage(TypeError, source, req.Source, content, PriorityHigh)
	m.CorrelationID = req.ID
	return m
}

// NewEvent builds a broadcast event. The event type is folded into the
// content under "event_type".
func NewEvent(source, eventType string, payload map[string]any, prio Priority) *Message {
	content := map[string]any{"event_type": eventType}
	for k, v := range payload {
		content[k] = v
	}
	return newMessage(TypeEvent, source, "", content, prio)
}

// NewCommand builds a targeted command message.
func NewCommand(source, target, command string, params map[string]any) *Message {
	return newMessage(TypeCommand, source, target, map[string]any{
		"command": command,
		"params":  params,
	}, PriorityNormal)
}

// NewStatus builds a broadcast status update.
func NewStatus(source, status string, details map[string]any) *Message {
	content := map[string]any{"status": status}
	if details != nil {
		content["details"] = details
	}
	return newMessage(TypeStatus, source, "", content, PriorityLow)
}
