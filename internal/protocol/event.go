package protocol

import "encoding/json"

// EventType identifies the kind of a decoded stream record.
type EventType string

const (
	EventContent    EventType = "content"
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"
	EventChatter    EventType = "chatter"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// ChatterType classifies intermediate sub-agent activity notifications.
type ChatterType string

const (
	ChatterThinking   ChatterType = "thinking"
	ChatterToolCall   ChatterType = "tool_call"
	ChatterToolResult ChatterType = "tool_result"
	ChatterDelegation ChatterType = "delegation"
	ChatterContent    ChatterType = "content"
)

// Event is one decoded record from the chat stream. Fields are populated
// per type:
//
//	content:     AgentID, Content (text delta)
//	agent_start: AgentID, AgentName
//	agent_end:   AgentID
//	chatter:     ChatterType, AgentName, Content, plus optional tool and
//	             usage fields
//	error:       Content (message)
//	done:        SessionID when this turn created a new server-side session
type Event struct {
	Type EventType `json:"type"`

	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	ChatterType     ChatterType     `json:"chatter_type,omitempty"`
	ToolName        string          `json:"tool_name,omitempty"`
	ToolArgs        json.RawMessage `json:"tool_args,omitempty"`
	DurationMS      *float64        `json:"duration_ms,omitempty"`
	TokensInput     *int            `json:"tokens_input,omitempty"`
	TokensOutput    *int            `json:"tokens_output,omitempty"`
	FriendlyMessage string          `json:"friendly_message,omitempty"`
}

// Terminal reports whether no further events follow this one on the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
