package transcript

import (
	"strings"
	"time"

	"github.com/weftlabs/weft/internal/protocol"
)

// State tracks the lifecycle of an in-flight turn.
type State string

const (
	StateStreaming State = "streaming"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Message is a finalized chat message, the frozen form of a turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Failed    bool      `json:"failed,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AgentResponse is one named sub-agent's accumulated text for the turn.
type AgentResponse struct {
	AgentID   string
	AgentName string
	Content   string
}

// Transcript accumulates one in-flight turn: the chatter feed, per-agent
// response buffers and the aggregate content body. It is created when a
// turn starts and frozen when a terminal event arrives; Apply is a no-op
// after that. Not safe for concurrent use; the turn owner serializes
// access.
type Transcript struct {
	chatter   []ChatterEntry
	agents    []*agentBuffer
	current   *agentBuffer
	aggregate strings.Builder
	state     State
	errMsg    string
	sessionID string
	startedAt time.Time
}

type agentBuffer struct {
	id   string
	name string
	buf  strings.Builder
}

// New creates an empty transcript in the streaming state.
func New() *Transcript {
	return &Transcript{
		state:     StateStreaming,
		startedAt: time.Now(),
	}
}

// Apply folds one protocol event into the transcript.
func (t *Transcript) Apply(ev protocol.Event) {
	if t.state != StateStreaming {
		return
	}

	switch ev.Type {
	case protocol.EventAgentStart:
		ab := &agentBuffer{id: ev.AgentID, name: ev.AgentName}
		t.agents = append(t.agents, ab)
		t.current = ab

	case protocol.EventAgentEnd:
		if t.current != nil && t.current.id == ev.AgentID {
			t.current = nil
		}

	case protocol.EventContent:
		t.aggregate.WriteString(ev.Content)
		if t.current != nil {
			t.current.buf.WriteString(ev.Content)
		}

	case protocol.EventChatter:
		t.chatter = append(t.chatter, ChatterEntry{
			Type:            ev.ChatterType,
			AgentName:       ev.AgentName,
			Content:         ev.Content,
			ToolName:        ev.ToolName,
			ToolArgs:        ev.ToolArgs,
			DurationMS:      ev.DurationMS,
			TokensInput:     ev.TokensInput,
			TokensOutput:    ev.TokensOutput,
			FriendlyMessage: ev.FriendlyMessage,
		})

	case protocol.EventError:
		t.state = StateFailed
		t.errMsg = ev.Content

	case protocol.EventDone:
		t.state = StateDone
		t.sessionID = ev.SessionID
	}
}

// Fail freezes the transcript as failed with the given reason. Used for
// transport failures that never produce an error event. Partial content
// is preserved.
func (t *Transcript) Fail(reason string) {
	if t.state != StateStreaming {
		return
	}
	t.state = StateFailed
	t.errMsg = reason
}

// State returns the turn lifecycle state.
func (t *Transcript) State() State { return t.state }

// ErrMessage returns the failure reason for a failed transcript.
func (t *Transcript) ErrMessage() string { return t.errMsg }

// SessionID returns the server-assigned session id from the done event,
// or "" if none was carried.
func (t *Transcript) SessionID() string { return t.sessionID }

// Aggregate returns the concatenation of all content deltas so far,
// regardless of agent attribution.
func (t *Transcript) Aggregate() string { return t.aggregate.String() }

// Chatter returns the chatter feed in arrival order.
func (t *Transcript) Chatter() []ChatterEntry {
	out := make([]ChatterEntry, len(t.chatter))
	copy(out, t.chatter)
	return out
}

// AgentResponses returns the per-agent buffers in agent start order.
func (t *Transcript) AgentResponses() []AgentResponse {
	out := make([]AgentResponse, 0, len(t.agents))
	for _, ab := range t.agents {
		out = append(out, AgentResponse{
			AgentID:   ab.id,
			AgentName: ab.name,
			Content:   ab.buf.String(),
		})
	}
	return out
}

// Freeze produces the immutable assistant message for this turn. The
// canonical body is the aggregate buffer; a failed turn yields its
// partial content marked as failed. The transcript is superseded by the
// returned message and should be discarded by the caller.
func (t *Transcript) Freeze(id, sessionID string) Message {
	return Message{
		ID:        id,
		SessionID: sessionID,
		Role:      RoleAssistant,
		Content:   t.aggregate.String(),
		Timestamp: time.Now(),
		Failed:    t.state == StateFailed,
	}
}
