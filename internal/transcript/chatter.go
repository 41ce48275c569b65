package transcript

import (
	"encoding/json"
	"fmt"

	"github.com/weftlabs/weft/internal/protocol"
)

// ChatterEntry is one sub-agent activity notification, stored raw in
// arrival order. The feed is never reordered or deduplicated.
type ChatterEntry struct {
	Type            protocol.ChatterType
	AgentName       string
	Content         string
	ToolName        string
	ToolArgs        json.RawMessage
	DurationMS      *float64
	TokensInput     *int
	TokensOutput    *int
	FriendlyMessage string
}

// Describe returns a human-readable line for the entry: the server's
// friendly message when present, otherwise a fallback derived from the
// chatter category and tool name.
func (e ChatterEntry) Describe() string {
	if e.FriendlyMessage != "" {
		return e.FriendlyMessage
	}

	switch e.Type {
	case protocol.ChatterThinking:
		return fmt.Sprintf("%s is thinking", e.AgentName)
	case protocol.ChatterToolCall:
		if e.ToolName != "" {
			return fmt.Sprintf("%s is calling %s", e.AgentName, e.ToolName)
		}
		return fmt.Sprintf("%s is calling a tool", e.AgentName)
	case protocol.ChatterToolResult:
		if e.ToolName != "" {
			return fmt.Sprintf("%s got a result from %s", e.AgentName, e.ToolName)
		}
		return fmt.Sprintf("%s got a tool result", e.AgentName)
	case protocol.ChatterDelegation:
		return fmt.Sprintf("delegating to %s", e.AgentName)
	case protocol.ChatterContent:
		return fmt.Sprintf("%s is responding", e.AgentName)
	default:
		return e.AgentName
	}
}
