package stub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/protocol"
)

// scriptTurn builds the event sequence for one scripted turn: each agent
// announces itself, emits some chatter, streams its reply in small
// content deltas, and closes. The final done event carries newSessionID
// when this turn created the session.
func scriptTurn(message string, agents []string, newSessionID string) []protocol.Event {
	if len(agents) == 0 {
		agents = []string{"Assistant"}
	}

	var events []protocol.Event
	for i, name := range agents {
		agentID := fmt.Sprintf("agent-%d", i+1)

		events = append(events, protocol.Event{
			Type:      protocol.EventAgentStart,
			AgentID:   agentID,
			AgentName: name,
		})

		events = append(events, protocol.Event{
			Type:        protocol.EventChatter,
			ChatterType: protocol.ChatterThinking,
			AgentName:   name,
			Content:     "Considering the request",
		})

		// The first agent also demonstrates a tool call so chatter
		// rendering paths get exercised against the stub.
		if i == 0 {
			args, _ := json.Marshal(map[string]string{"query": message})
			duration := 12.5
			events = append(events,
				protocol.Event{
					Type:        protocol.EventChatter,
					ChatterType: protocol.ChatterToolCall,
					AgentName:   name,
					ToolName:    "search",
					ToolArgs:    args,
				},
				protocol.Event{
					Type:        protocol.EventChatter,
					ChatterType: protocol.ChatterToolResult,
					AgentName:   name,
					ToolName:    "search",
					DurationMS:  &duration,
				},
			)
		}

		for _, delta := range replyDeltas(name, message) {
			events = append(events, protocol.Event{
				Type:    protocol.EventContent,
				AgentID: agentID,
				Content: delta,
			})
		}

		events = append(events, protocol.Event{
			Type:    protocol.EventAgentEnd,
			AgentID: agentID,
		})
	}

	events = append(events, protocol.Event{
		Type:      protocol.EventDone,
		SessionID: newSessionID,
	})

	return events
}

// replyDeltas splits a canned reply into word-sized chunks so streamed
// rendering looks like real token output.
func replyDeltas(agentName, message string) []string {
	reply := fmt.Sprintf("%s here. Regarding %q: this is a scripted response from the local development backend. ", agentName, firstWords(message, 6))

	words := strings.SplitAfter(reply, " ")
	deltas := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			deltas = append(deltas, w)
		}
	}
	return deltas
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
