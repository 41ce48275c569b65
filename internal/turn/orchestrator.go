// Package turn drives one chat turn end-to-end: it submits the request,
// owns the response stream for the turn's whole lifetime, folds decoded
// events into the transcript, and hands the server-assigned session id
// to the session coordinator on completion. The stream deliberately does
// not belong to whichever view started the turn: a view torn down by
// navigation mid-stream must not stop a new session from resolving and
// notifying the session list.
package turn

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weftlabs/weft/internal/client"
	"github.com/weftlabs/weft/internal/session"
)

// Submitter opens the network stream for one turn. Satisfied by
// *client.Client.
type Submitter interface {
	Send(ctx context.Context, req client.SendRequest) (io.ReadCloser, error)
}

// Request describes one chat turn. An empty SessionID means "create a
// new session": the orchestrator generates a pending id and publishes an
// optimistic descriptor before the backend has assigned a real id.
type Request struct {
	Message           string
	SessionID         string
	OrchestrationType string
	AgentIDs          []string
}

// Orchestrator starts turns. It is cheap and safe for concurrent use;
// each started Turn is independent.
type Orchestrator struct {
	submitter Submitter
	coord     *session.Coordinator
}

// NewOrchestrator creates an Orchestrator submitting via submitter and
// resolving identity through coord.
func NewOrchestrator(submitter Submitter, coord *session.Coordinator) *Orchestrator {
	return &Orchestrator{
		submitter: submitter,
		coord:     coord,
	}
}

// Start submits the request and begins draining the response stream in
// the background. The returned Turn outlives ctx: cancellation of the
// caller's context does not abort the stream (only Turn.Cancel does),
// but its values still flow to the submission for auth and tracing.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Turn, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("turn.Orchestrator.Start: %w", ErrEmptyMessage)
	}

	var pendingID session.PendingID
	if req.SessionID == "" {
		pendingID = session.NewPendingID()
		o.coord.RegisterPending(pendingID)
		o.coord.SetPendingSlot(session.PendingSession{
			ID:                pendingID,
			Title:             deriveTitle(req.Message),
			OrchestrationType: req.OrchestrationType,
			SelectedAgents:    req.AgentIDs,
			CreatedAt:         time.Now(),
		})
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := o.submitter.Send(streamCtx, client.SendRequest{
		Message:           req.Message,
		SessionID:         req.SessionID,
		OrchestrationType: req.OrchestrationType,
		AgentIDs:          req.AgentIDs,
	})
	if err != nil {
		cancel()
		if pendingID != "" {
			o.coord.Unregister(pendingID)
		}
		return nil, fmt.Errorf("turn.Orchestrator.Start: %w", err)
	}

	t := newTurn(o.coord, pendingID, req, cancel)

	log.Debug().
		Str("pending_id", pendingID.String()).
		Str("session_id", req.SessionID).
		Msg("turn: started")

	go t.drain(stream)

	return t, nil
}

// deriveTitle builds the optimistic session title from the first message,
// matching the backend's own truncation for server-created sessions.
func deriveTitle(message string) string {
	const maxTitle = 50
	runes := []rune(message)
	if len(runes) <= maxTitle {
		return message
	}
	return string(runes[:maxTitle]) + "..."
}
