package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/weftlabs/weft/internal/protocol"
	"github.com/weftlabs/weft/internal/session"
	"github.com/weftlabs/weft/internal/transcript"
)

// ErrEmptyMessage is returned for a turn with no message text.
var ErrEmptyMessage = errors.New("turn: empty message")

// ErrStreamClosed is returned when the stream ends without a terminal event.
var ErrStreamClosed = errors.New("turn: stream closed before turn completed")

// ErrCancelled is returned after an explicit Turn.Cancel.
var ErrCancelled = errors.New("turn: cancelled")

// AgentError is a protocol-level error event from the backend. It is
// terminal for the turn and never retried here.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "turn: agent error: " + e.Message
}

// Listener observes decoded events as they are applied. Called from the
// turn's drain goroutine; it must not block.
type Listener func(protocol.Event)

// Snapshot is a point-in-time copy of the turn transcript for rendering.
type Snapshot struct {
	State      transcript.State
	Aggregate  string
	Agents     []transcript.AgentResponse
	Chatter    []transcript.ChatterEntry
	ErrMessage string
}

// Turn is one in-flight request/response cycle. Views attach and detach
// listeners freely; the drain goroutine runs to the terminal event (or
// explicit Cancel) regardless.
type Turn struct {
	coord     *session.Coordinator
	pendingID session.PendingID // "" when targeting an existing session
	req       Request
	cancel    context.CancelFunc

	mu        sync.Mutex
	tr        *transcript.Transcript
	listener  Listener
	cancelled bool

	done       chan struct{}
	err        error  // set before done closes
	resolvedID string // set before done closes
}

func newTurn(coord *session.Coordinator, pendingID session.PendingID, req Request, cancel context.CancelFunc) *Turn {
	return &Turn{
		coord:     coord,
		pendingID: pendingID,
		req:       req,
		cancel:    cancel,
		tr:        transcript.New(),
		done:      make(chan struct{}),
	}
}

// drain consumes the stream to its terminal event. It owns the stream
// and the transcript; all transcript mutation happens here, in arrival
// order.
func (t *Turn) drain(stream io.ReadCloser) {
	defer close(t.done)
	defer stream.Close()

	dec := protocol.NewDecoder(stream)
	for {
		ev, err := dec.Next()
		if err != nil {
			t.mu.Lock()
			cancelled := t.cancelled
			t.mu.Unlock()
			switch {
			case cancelled:
				t.fail(ErrCancelled)
			case err == io.EOF:
				t.fail(ErrStreamClosed)
			default:
				t.fail(fmt.Errorf("turn: %w", err))
			}
			return
		}

		t.mu.Lock()
		t.tr.Apply(ev)
		listener := t.listener
		t.mu.Unlock()

		if listener != nil {
			listener(ev)
		}

		switch ev.Type {
		case protocol.EventDone:
			t.finalize(ev)
			return
		case protocol.EventError:
			t.fail(&AgentError{Message: ev.Content})
			return
		}
	}
}

// finalize freezes the transcript and resolves session identity. For a
// new-session turn the done event's session id binds the pending id; the
// finalized user and assistant messages ride along so the chat view can
// render the resolved session without a refetch.
func (t *Turn) finalize(ev protocol.Event) {
	realID := ev.SessionID
	if realID == "" {
		realID = t.req.SessionID
	}

	t.mu.Lock()
	now := time.Now()
	msgs := []transcript.Message{
		{
			ID:        uuid.NewString(),
			SessionID: realID,
			Role:      transcript.RoleUser,
			Content:   t.req.Message,
			Timestamp: now,
		},
		t.tr.Freeze(uuid.NewString(), realID),
	}
	t.resolvedID = realID
	t.mu.Unlock()

	if t.pendingID != "" {
		if ev.SessionID != "" {
			t.coord.Resolve(t.pendingID, ev.SessionID, msgs)
		} else {
			// A new-session turn whose done event carried no id cannot
			// resolve; drop the optimistic entry rather than leak it.
			log.Warn().Str("pending_id", t.pendingID.String()).Msg("turn: done event without session id for new session")
			t.coord.Unregister(t.pendingID)
		}
	}
}

// fail freezes the transcript as failed and releases this turn's claim
// on the pending id. Resolve is idempotent against stale ids, but
// unregistering here keeps the registry from growing unboundedly.
func (t *Turn) fail(cause error) {
	t.mu.Lock()
	t.tr.Fail(failReason(cause))
	t.err = cause
	t.mu.Unlock()

	if t.pendingID != "" {
		t.coord.Unregister(t.pendingID)
	}

	if !errors.Is(cause, ErrCancelled) {
		log.Warn().Err(cause).Str("pending_id", t.pendingID.String()).Msg("turn: failed")
	}
}

func failReason(cause error) string {
	var agentErr *AgentError
	if errors.As(cause, &agentErr) {
		return agentErr.Message
	}
	return cause.Error()
}

// SetListener attaches a view callback, replacing any previous one.
// Passing nil detaches; the stream keeps draining either way.
func (t *Turn) SetListener(fn Listener) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

// Detach removes the current listener. Equivalent to SetListener(nil).
func (t *Turn) Detach() {
	t.SetListener(nil)
}

// Cancel aborts the underlying network stream and withdraws the pending
// id. This is the only way a view may stop a turn; unmounting alone
// must not.
func (t *Turn) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()

	t.cancel()

	if t.pendingID != "" {
		t.coord.Unregister(t.pendingID)
	}
}

// Snapshot returns a copy of the transcript state for rendering.
func (t *Turn) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		State:      t.tr.State(),
		Aggregate:  t.tr.Aggregate(),
		Agents:     t.tr.AgentResponses(),
		Chatter:    t.tr.Chatter(),
		ErrMessage: t.tr.ErrMessage(),
	}
}

// Done closes when the turn reaches a terminal state.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes or ctx is cancelled. Waiting is
// observation only; abandoning a Wait does not affect the turn.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.Err()
	}
}

// Err returns the terminal error, or nil for a completed turn. Only
// meaningful after Done is closed.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// SessionID returns the server session id this turn belongs to: the
// requested id for existing sessions, the resolved id for new ones, or
// "" before resolution.
func (t *Turn) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolvedID != "" {
		return t.resolvedID
	}
	return t.req.SessionID
}

// PendingID returns this turn's pending id, if it created one.
func (t *Turn) PendingID() (session.PendingID, bool) {
	return t.pendingID, t.pendingID != ""
}
