package turn_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/bus"
	"github.com/weftlabs/weft/internal/client"
	"github.com/weftlabs/weft/internal/protocol"
	"github.com/weftlabs/weft/internal/session"
	"github.com/weftlabs/weft/internal/transcript"
	"github.com/weftlabs/weft/internal/turn"
)

const waitTimeout = 5 * time.Second

// fakeSubmitter hands out queued streams and honors context
// cancellation by closing the active stream, like a real HTTP client.
type fakeSubmitter struct {
	mu      sync.Mutex
	streams []io.ReadCloser
	err     error
	lastReq client.SendRequest
}

func (f *fakeSubmitter) Send(ctx context.Context, req client.SendRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("fakeSubmitter: no stream queued")
	}
	rc := f.streams[0]
	f.streams = f.streams[1:]

	go func() {
		<-ctx.Done()
		rc.Close()
	}()
	return rc, nil
}

func record(t *testing.T, ev protocol.Event) string {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return fmt.Sprintf("data: %s\n\n", data)
}

func streamOf(t *testing.T, events ...protocol.Event) io.ReadCloser {
	t.Helper()
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString(record(t, ev))
	}
	return io.NopCloser(strings.NewReader(sb.String()))
}

// fixture wires a coordinator to a real refresh bus with a publish counter.
type fixture struct {
	submitter *fakeSubmitter
	coord     *session.Coordinator
	orch      *turn.Orchestrator
	refreshes atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{submitter: &fakeSubmitter{}}
	b := bus.New()
	cancel := b.Subscribe(func() { f.refreshes.Add(1) })
	t.Cleanup(cancel)

	f.coord = session.NewCoordinator(b)
	f.orch = turn.NewOrchestrator(f.submitter, f.coord)
	return f
}

func wait(t *testing.T, tn *turn.Turn) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	err := tn.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "turn did not finish")
	return err
}

func TestScenarioANewSessionResolves(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pr, pw := io.Pipe()
	f.submitter.streams = []io.ReadCloser{pr}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "hello there"})
	require.NoError(t, err)

	pid, ok := tn.PendingID()
	require.True(t, ok)
	assert.True(t, session.IsPendingID(pid.String()))

	// Optimistic slot visible while streaming (set synchronously in Start).
	slot, ok := f.coord.PendingSlot()
	require.True(t, ok)
	assert.Equal(t, pid, slot.ID)
	assert.Equal(t, "hello there", slot.Title)

	afterStart := f.refreshes.Load()

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventContent, Content: "Hi"}))
	require.NoError(t, err)
	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventDone, SessionID: "S9"}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, wait(t, tn))

	// Slot cleared, mapping recorded, exactly one refresh for resolution.
	_, ok = f.coord.PendingSlot()
	assert.False(t, ok)

	realID, ok := f.coord.Lookup(pid)
	require.True(t, ok)
	assert.Equal(t, "S9", realID)
	assert.Equal(t, afterStart+1, f.refreshes.Load())

	assert.Equal(t, "S9", tn.SessionID())
	assert.Equal(t, "Hi", tn.Snapshot().Aggregate)

	// Finalized messages handed off exactly once.
	msgs, ok := f.coord.TakeCachedMessages("S9")
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, transcript.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, transcript.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi", msgs[1].Content)

	_, ok = f.coord.TakeCachedMessages("S9")
	assert.False(t, ok)
}

func TestScenarioBResolutionSurvivesViewTeardown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pr, pw := io.Pipe()
	f.submitter.streams = []io.ReadCloser{pr}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "make me a session"})
	require.NoError(t, err)
	pid, _ := tn.PendingID()

	seen := make(chan protocol.Event, 16)
	tn.SetListener(func(ev protocol.Event) { seen <- ev })

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventContent, Content: "partial"}))
	require.NoError(t, err)

	select {
	case ev := <-seen:
		assert.Equal(t, protocol.EventContent, ev.Type)
	case <-time.After(waitTimeout):
		t.Fatal("listener never saw the content event")
	}

	// The initiating view is torn down mid-stream.
	tn.Detach()

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventDone, SessionID: "S7"}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, wait(t, tn))

	realID, ok := f.coord.Lookup(pid)
	require.True(t, ok, "resolution executed despite teardown")
	assert.Equal(t, "S7", realID)

	_, ok = f.coord.PendingSlot()
	assert.False(t, ok)
}

func TestScenarioCPerAgentBuffersEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.streams = []io.ReadCloser{streamOf(t,
		protocol.Event{Type: protocol.EventAgentStart, AgentID: "a1", AgentName: "Researcher"},
		protocol.Event{Type: protocol.EventContent, AgentID: "a1", Content: "foo"},
		protocol.Event{Type: protocol.EventAgentStart, AgentID: "a2", AgentName: "Writer"},
		protocol.Event{Type: protocol.EventContent, AgentID: "a2", Content: "bar"},
		protocol.Event{Type: protocol.EventDone, SessionID: "S1"},
	)}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "write it up"})
	require.NoError(t, err)
	require.NoError(t, wait(t, tn))

	snap := tn.Snapshot()
	assert.Equal(t, "foobar", snap.Aggregate)
	require.Len(t, snap.Agents, 2)
	assert.Equal(t, "Researcher", snap.Agents[0].AgentName)
	assert.Equal(t, "foo", snap.Agents[0].Content)
	assert.Equal(t, "Writer", snap.Agents[1].AgentName)
	assert.Equal(t, "bar", snap.Agents[1].Content)
}

func TestScenarioDErrorEventFailsTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.streams = []io.ReadCloser{streamOf(t,
		protocol.Event{Type: protocol.EventContent, Content: "part"},
		protocol.Event{Type: protocol.EventError, Content: "boom"},
	)}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "doomed"})
	require.NoError(t, err)
	pid, _ := tn.PendingID()

	err = wait(t, tn)
	var agentErr *turn.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "boom", agentErr.Message)

	snap := tn.Snapshot()
	assert.Equal(t, transcript.StateFailed, snap.State)
	assert.Equal(t, "part", snap.Aggregate, "partial content preserved")
	assert.Equal(t, "boom", snap.ErrMessage)

	// Slot cleared, nothing cached, late resolve is a no-op.
	_, ok := f.coord.PendingSlot()
	assert.False(t, ok)
	f.coord.Resolve(pid, "S1", nil)
	_, ok = f.coord.Lookup(pid)
	assert.False(t, ok)
}

func TestSubmitFailureClearsOptimisticState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.err = errors.New("connection refused")

	_, err := f.orch.Start(context.Background(), turn.Request{Message: "hi"})
	require.Error(t, err)

	_, ok := f.coord.PendingSlot()
	assert.False(t, ok, "failed submission does not leave a phantom session")
}

func TestStreamClosedWithoutDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.streams = []io.ReadCloser{streamOf(t,
		protocol.Event{Type: protocol.EventContent, Content: "trunc"},
	)}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "hi"})
	require.NoError(t, err)

	err = wait(t, tn)
	assert.ErrorIs(t, err, turn.ErrStreamClosed)

	snap := tn.Snapshot()
	assert.Equal(t, transcript.StateFailed, snap.State)
	assert.Equal(t, "trunc", snap.Aggregate)
}

func TestCancelAbortsStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pr, pw := io.Pipe()
	f.submitter.streams = []io.ReadCloser{pr}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "hi"})
	require.NoError(t, err)
	pid, _ := tn.PendingID()

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventContent, Content: "x"}))
	require.NoError(t, err)

	tn.Cancel()

	err = wait(t, tn)
	assert.ErrorIs(t, err, turn.ErrCancelled)

	// Registry entry cleared at cancel time: a late done must not resolve.
	f.coord.Resolve(pid, "S1", nil)
	_, ok := f.coord.Lookup(pid)
	assert.False(t, ok)

	_ = pw.Close()
}

func TestCallerContextDoesNotOwnStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pr, pw := io.Pipe()
	f.submitter.streams = []io.ReadCloser{pr}

	ctx, cancel := context.WithCancel(context.Background())
	tn, err := f.orch.Start(ctx, turn.Request{Message: "hi"})
	require.NoError(t, err)
	pid, _ := tn.PendingID()

	// The view's context dies (navigation); the stream must keep going.
	cancel()

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventDone, SessionID: "S3"}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	require.NoError(t, wait(t, tn))

	realID, ok := f.coord.Lookup(pid)
	require.True(t, ok)
	assert.Equal(t, "S3", realID)
}

func TestExistingSessionTurnSkipsIdentityWork(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.streams = []io.ReadCloser{streamOf(t,
		protocol.Event{Type: protocol.EventContent, Content: "more"},
		protocol.Event{Type: protocol.EventDone},
	)}

	tn, err := f.orch.Start(context.Background(), turn.Request{Message: "again", SessionID: "S5"})
	require.NoError(t, err)

	_, ok := tn.PendingID()
	assert.False(t, ok)
	_, ok = f.coord.PendingSlot()
	assert.False(t, ok, "no optimistic slot for an existing session")

	require.NoError(t, wait(t, tn))
	assert.Equal(t, "S5", tn.SessionID())
	assert.Equal(t, int64(0), f.refreshes.Load())
}

// Two turns against the same existing session are allowed and fully
// independent; neither transcript sees the other's events.
func TestConcurrentTurnsSameSessionIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.submitter.streams = []io.ReadCloser{
		streamOf(t,
			protocol.Event{Type: protocol.EventContent, Content: "first"},
			protocol.Event{Type: protocol.EventDone},
		),
		streamOf(t,
			protocol.Event{Type: protocol.EventContent, Content: "second"},
			protocol.Event{Type: protocol.EventDone},
		),
	}

	t1, err := f.orch.Start(context.Background(), turn.Request{Message: "one", SessionID: "S5"})
	require.NoError(t, err)
	t2, err := f.orch.Start(context.Background(), turn.Request{Message: "two", SessionID: "S5"})
	require.NoError(t, err)

	require.NoError(t, wait(t, t1))
	require.NoError(t, wait(t, t2))

	assert.Equal(t, "first", t1.Snapshot().Aggregate)
	assert.Equal(t, "second", t2.Snapshot().Aggregate)
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Start(context.Background(), turn.Request{})
	assert.ErrorIs(t, err, turn.ErrEmptyMessage)
}

func TestLongTitleTruncated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pr, pw := io.Pipe()
	f.submitter.streams = []io.ReadCloser{pr}

	long := strings.Repeat("a", 80)
	tn, err := f.orch.Start(context.Background(), turn.Request{Message: long})
	require.NoError(t, err)

	slot, ok := f.coord.PendingSlot()
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("a", 50)+"...", slot.Title)

	_, err = io.WriteString(pw, record(t, protocol.Event{Type: protocol.EventDone, SessionID: "S1"}))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, wait(t, tn))
}
