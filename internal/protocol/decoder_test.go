package protocol_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/protocol"
)

// chunkReader yields the wrapped data in fixed-size reads to exercise
// record reassembly across chunk boundaries.
type chunkReader struct {
	data []byte
	size int
	off  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

func drain(t *testing.T, r io.Reader) []protocol.Event {
	t.Helper()

	dec := protocol.NewDecoder(r)
	var events []protocol.Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

const wellFormedStream = `data: {"type":"agent_start","agent_id":"a1","agent_name":"Researcher"}` + "\n\n" +
	`data: {"type":"chatter","chatter_type":"tool_call","agent_name":"Researcher","tool_name":"web_search","content":"searching"}` + "\n\n" +
	`data: {"type":"content","agent_id":"a1","content":"Hello"}` + "\n\n" +
	`data: {"type":"agent_end","agent_id":"a1"}` + "\n\n" +
	`data: {"type":"done","session_id":"s-42"}` + "\n\n"

func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	t.Parallel()

	want := drain(t, strings.NewReader(wellFormedStream))
	require.Len(t, want, 5)

	// Every chunk size, including single-byte reads, must yield the same
	// ordered event sequence.
	for size := 1; size <= len(wellFormedStream); size++ {
		got := drain(t, &chunkReader{data: []byte(wellFormedStream), size: size})
		require.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDecoderMultipleRecordsPerChunk(t *testing.T) {
	t.Parallel()

	// Entire stream in one read.
	events := drain(t, &chunkReader{data: []byte(wellFormedStream), size: len(wellFormedStream)})

	require.Len(t, events, 5)
	assert.Equal(t, protocol.EventAgentStart, events[0].Type)
	assert.Equal(t, "Researcher", events[0].AgentName)
	assert.Equal(t, protocol.EventChatter, events[1].Type)
	assert.Equal(t, protocol.ChatterToolCall, events[1].ChatterType)
	assert.Equal(t, "web_search", events[1].ToolName)
	assert.Equal(t, protocol.EventContent, events[2].Type)
	assert.Equal(t, "Hello", events[2].Content)
	assert.Equal(t, protocol.EventAgentEnd, events[3].Type)
	assert.Equal(t, protocol.EventDone, events[4].Type)
	assert.Equal(t, "s-42", events[4].SessionID)
}

func TestDecoderSkipsMalformedRecord(t *testing.T) {
	t.Parallel()

	stream := `data: {"type":"content","content":"a"}` + "\n\n" +
		"data: {not json at all\n\n" +
		`data: {"type":"content","content":"b"}` + "\n\n" +
		`data: {"type":"done"}` + "\n\n"

	events := drain(t, strings.NewReader(stream))

	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Content)
	assert.Equal(t, "b", events[1].Content)
	assert.Equal(t, protocol.EventDone, events[2].Type)
}

func TestDecoderDiscardsUnterminatedTrailer(t *testing.T) {
	t.Parallel()

	stream := `data: {"type":"content","content":"kept"}` + "\n\n" +
		`data: {"type":"content","content":"no terminating blank line"}`

	events := drain(t, strings.NewReader(stream))

	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Content)
}

func TestDecoderToleratesCRLFAndComments(t *testing.T) {
	t.Parallel()

	stream := ": keepalive\r\n" +
		"data: {\"type\":\"content\",\"content\":\"x\"}\r\n" +
		"\r\n" +
		"data: {\"type\":\"done\",\"session_id\":\"s1\"}\r\n" +
		"\r\n"

	events := drain(t, strings.NewReader(stream))

	require.Len(t, events, 2)
	assert.Equal(t, "x", events[0].Content)
	assert.Equal(t, "s1", events[1].SessionID)
}

func TestDecoderEmptyStream(t *testing.T) {
	t.Parallel()

	events := drain(t, strings.NewReader(""))
	assert.Empty(t, events)
}

func TestDecoderOptionalChatterFields(t *testing.T) {
	t.Parallel()

	stream := `data: {"type":"chatter","chatter_type":"tool_result","agent_name":"Writer","tool_name":"calc","duration_ms":12.5,"tokens_input":10,"tokens_output":4,"friendly_message":"Crunched the numbers"}` + "\n\n"

	events := drain(t, strings.NewReader(stream))

	require.Len(t, events, 1)
	ev := events[0]
	require.NotNil(t, ev.DurationMS)
	assert.InDelta(t, 12.5, *ev.DurationMS, 0.001)
	require.NotNil(t, ev.TokensInput)
	assert.Equal(t, 10, *ev.TokensInput)
	require.NotNil(t, ev.TokensOutput)
	assert.Equal(t, 4, *ev.TokensOutput)
	assert.Equal(t, "Crunched the numbers", ev.FriendlyMessage)
}
