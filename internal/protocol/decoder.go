package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

const dataPrefix = "data:"

// readBufSize is the size of the chunk read buffer. Records larger than
// this simply span multiple reads; the value only affects syscall count.
const readBufSize = 16 * 1024

// Decoder incrementally parses the chat wire format from a byte stream:
// records framed as "data: <json>" payload lines terminated by a blank
// line. The decoder tolerates records split across reads and multiple
// records arriving in a single read; events are emitted strictly in
// arrival order.
//
// A Decoder is single-use and not safe for concurrent use.
type Decoder struct {
	r       io.Reader
	buf     []byte // unconsumed bytes from the source
	data    []byte // payload lines of the record being assembled
	readBuf []byte
	eof     bool
}

// NewDecoder wraps a byte stream. The decoder does not close r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       r,
		readBuf: make([]byte, readBufSize),
	}
}

// Next returns the next decoded event. It returns io.EOF when the
// underlying stream ends; a trailing record with no terminating blank
// line is discarded, not emitted. Malformed records are logged and
// skipped. Any other error is a transport read failure.
func (d *Decoder) Next() (Event, error) {
	for {
		line, ok := d.nextLine()
		if !ok {
			if d.eof {
				return Event{}, io.EOF
			}
			if err := d.fill(); err != nil {
				return Event{}, err
			}
			continue
		}

		line = bytes.TrimSuffix(line, []byte("\r"))

		// Blank line terminates the record being assembled.
		if len(line) == 0 {
			if len(d.data) == 0 {
				continue
			}
			payload := d.data
			d.data = nil
			ev, ok := parseRecord(payload)
			if ok {
				return ev, nil
			}
			continue
		}

		if rest, found := bytes.CutPrefix(line, []byte(dataPrefix)); found {
			rest = bytes.TrimPrefix(rest, []byte(" "))
			if len(d.data) > 0 {
				d.data = append(d.data, '\n')
			}
			d.data = append(d.data, rest...)
		}
		// Other SSE fields (event:, id:, retry:, comments) are ignored.
	}
}

// nextLine extracts one newline-terminated line from the buffer.
func (d *Decoder) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := d.buf[:i]
	d.buf = d.buf[i+1:]
	return line, true
}

// fill reads the next chunk from the source into the buffer.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.readBuf)
	if n > 0 {
		d.buf = append(d.buf, d.readBuf[:n]...)
	}
	if err == io.EOF {
		d.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("protocol.Decoder: read: %w", err)
	}
	return nil
}

// parseRecord decodes a complete record payload. A JSON parse failure is
// not fatal to the stream: the record is logged and dropped.
func parseRecord(payload []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Err(err).Int("bytes", len(payload)).Msg("protocol: skipping malformed stream record")
		return Event{}, false
	}
	return ev, true
}
