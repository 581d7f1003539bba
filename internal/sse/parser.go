// Package sse implements the line-oriented "data: <json>" event framing shared by
// the analyzer, the relay endpoint and the progress client.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/kiranshivaraju/platewise/pkg/models"
)

// DataPrefix starts every line that carries an event payload.
const DataPrefix = "data: "

const readChunkSize = 4096

// Frame is one event payload together with whatever could be decoded from it.
// Data holds the exact bytes so the payload can be forwarded without
// re-encoding; Event is zero when the payload is not an object.
type Frame struct {
	Data  json.RawMessage
	Event models.AnalysisEvent
}

// Parser incrementally splits a byte stream into frames. Chunk boundaries need
// not line up with line boundaries; the trailing partial line is held until its
// newline arrives. A Parser belongs to a single transfer and is not safe for
// concurrent use.
type Parser struct {
	pending []byte
	dropped int
	logger  *slog.Logger
}

// NewParser creates a Parser that logs dropped payloads to logger
// (slog.Default when nil).
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Feed consumes the next chunk and returns every frame completed by it, in order.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.pending = append(p.pending, chunk...)

	var frames []Frame
	rest := p.pending
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		if f, ok := p.parseLine(rest[:i]); ok {
			frames = append(frames, f)
		}
		rest = rest[i+1:]
	}

	// Copy the remainder so the consumed prefix can be collected.
	p.pending = append(p.pending[:0:0], rest...)
	return frames
}

// Pending returns the number of buffered bytes that do not yet form a full line.
func (p *Parser) Pending() int { return len(p.pending) }

// Dropped returns how many data lines were not valid JSON so far.
func (p *Parser) Dropped() int { return p.dropped }

func (p *Parser) parseLine(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Frame{}, false
	}
	data := line[len(DataPrefix):]

	if !json.Valid(data) {
		p.dropped++
		p.logger.Warn("dropping malformed event payload", "bytes", len(data))
		return Frame{}, false
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	// Any valid JSON is forwarded; Event only carries what could be read.
	var ev models.AnalysisEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		p.logger.Debug("event payload is not an object", "error", err)
	}
	return Frame{Data: raw, Event: ev}, true
}

// Decoder pulls frames out of an io.Reader. It is consumed exactly once and
// reports io.EOF when the underlying transfer ends, whether or not a terminal
// event was seen. Any other read error is returned as is after the frames that
// preceded it.
type Decoder struct {
	r      io.Reader
	parser *Parser
	chunk  []byte
	queue  []Frame
	err    error
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return &Decoder{
		r:      r,
		parser: NewParser(logger),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (d *Decoder) Next() (Frame, error) {
	for {
		if len(d.queue) > 0 {
			f := d.queue[0]
			d.queue = d.queue[1:]
			return f, nil
		}
		if d.err != nil {
			return Frame{}, d.err
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.queue = d.parser.Feed(d.chunk[:n])
		}
		if err != nil {
			if d.parser.Pending() > 0 {
				d.parser.logger.Debug("discarding unterminated trailing line", "bytes", d.parser.Pending())
			}
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			d.err = err
		}
	}
}

// Dropped returns how many malformed payloads were skipped so far.
func (d *Decoder) Dropped() int { return d.parser.Dropped() }
