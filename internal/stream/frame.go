// Package stream turns a chunked event-stream response body into frames and
// decodes frame payloads.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"
)

const (
	eventMarker = "event:"
	dataMarker  = "data:"

	readChunkSize = 4096
)

// Frame is one parsed (event type, payload) unit of the stream.
type Frame struct {
	Event   string
	Payload string
}

// FrameReader yields frames from a response body in arrival order.
// The line grammar lives behind this interface so a framed transport can
// replace it without touching the projectors.
type FrameReader interface {
	Frames(r io.Reader) iter.Seq2[Frame, error]
}

// LineReader implements the line-oriented "event:"/"data:" grammar.
// A LineReader holds per-stream state; use a fresh one per response.
type LineReader struct {
	pending []byte

	// candidate is the event type of an "event:" line whose partner line
	// has not been seen yet. It survives chunk boundaries.
	candidate    string
	hasCandidate bool
}

// NewLineReader returns a reader with empty buffers.
func NewLineReader() *LineReader {
	return &LineReader{}
}

// Feed appends a chunk and returns the frames completed by it.
// The unterminated tail stays buffered until a later newline arrives.
func (lr *LineReader) Feed(chunk []byte) []Frame {
	lr.pending = append(lr.pending, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(lr.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSuffix(lr.pending[:idx], []byte{'\r'}))
		lr.pending = lr.pending[idx+1:]

		if f, ok := lr.line(line); ok {
			frames = append(frames, f)
		}
	}

	// Release the consumed prefix once nothing is pending.
	if len(lr.pending) == 0 {
		lr.pending = nil
	}
	return frames
}

// Close discards any partial line that never received a newline.
// Truncated data is never dispatched.
func (lr *LineReader) Close() {
	lr.pending = nil
	lr.candidate = ""
	lr.hasCandidate = false
}

func (lr *LineReader) line(line string) (Frame, bool) {
	if lr.hasCandidate {
		event := lr.candidate
		lr.candidate = ""
		lr.hasCandidate = false

		if strings.HasPrefix(line, dataMarker) {
			return Frame{
				Event:   event,
				Payload: strings.TrimSpace(strings.TrimPrefix(line, dataMarker)),
			}, true
		}
		// Unpaired event line: dropped. The current line may still open
		// the next candidate.
	}

	if strings.HasPrefix(line, eventMarker) {
		event := strings.TrimSpace(strings.TrimPrefix(line, eventMarker))
		if event != "" {
			lr.candidate = event
			lr.hasCandidate = true
		}
	}
	return Frame{}, false
}

// Frames reads r to the end and yields every complete frame.
// A read error other than io.EOF is yielded once and ends the sequence.
func (lr *LineReader) Frames(r io.Reader) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		defer lr.Close()

		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, f := range lr.Feed(buf[:n]) {
					if !yield(f, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
		}
	}
}

// LineGrammar is the FrameReader for the line-oriented grammar.
// Each call to Frames uses its own LineReader.
type LineGrammar struct{}

// Frames implements FrameReader.
func (LineGrammar) Frames(r io.Reader) iter.Seq2[Frame, error] {
	return NewLineReader().Frames(r)
}

var _ FrameReader = LineGrammar{}
