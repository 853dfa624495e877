package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// StreamSink writes records as a JSON-lines or CBOR-sequence stream to an
// io.Writer.
type StreamSink struct {
	w      io.Writer
	format string
}

// NewStreamSink creates a sink writing to w. format is "json" or "cbor".
func NewStreamSink(w io.Writer, format string) (*StreamSink, error) {
	switch format {
	case "", "json":
		format = "json"
	case "cbor":
	default:
		return nil, fmt.Errorf("sink: unknown stream format %q", format)
	}

	return &StreamSink{w: w, format: format}, nil
}

// Persist encodes the record. JSON output carries a trailing newline.
func (s *StreamSink) Persist(_ context.Context, r Record) error {
	if s.format == "cbor" {
		return cbor.NewEncoder(s.w).Encode(r)
	}

	return json.NewEncoder(s.w).Encode(r)
}
