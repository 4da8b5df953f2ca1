package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteEvent writes one frame in the line grammar understood by LineReader.
func WriteEvent(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// WriteJSON marshals v and writes it as the data line of one frame.
func WriteJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return WriteEvent(w, event, string(data))
}
