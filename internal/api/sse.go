package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter pushes JSON events over a Server-Sent Events response. Each
// event is one "data:" frame followed by a comment heartbeat so proxies
// flush promptly.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. It returns an
// error when the underlying writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send writes one event frame. Marshal failures are reported as an error
// frame rather than breaking the stream.
func (s *sseWriter) Send(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		data = []byte(`{"type":"progress","message":"event_encoding_error"}`)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	fmt.Fprint(s.w, ":\n\n")
	s.flusher.Flush()
}
