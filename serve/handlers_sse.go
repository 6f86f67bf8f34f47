package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	warren "github.com/everydev1618/gowarren"
)

// handleSSE streams Server-Sent Events to the client. Each event is one
// `data: <JSON>` frame; the first frame is the init snapshot.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.broker.Subscribe()
	if ch == nil {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}
	defer s.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	writeFrame(w, Frame{
		Type: string(warren.EventInit),
		Payload: InitPayload{
			Status: s.status(),
			Cron:   s.cron.Tasks(),
		},
		Timestamp: time.Now().UTC(),
	})
	flusher.Flush()

	// Heartbeat comments keep intermediaries from closing the connection.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			writeFrame(w, frame)
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
