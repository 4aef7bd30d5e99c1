package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/pdfsqueeze/internal/types"
)

const defaultStreamInterval = 500 * time.Millisecond

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(code, message string) error {
	return s.WriteEvent("error", types.ErrorDetail{Code: code, Message: message})
}

// WriteComplete sends a completion event carrying the final status
func (s *SSEWriter) WriteComplete(status types.StatusResponse) error {
	return s.WriteEvent("complete", status)
}

// handleStatusStream pushes a status event whenever the job changes and closes with
// complete or error once the job is terminal.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	job, err := s.lookupJob(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, errInternal(err.Error(), nil))
		return
	}

	// The stream lives as long as the job, past the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("could not clear write deadline", "job_id", job.ID, "error", err)
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last types.StatusResponse
	for first := true; ; first = false {
		current := types.NewStatusResponse(job)
		if first || changed(last, current) {
			if err := sse.WriteEvent("status", current); err != nil {
				s.logger.Debug("status stream closed", "job_id", job.ID, "error", err)
				return
			}
			last = current
		}

		switch job.Status {
		case types.JobStatusCompleted:
			sse.WriteComplete(current) //nolint:errcheck
			return
		case types.JobStatusFailed:
			code := job.ErrorCode
			if code == "" {
				code = types.CodeInternalError
			}
			sse.WriteError(code, job.Message) //nolint:errcheck
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		var ok bool
		job, ok = s.store.Get(job.ID)
		if !ok {
			sse.WriteError(types.CodeJobNotFound, "Job not found: "+last.JobID) //nolint:errcheck
			return
		}
	}
}

func changed(a, b types.StatusResponse) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.Message != b.Message
}
