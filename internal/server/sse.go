package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/types"
)

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

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

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
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(taskID, status string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"task_id": taskID,
		"status":  status,
	})
}

// handleStartGenerationStream queues a generation job and streams its progress
// events until the task reaches a terminal status or the client disconnects.
// The job keeps running if the client goes away.
func (s *Server) handleStartGenerationStream(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	var body generateRequestBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	req := types.GenerationRequest{
		PositionID:   positionID,
		EmployeeName: body.EmployeeName,
		Temperature:  body.Temperature,
	}

	// Subscribe before Run so no event is missed
	t, err := s.orch.Prepare(r.Context(), req, s.requestAuthor(r))
	if err != nil {
		var notFound *catalog.ErrPositionNotFound
		if errors.As(err, &notFound) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.typedErrorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		go s.orch.Run(t.ID) // still run the prepared job
		return
	}

	events, unsubscribe := s.orch.Subscribe(t.ID)
	defer unsubscribe()

	go s.orch.Run(t.ID)

	sse.WriteEvent("queued", map[string]any{ //nolint:errcheck
		"task_id":                    t.ID,
		"status":                     t.Status,
		"estimated_duration_seconds": s.cfg.EstimatedDurationSeconds,
	})

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent("progress", event); err != nil {
				return
			}
			if event.Status.Terminal() {
				sse.WriteComplete(event.TaskID.String(), string(event.Status))
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
