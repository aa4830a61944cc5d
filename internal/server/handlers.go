package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/scoring"
	"github.com/jonathan/profile-orchestrator/internal/types"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// generateRequestBody is the optional body for start-generation requests
type generateRequestBody struct {
	EmployeeName string   `json:"employee_name,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// handleStartGeneration queues a generation job for a position and returns
// the task id immediately. 202 Accepted; the caller polls the task endpoints.
func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
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

	t, err := s.orch.Start(r.Context(), req, s.requestAuthor(r))
	if err != nil {
		// An unknown position in a generation request is a caller mistake,
		// not a missing resource.
		var notFound *catalog.ErrPositionNotFound
		if errors.As(err, &notFound) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.typedErrorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"task_id":                    t.ID,
		"status":                     t.Status,
		"estimated_duration_seconds": s.cfg.EstimatedDurationSeconds,
	})
}

// handleTaskStatus reports the current state of one task
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := s.orch.Poll(taskID)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, t)
}

// handleListActiveTasks lists all tasks not yet in a terminal state
func (s *Server) handleListActiveTasks(w http.ResponseWriter, _ *http.Request) {
	active := s.registry.ListActive()
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"tasks": active,
		"count": len(active),
	})
}

// handleTaskResult returns the profile version a completed task produced.
// 409 until the task completes; 404 once the task has been swept.
func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	v, err := s.orch.Result(r.Context(), taskID)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, v)
}

// handleCancelTask requests cancellation of a task. A queued task is reported
// as cancelled immediately; a processing one as cancelling, terminating at the
// next step boundary.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := s.orch.Cancel(taskID)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	state := "cancelling"
	if t.Status.Terminal() {
		state = "cancelled"
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"task_id": t.ID,
		"state":   state,
		"status":  t.Status,
	})
}

// handleAckTask acknowledges a finished task, removing its record
func (s *Server) handleAckTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := s.registry.Delete(taskID); err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// bulkGenerateRequest is the body for bulk dispatch
type bulkGenerateRequest struct {
	PositionIDs []uuid.UUID `json:"position_ids"`
}

// handleBulkGenerate queues one generation task per position and returns the
// per-position outcomes. Jobs drain in the background under the concurrency cap.
func (s *Server) handleBulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req bulkGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.PositionIDs) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "position_ids is required")
		return
	}

	outcomes := s.dispatcher.Dispatch(r.Context(), req.PositionIDs)

	queued := 0
	for _, outcome := range outcomes {
		if outcome.Error == "" {
			queued++
		}
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"items":   outcomes,
		"queued":  queued,
		"skipped": len(outcomes) - queued,
	})
}

// handleBulkStatus aggregates the statuses of the given task ids.
// Query: ?task_ids=<uuid>,<uuid>,...
func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("task_ids")
	if raw == "" {
		s.errorResponse(w, http.StatusBadRequest, "task_ids query parameter is required")
		return
	}

	var taskIDs []uuid.UUID
	for _, part := range splitCommaList(raw) {
		id, err := uuid.Parse(part)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid task ID: %s", part))
			return
		}
		taskIDs = append(taskIDs, id)
	}

	counts := s.dispatcher.AggregateStatus(taskIDs)
	s.jsonResponse(w, http.StatusOK, counts)
}

// versionSummary is the metadata-only view used by the list endpoint
type versionSummary struct {
	ID                uuid.UUID           `json:"id"`
	VersionNumber     int                 `json:"version_number"`
	ValidityScore     float64             `json:"validity_score"`
	CompletenessScore float64             `json:"completeness_score"`
	Type              version.VersionType `json:"type"`
	CreatedBy         string              `json:"created_by"`
	ChangesSummary    string              `json:"changes_summary,omitempty"`
	CreatedAt         string              `json:"created_at"`
	Active            bool                `json:"active"`
}

// handleListVersions lists version metadata for a position, oldest first
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	versions, err := s.store.List(r.Context(), positionID)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	summaries := make([]versionSummary, len(versions))
	for i, v := range versions {
		summaries[i] = versionSummary{
			ID:                v.ID,
			VersionNumber:     v.VersionNumber,
			ValidityScore:     v.ValidityScore,
			CompletenessScore: v.CompletenessScore,
			Type:              v.Type,
			CreatedBy:         v.CreatedBy,
			ChangesSummary:    v.ChangesSummary,
			CreatedAt:         v.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Active:            v.Active,
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"position_id": positionID,
		"versions":    summaries,
		"count":       len(summaries),
	})
}

// handleGetVersion returns one full version by number
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		s.errorResponse(w, http.StatusBadRequest, "Invalid version number")
		return
	}

	v, err := s.store.GetVersion(r.Context(), positionID, number)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, v)
}

// handleDiffVersions computes the structural diff between two versions.
// Query: ?from=<number>&to=<number>
func (s *Server) handleDiffVersions(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	from, err := strconv.Atoi(r.URL.Query().Get("from"))
	if err != nil || from < 1 {
		s.errorResponse(w, http.StatusBadRequest, "Invalid 'from' version number")
		return
	}
	to, err := strconv.Atoi(r.URL.Query().Get("to"))
	if err != nil || to < 1 {
		s.errorResponse(w, http.StatusBadRequest, "Invalid 'to' version number")
		return
	}

	fromVersion, err := s.store.GetVersion(r.Context(), positionID, from)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	toVersion, err := s.store.GetVersion(r.Context(), positionID, to)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, version.Diff(fromVersion, toVersion))
}

// editedVersionRequest is the body for appending a manually edited version
type editedVersionRequest struct {
	Content        *types.ProfileDocument `json:"content"`
	ChangesSummary string                 `json:"changes_summary,omitempty"`
}

// handleAppendEditedVersion appends a new version from manually edited content.
// The content is re-scored so edited versions carry the same quality metrics
// as generated ones.
func (s *Server) handleAppendEditedVersion(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	var req editedVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content == nil {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := s.catalog.ResolvePosition(r.Context(), positionID); err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	contentJSON, err := json.Marshal(req.Content)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid content")
		return
	}
	scored, err := scoring.ParseAndScore(string(contentJSON), s.cfg.CompletenessThreshold)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid profile content: %v", err))
		return
	}

	v, err := s.store.Append(r.Context(), positionID, version.AppendInput{
		Content:           scored.Content,
		ValidityScore:     scored.ValidityScore,
		CompletenessScore: scored.CompletenessScore,
		Type:              version.TypeEdited,
		CreatedBy:         s.requestAuthor(r),
		ChangesSummary:    req.ChangesSummary,
	})
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	log.Printf("[versions] Edited version %d recorded for position %s", v.VersionNumber, positionID)
	s.jsonResponse(w, http.StatusCreated, v)
}

// setActiveRequest is the body for repinning the active version
type setActiveRequest struct {
	VersionNumber int `json:"version_number"`
}

// handleSetActiveVersion repins the active pointer to an existing version
func (s *Server) handleSetActiveVersion(w http.ResponseWriter, r *http.Request) {
	positionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid position ID")
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VersionNumber < 1 {
		s.errorResponse(w, http.StatusBadRequest, "version_number must be >= 1")
		return
	}

	if err := s.store.SetActive(r.Context(), positionID, req.VersionNumber); err != nil {
		s.typedErrorResponse(w, err)
		return
	}

	v, err := s.store.GetActive(r.Context(), positionID)
	if err != nil {
		s.typedErrorResponse(w, err)
		return
	}
	log.Printf("[versions] Active version for position %s set to %d", positionID, req.VersionNumber)
	s.jsonResponse(w, http.StatusOK, v)
}

// requestAuthor identifies who initiated a mutation. Requests carry it in the
// X-Author header; absent that, attribution falls back to "api".
func (s *Server) requestAuthor(r *http.Request) string {
	if author := r.Header.Get("X-Author"); author != "" {
		return author
	}
	return "api"
}

// splitCommaList splits a comma-separated list, dropping empty parts
func splitCommaList(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
