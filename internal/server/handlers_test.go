package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/profile-orchestrator/internal/bulk"
	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/config"
	"github.com/jonathan/profile-orchestrator/internal/llm"
	"github.com/jonathan/profile-orchestrator/internal/orchestrator"
	"github.com/jonathan/profile-orchestrator/internal/scoring"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/types"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// stubGenerator returns a fixed document, or a failure when set
type stubGenerator struct {
	failure *llm.GenerationFailure
}

func (g *stubGenerator) Generate(context.Context, llm.GenerateParams) (*scoring.ParsedDocument, *llm.GenerationFailure) {
	if g.failure != nil {
		return nil, g.failure
	}
	return &scoring.ParsedDocument{
		Content: &types.ProfileDocument{
			Summary:          "Keeps the lights on.",
			Responsibilities: []string{"Operate services"},
			Requirements:     []types.Requirement{{Description: "Go experience"}},
			Skills:           []types.Skill{{Name: "Go"}},
			Qualifications:   types.Qualifications{Education: []string{"BSc"}},
		},
		CompletenessScore: 1.0,
		ValidityScore:     1.0,
	}, nil
}

type testEnv struct {
	server   *Server
	mux      http.Handler
	catalog  *catalog.MemoryCatalog
	position catalog.Position
}

func newTestEnv(t *testing.T, gen orchestrator.Generator) *testEnv {
	t.Helper()

	registry := task.NewRegistry(nil)
	store := version.NewMemoryStore()
	cat := catalog.NewMemoryCatalog()
	pos := catalog.Position{ID: uuid.New(), Name: "Backend Engineer", OrgUnitName: "Platform"}
	cat.Add(pos)

	orch := orchestrator.New(registry, gen, store, cat)

	s := &Server{
		cfg:        config.Defaults(),
		registry:   registry,
		orch:       orch,
		dispatcher: bulk.NewDispatcher(orch, registry, 5),
		store:      store,
		catalog:    cat,
	}
	return &testEnv{server: s, mux: s.routes(), catalog: cat, position: pos}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (e *testEnv) waitForTerminal(t *testing.T, taskID uuid.UUID) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.server.registry.Get(taskID)
		require.NoError(t, err)
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

func (e *testEnv) generateAndWait(t *testing.T) uuid.UUID {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	decode(t, rec, &resp)
	e.waitForTerminal(t, resp.TaskID)
	return resp.TaskID
}

func TestHandleStartGeneration(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/generate", map[string]any{
		"employee_name": "Dana",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID                   uuid.UUID `json:"task_id"`
		Status                   string    `json:"status"`
		EstimatedDurationSeconds int       `json:"estimated_duration_seconds"`
	}
	decode(t, rec, &resp)
	assert.NotEqual(t, uuid.Nil, resp.TaskID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 30, resp.EstimatedDurationSeconds)

	e.waitForTerminal(t, resp.TaskID)
}

func TestHandleStartGeneration_UnknownPosition(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/"+uuid.NewString()+"/generate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartGeneration_InvalidID(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/not-a-uuid/generate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartGeneration_ConcurrentConflict(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	// Prepare holds the position token without running the job
	_, err := e.server.orch.Prepare(context.Background(),
		types.GenerationRequest{PositionID: e.position.ID}, "test")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/generate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleTaskStatus(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	taskID := e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/tasks/"+taskID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	decode(t, rec, &got)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.VersionNumber)
}

func TestHandleTaskStatus_NotFound(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodGet, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListActiveTasks(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	_, err := e.server.orch.Prepare(context.Background(),
		types.GenerationRequest{PositionID: e.position.ID}, "test")
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
}

func TestHandleTaskResult(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	taskID := e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/tasks/"+taskID.String()+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v version.ProfileVersion
	decode(t, rec, &v)
	assert.Equal(t, 1, v.VersionNumber)
	assert.Equal(t, version.TypeGenerated, v.Type)
	assert.Equal(t, "Keeps the lights on.", v.Content.Summary)
}

func TestHandleTaskResult_NotReady(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	created, err := e.server.orch.Prepare(context.Background(),
		types.GenerationRequest{PositionID: e.position.ID}, "test")
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/tasks/"+created.ID.String()+"/result", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleCancelTask_Queued(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	created, err := e.server.orch.Prepare(context.Background(),
		types.GenerationRequest{PositionID: e.position.ID}, "test")
	require.NoError(t, err)

	rec := e.do(t, http.MethodDelete, "/tasks/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State  string `json:"state"`
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, "cancelled", resp.State)
	assert.Equal(t, "cancelled", resp.Status)
}

func TestHandleCancelTask_AlreadyTerminal(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	taskID := e.generateAndWait(t)

	rec := e.do(t, http.MethodDelete, "/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleAckTask(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	taskID := e.generateAndWait(t)

	rec := e.do(t, http.MethodPost, "/tasks/"+taskID.String()+"/ack", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/tasks/"+taskID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAckTask_ActiveTaskRejected(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	created, err := e.server.orch.Prepare(context.Background(),
		types.GenerationRequest{PositionID: e.position.ID}, "test")
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/tasks/"+created.ID.String()+"/ack", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleBulkGenerate(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	second := catalog.Position{ID: uuid.New(), Name: "Data Engineer", OrgUnitName: "Platform"}
	e.catalog.Add(second)

	rec := e.do(t, http.MethodPost, "/bulk-generate", map[string]any{
		"position_ids": []string{e.position.ID.String(), second.ID.String(), uuid.NewString()},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Items   []bulk.ItemOutcome `json:"items"`
		Queued  int                `json:"queued"`
		Skipped int                `json:"skipped"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Queued)
	assert.Equal(t, 1, resp.Skipped)
	require.Len(t, resp.Items, 3)

	for _, item := range resp.Items[:2] {
		e.waitForTerminal(t, item.TaskID)
	}
}

func TestHandleBulkGenerate_EmptyBody(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/bulk-generate", map[string]any{"position_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBulkStatus(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	taskID := e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/bulk-status?task_ids="+taskID.String()+","+uuid.NewString(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var counts bulk.StatusCounts
	decode(t, rec, &counts)
	assert.Equal(t, 1, counts.Completed)
}

func TestHandleBulkStatus_MissingParam(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodGet, "/bulk-status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListVersions(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)
	e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/positions/"+e.position.ID.String()+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int              `json:"count"`
		Versions []versionSummary `json:"versions"`
	}
	decode(t, rec, &resp)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, 1, resp.Versions[0].VersionNumber)
	assert.Equal(t, version.TypeGenerated, resp.Versions[0].Type)
	assert.False(t, resp.Versions[0].Active)
	assert.Equal(t, 2, resp.Versions[1].VersionNumber)
	assert.Equal(t, version.TypeRegenerated, resp.Versions[1].Type)
	assert.True(t, resp.Versions[1].Active)
}

func TestHandleListVersions_UnknownPosition(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodGet, "/positions/"+uuid.NewString()+"/versions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetVersion(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/positions/"+e.position.ID.String()+"/versions/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v version.ProfileVersion
	decode(t, rec, &v)
	assert.Equal(t, 1, v.VersionNumber)
	assert.NotNil(t, v.Content)
}

func TestHandleGetVersion_UnknownNumber(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)

	rec := e.do(t, http.MethodGet, "/positions/"+e.position.ID.String()+"/versions/9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDiffVersions(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)

	// Append an edited version with a changed summary, then diff 1 vs 2
	edited := map[string]any{
		"content": map[string]any{
			"summary":          "A different summary entirely.",
			"responsibilities": []string{"Operate services"},
			"requirements":     []map[string]any{{"description": "Go experience"}},
			"skills":           []map[string]any{{"name": "Go"}},
			"qualifications":   map[string]any{"education": []string{"BSc"}},
		},
	}
	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/versions", edited)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet,
		fmt.Sprintf("/positions/%s/versions/diff?from=1&to=2", e.position.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var set version.ChangeSet
	decode(t, rec, &set)
	assert.Equal(t, 1, set.FromVersion)
	assert.Equal(t, 2, set.ToVersion)
	require.Len(t, set.Changes, 1)
	assert.Equal(t, "summary", set.Changes[0].Field)

	// Diffing a version against itself is empty
	rec = e.do(t, http.MethodGet,
		fmt.Sprintf("/positions/%s/versions/diff?from=2&to=2", e.position.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &set)
	assert.Empty(t, set.Changes)
}

func TestHandleDiffVersions_BadParams(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodGet, "/positions/"+e.position.ID.String()+"/versions/diff?from=x&to=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAppendEditedVersion(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/versions", map[string]any{
		"content": map[string]any{
			"summary":          "Edited by a human reviewer.",
			"responsibilities": []string{"Operate services"},
			"requirements":     []map[string]any{{"description": "Go experience"}},
			"skills":           []map[string]any{{"name": "Go"}},
			"qualifications":   map[string]any{"education": []string{"BSc"}},
		},
		"changes_summary": "tightened the summary",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var v version.ProfileVersion
	decode(t, rec, &v)
	assert.Equal(t, 2, v.VersionNumber)
	assert.Equal(t, version.TypeEdited, v.Type)
	assert.Equal(t, "tightened the summary", v.ChangesSummary)
	assert.Equal(t, 1.0, v.CompletenessScore)
	assert.True(t, v.Active)
}

func TestHandleAppendEditedVersion_MissingContent(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/versions", map[string]any{
		"changes_summary": "nothing here",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetActiveVersion(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)
	e.generateAndWait(t)

	rec := e.do(t, http.MethodPut, "/positions/"+e.position.ID.String()+"/active-version", map[string]any{
		"version_number": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var v version.ProfileVersion
	decode(t, rec, &v)
	assert.Equal(t, 1, v.VersionNumber)
	assert.True(t, v.Active)
}

func TestHandleSetActiveVersion_UnknownVersion(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})
	e.generateAndWait(t)

	rec := e.do(t, http.MethodPut, "/positions/"+e.position.ID.String()+"/active-version", map[string]any{
		"version_number": 7,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleStartGenerationStream(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/generate/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: queued")
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"status":"completed"`)
}

func TestHandleStartGenerationStream_UnknownPosition(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{})

	rec := e.do(t, http.MethodPost, "/positions/"+uuid.NewString()+"/generate/stream", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFailedGenerationSurfacesFailureKind(t *testing.T) {
	e := newTestEnv(t, &stubGenerator{failure: &llm.GenerationFailure{
		Kind:   llm.FailureTimeout,
		Detail: "backend call exceeded its deadline",
	}})

	rec := e.do(t, http.MethodPost, "/positions/"+e.position.ID.String()+"/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID uuid.UUID `json:"task_id"`
	}
	decode(t, rec, &resp)

	done := e.waitForTerminal(t, resp.TaskID)
	assert.Equal(t, task.StatusFailed, done.Status)
	assert.Contains(t, done.Error, "timeout")
}
