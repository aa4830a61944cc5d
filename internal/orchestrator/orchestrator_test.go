package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/profile-orchestrator/internal/catalog"
	"github.com/jonathan/profile-orchestrator/internal/llm"
	"github.com/jonathan/profile-orchestrator/internal/scoring"
	"github.com/jonathan/profile-orchestrator/internal/task"
	"github.com/jonathan/profile-orchestrator/internal/types"
	"github.com/jonathan/profile-orchestrator/internal/version"
)

// fakeGenerator returns a scripted document or failure, optionally blocking
// until released so tests can observe in-flight jobs.
type fakeGenerator struct {
	mu      sync.Mutex
	doc     *scoring.ParsedDocument
	failure *llm.GenerationFailure
	block   chan struct{} // when non-nil, Generate waits for it to close
	calls   int
}

func (g *fakeGenerator) Generate(ctx context.Context, _ llm.GenerateParams) (*scoring.ParsedDocument, *llm.GenerationFailure) {
	g.mu.Lock()
	g.calls++
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &llm.GenerationFailure{Kind: llm.FailureTimeout, Detail: "context done"}
		}
	}
	return g.doc, g.failure
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func parsedDocument(summary string) *scoring.ParsedDocument {
	return &scoring.ParsedDocument{
		Content: &types.ProfileDocument{
			Summary:          summary,
			Responsibilities: []string{"Work"},
			Requirements:     []types.Requirement{{Description: "Years"}},
			Skills:           []types.Skill{{Name: "Go"}},
			Qualifications:   types.Qualifications{Education: []string{"BSc"}},
		},
		CompletenessScore: 1.0,
		ValidityScore:     1.0,
	}
}

type fixture struct {
	orch     *Orchestrator
	registry *task.Registry
	store    *version.MemoryStore
	catalog  *catalog.MemoryCatalog
	position catalog.Position
}

func newFixture(gen Generator) *fixture {
	registry := task.NewRegistry(nil)
	store := version.NewMemoryStore()
	cat := catalog.NewMemoryCatalog()
	pos := catalog.Position{ID: uuid.New(), Name: "Backend Engineer", OrgUnitName: "Platform"}
	cat.Add(pos)

	return &fixture{
		orch:     New(registry, gen, store, cat),
		registry: registry,
		store:    store,
		catalog:  cat,
		position: pos,
	}
}

func waitForTerminal(t *testing.T, registry *task.Registry, id uuid.UUID) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := registry.Get(id)
		require.NoError(t, err)
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

func TestOrchestrator_HappyPathFirstGeneration(t *testing.T) {
	gen := &fakeGenerator{doc: parsedDocument("first")}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, created.Status)

	done := waitForTerminal(t, f.registry, created.ID)
	assert.Equal(t, task.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.VersionNumber)

	v, err := f.orch.Result(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, version.TypeGenerated, v.Type)
	assert.Equal(t, "alice", v.CreatedBy)
	assert.Equal(t, "first", v.Content.Summary)
}

func TestOrchestrator_RegenerationGetsNextVersion(t *testing.T) {
	gen := &fakeGenerator{doc: parsedDocument("first")}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)
	waitForTerminal(t, f.registry, created.ID)

	gen.doc = parsedDocument("second")
	again, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "bob")
	require.NoError(t, err)
	done := waitForTerminal(t, f.registry, again.ID)

	require.NotNil(t, done.Result)
	assert.Equal(t, 2, done.Result.VersionNumber)

	v, err := f.store.GetActive(context.Background(), f.position.ID)
	require.NoError(t, err)
	assert.Equal(t, version.TypeRegenerated, v.Type)
	assert.Equal(t, "second", v.Content.Summary)
}

func TestOrchestrator_GenerationFailureIsTerminal(t *testing.T) {
	gen := &fakeGenerator{failure: &llm.GenerationFailure{
		Kind:   llm.FailureInvalidOutput,
		Detail: "model output is not a parseable profile document",
	}}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	done := waitForTerminal(t, f.registry, created.ID)
	assert.Equal(t, task.StatusFailed, done.Status)
	assert.Contains(t, done.Error, "invalid_output")

	// A failed job records no version
	exists, err := f.store.HasProfile(context.Background(), f.position.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_UnknownPositionRejected(t *testing.T) {
	f := newFixture(&fakeGenerator{doc: parsedDocument("x")})

	_, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: uuid.New()}, "alice")
	var notFound *catalog.ErrPositionNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestOrchestrator_ConcurrentSamePositionRejected(t *testing.T) {
	block := make(chan struct{})
	gen := &fakeGenerator{doc: parsedDocument("x"), block: block}
	f := newFixture(gen)

	first, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	_, err = f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "bob")
	var concurrent *ErrConcurrentGeneration
	require.ErrorAs(t, err, &concurrent)
	assert.Equal(t, f.position.ID, concurrent.PositionID)

	close(block)
	waitForTerminal(t, f.registry, first.ID)

	// The token is released once the job finishes
	second, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "bob")
	require.NoError(t, err)
	waitForTerminal(t, f.registry, second.ID)
}

func TestOrchestrator_DifferentPositionsRunIndependently(t *testing.T) {
	block := make(chan struct{})
	gen := &fakeGenerator{doc: parsedDocument("x"), block: block}
	f := newFixture(gen)

	other := catalog.Position{ID: uuid.New(), Name: "Data Engineer", OrgUnitName: "Platform"}
	f.catalog.Add(other)

	first, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)
	second, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: other.ID}, "alice")
	require.NoError(t, err)

	close(block)
	waitForTerminal(t, f.registry, first.ID)
	waitForTerminal(t, f.registry, second.ID)
}

func TestOrchestrator_CancelQueuedTask(t *testing.T) {
	gen := &fakeGenerator{doc: parsedDocument("x")}
	f := newFixture(gen)

	// Prepare without Run leaves the task queued
	created, err := f.orch.Prepare(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)

	// Run on a cancelled task is a no-op that still releases the token
	f.orch.Run(created.ID)
	assert.Zero(t, gen.callCount())

	_, err = f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)
}

func TestOrchestrator_CancelMidJobDiscardsResult(t *testing.T) {
	block := make(chan struct{})
	gen := &fakeGenerator{doc: parsedDocument("x"), block: block}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	// Wait until the job is actually processing
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.registry.Get(created.ID)
		require.NoError(t, err)
		if got.Status == task.StatusProcessing {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	updated, err := f.orch.Cancel(created.ID)
	require.NoError(t, err)
	assert.True(t, updated.CancelRequested)

	// Let the backend call finish; the checkpoint must still discard it
	close(block)
	done := waitForTerminal(t, f.registry, created.ID)
	assert.Equal(t, task.StatusCancelled, done.Status)

	exists, err := f.store.HasProfile(context.Background(), f.position.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrchestrator_CancelTerminalTask(t *testing.T) {
	gen := &fakeGenerator{doc: parsedDocument("x")}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)
	waitForTerminal(t, f.registry, created.ID)

	_, err = f.orch.Cancel(created.ID)
	var terminal *ErrAlreadyTerminal
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, task.StatusCompleted, terminal.Status)
}

func TestOrchestrator_ResultBeforeCompletion(t *testing.T) {
	block := make(chan struct{})
	gen := &fakeGenerator{doc: parsedDocument("x"), block: block}
	f := newFixture(gen)

	created, err := f.orch.Start(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	_, err = f.orch.Result(context.Background(), created.ID)
	var notReady *ErrNotReady
	require.ErrorAs(t, err, &notReady)

	close(block)
	waitForTerminal(t, f.registry, created.ID)
}

func TestOrchestrator_SubscribeObservesTerminalEvent(t *testing.T) {
	gen := &fakeGenerator{doc: parsedDocument("x")}
	f := newFixture(gen)

	created, err := f.orch.Prepare(context.Background(), types.GenerationRequest{PositionID: f.position.ID}, "alice")
	require.NoError(t, err)

	events, unsubscribe := f.orch.Subscribe(created.ID)
	defer unsubscribe()

	go f.orch.Run(created.ID)

	var last ProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				assert.Equal(t, task.StatusCompleted, last.Status)
				assert.Equal(t, 100, last.Progress)
				return
			}
			last = event
		case <-timeout:
			t.Fatal("no terminal event observed")
		}
	}
}

func TestOrchestrator_RequestValidation(t *testing.T) {
	f := newFixture(&fakeGenerator{doc: parsedDocument("x")})

	bad := 1.5
	_, err := f.orch.Start(context.Background(), types.GenerationRequest{
		PositionID:  f.position.ID,
		Temperature: &bad,
	}, "alice")
	assert.Error(t, err)
}
