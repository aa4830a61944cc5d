package llm

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jonathan/profile-orchestrator/internal/scoring"
)

// AdapterConfig holds tunables for the generation backend adapter
type AdapterConfig struct {
	// Attempts is the total number of attempts per Generate call, including
	// the first. Transient failures are retried up to this bound.
	Attempts int
	// RetryDelay is the fixed delay between attempts
	RetryDelay time.Duration
	// CallTimeout is the ceiling for a single backend call
	CallTimeout time.Duration
	// Tier selects the model tier used for profile generation
	Tier ModelTier
	// DefaultTemperature is used when the request does not carry one
	DefaultTemperature float32
	// CompletenessThreshold flags low-completeness documents (see scoring)
	CompletenessThreshold float64
	// AcceptanceFloor rejects documents whose completeness is below it with
	// kind validation_failed. Zero disables the floor.
	AcceptanceFloor float64
}

// DefaultAdapterConfig returns the default adapter tunables
func DefaultAdapterConfig() *AdapterConfig {
	return &AdapterConfig{
		Attempts:              2,
		RetryDelay:            500 * time.Millisecond,
		CallTimeout:           60 * time.Second,
		Tier:                  TierStandard,
		DefaultTemperature:    0.1,
		CompletenessThreshold: scoring.DefaultCompletenessThreshold,
		AcceptanceFloor:       0.2,
	}
}

// Adapter wraps the model client with structured-output validation, scoring,
// and bounded retry. It is the only component that talks to the model backend.
type Adapter struct {
	client Client
	cfg    AdapterConfig
}

// NewAdapter creates an adapter over the given client. A nil config uses
// defaults; zero fields are filled from defaults.
func NewAdapter(client Client, cfg *AdapterConfig) *Adapter {
	defaults := DefaultAdapterConfig()
	if cfg == nil {
		cfg = defaults
	}
	resolved := *cfg
	if resolved.Attempts <= 0 {
		resolved.Attempts = defaults.Attempts
	}
	if resolved.RetryDelay <= 0 {
		resolved.RetryDelay = defaults.RetryDelay
	}
	if resolved.CallTimeout <= 0 {
		resolved.CallTimeout = defaults.CallTimeout
	}
	if resolved.Tier == "" {
		resolved.Tier = defaults.Tier
	}
	if resolved.DefaultTemperature == 0 {
		resolved.DefaultTemperature = defaults.DefaultTemperature
	}
	if resolved.CompletenessThreshold == 0 {
		resolved.CompletenessThreshold = defaults.CompletenessThreshold
	}
	return &Adapter{client: client, cfg: resolved}
}

// GenerateParams carries the inputs for one backend generation call
type GenerateParams struct {
	Prompt      string
	Temperature *float64
}

// Generate invokes the model and returns a parsed, scored document or a typed
// failure. Transient failures (timeout, unparseable output, backend errors)
// are retried up to the attempt bound with a fixed delay; auth/config errors
// fail immediately.
func (a *Adapter) Generate(ctx context.Context, params GenerateParams) (*scoring.ParsedDocument, *GenerationFailure) {
	temperature := a.cfg.DefaultTemperature
	if params.Temperature != nil {
		temperature = float32(*params.Temperature)
	}

	var lastFailure *GenerationFailure
	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(a.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, &GenerationFailure{
					Kind:   FailureTimeout,
					Detail: "cancelled while waiting to retry",
					Cause:  ctx.Err(),
				}
			}
			log.Printf("[llm] Retrying generation (attempt %d/%d) after %s", attempt, a.cfg.Attempts, lastFailure.Kind)
		}

		doc, failure, retryable := a.generateOnce(ctx, params.Prompt, temperature)
		if failure == nil {
			return doc, nil
		}
		lastFailure = failure
		if !retryable || ctx.Err() != nil {
			return nil, failure
		}
	}
	return nil, lastFailure
}

// generateOnce performs a single backend call with the per-call timeout.
// The returned bool reports whether the failure is worth retrying.
func (a *Adapter) generateOnce(ctx context.Context, prompt string, temperature float32) (*scoring.ParsedDocument, *GenerationFailure, bool) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	raw, err := a.client.GenerateJSON(callCtx, prompt, temperature, a.cfg.Tier)
	if err != nil {
		failure, retryable := classifyInvokeError(err, callCtx)
		return nil, failure, retryable
	}

	doc, err := scoring.ParseAndScore(raw, a.cfg.CompletenessThreshold)
	if err != nil {
		return nil, &GenerationFailure{
			Kind:   FailureInvalidOutput,
			Detail: "model output is not a parseable profile document",
			Cause:  err,
		}, true
	}

	if a.cfg.AcceptanceFloor > 0 && doc.CompletenessScore < a.cfg.AcceptanceFloor {
		return nil, &GenerationFailure{
			Kind:   FailureValidationFailed,
			Detail: "generated document is below the acceptance floor",
		}, true
	}

	return doc, nil, false
}

// nonRetryableMarkers identify auth/config errors that retrying cannot fix
var nonRetryableMarkers = []string{
	"api key",
	"unauthenticated",
	"permission denied",
	"invalid argument",
	"no model configured",
}

// classifyInvokeError maps a client error to a typed failure and reports
// whether it is transient.
func classifyInvokeError(err error, callCtx context.Context) (*GenerationFailure, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &GenerationFailure{
			Kind:   FailureTimeout,
			Detail: "backend call exceeded its deadline",
			Cause:  err,
		}, true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(message, marker) {
			return &GenerationFailure{
				Kind:   FailureBackend,
				Detail: "non-retryable backend error",
				Cause:  err,
			}, false
		}
	}

	// Rate limits and flaky upstream errors land here
	return &GenerationFailure{
		Kind:   FailureBackend,
		Detail: "backend call failed",
		Cause:  err,
	}, true
}
