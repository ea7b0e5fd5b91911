// Package completion sends prompts to a language model without letting PII
// leave the process.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/anonymizer"
	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/llm"
	"github.com/hfi/pii-vault/internal/metrics"
)

// ErrCompletionFailed wraps any provider failure other than missing credentials
var ErrCompletionFailed = errors.New("secure completion failed")

// Completer is the language model the orchestrator talks to
type Completer interface {
	Complete(ctx context.Context, text string, opts llm.CompleteOptions) (string, error)
}

// Options tunes a single SecureComplete call
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	RequestID   string
}

// Orchestrator runs anonymize, complete and deanonymize as one flow
type Orchestrator struct {
	anon      *anonymizer.Anonymizer
	dean      *anonymizer.Deanonymizer
	completer Completer
	logger    zerolog.Logger
	auditor   audit.Auditor
}

// NewOrchestrator creates an orchestrator. A nil auditor disables audit events.
func NewOrchestrator(anon *anonymizer.Anonymizer, dean *anonymizer.Deanonymizer, completer Completer, logger zerolog.Logger, auditor audit.Auditor) *Orchestrator {
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}
	return &Orchestrator{
		anon:      anon,
		dean:      dean,
		completer: completer,
		logger:    logger.With().Str("component", "completion").Logger(),
		auditor:   auditor,
	}
}

// SecureComplete anonymizes prompt with lenient name detection, sends the
// result to the model and restores any tokens in the answer.
//
// llm.ErrNotConfigured is returned as is. Every other provider error is
// wrapped in ErrCompletionFailed and nothing from the prompt is returned.
func (o *Orchestrator) SecureComplete(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()

	anon := o.anon.Anonymize(ctx, prompt, anonymizer.Options{LenientNames: true, RequestID: opts.RequestID})

	raw, err := o.completer.Complete(ctx, anon.Text, llm.CompleteOptions{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	elapsed := time.Since(start)
	metrics.RecordOperationDuration("secure_complete", elapsed.Seconds())

	if err != nil {
		o.auditor.LogCompletion(opts.RequestID, opts.Model, float64(elapsed.Milliseconds()), err)
		if errors.Is(err, llm.ErrNotConfigured) {
			metrics.LLMRequestsTotal.WithLabelValues("not_configured").Inc()
			return "", err
		}
		metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
		o.logger.Error().Err(err).Str("request_id", opts.RequestID).Msg("completion provider failed")
		return "", fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	metrics.LLMRequestsTotal.WithLabelValues("success").Inc()

	restored := o.dean.Deanonymize(ctx, raw, opts.RequestID)

	o.auditor.LogCompletion(opts.RequestID, opts.Model, float64(elapsed.Milliseconds()), nil)
	o.logger.Debug().
		Str("request_id", opts.RequestID).
		Int("entities", len(anon.Entities)).
		Int("restored", restored.RestoredCount).
		Int("unresolved", restored.UnresolvedCount).
		Dur("duration", elapsed).
		Msg("secure completion finished")

	return restored.Text, nil
}
