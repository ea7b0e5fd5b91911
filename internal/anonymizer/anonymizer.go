// Package anonymizer substitutes detected PII with tokens and restores it.
package anonymizer

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/detector"
	"github.com/hfi/pii-vault/internal/metrics"
	"github.com/hfi/pii-vault/pkg/token"
)

// TokenIssuer hands out the formatted token for a PII value
type TokenIssuer interface {
	GetOrCreate(ctx context.Context, value string, typ token.Type) (string, error)
}

// Options tunes a single Anonymize call
type Options struct {
	// LenientNames enables the lower-precision name tiers
	LenientNames bool
	// RequestID correlates audit events
	RequestID string
}

// Entity is one substitution made by Anonymize
type Entity struct {
	Type   token.Type
	Token  string
	Source string
}

// Result contains the result of an anonymization
type Result struct {
	// Text is the input with PII replaced by tokens
	Text string
	// Entities lists every substitution in the order it was made
	Entities []Entity
}

// ByType counts substitutions per PII type
func (r *Result) ByType() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Entities {
		counts[string(e.Type)]++
	}
	return counts
}

// Anonymizer runs the detector pipeline and substitutes tokens stage by stage
type Anonymizer struct {
	pipeline *detector.Pipeline
	codec    *token.Codec
	issuer   TokenIssuer
	logger   zerolog.Logger
	auditor  audit.Auditor
}

// New creates an anonymizer. A nil auditor disables audit events.
func New(pipeline *detector.Pipeline, codec *token.Codec, issuer TokenIssuer, logger zerolog.Logger, auditor audit.Auditor) *Anonymizer {
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}
	return &Anonymizer{
		pipeline: pipeline,
		codec:    codec,
		issuer:   issuer,
		logger:   logger.With().Str("component", "anonymizer").Logger(),
		auditor:  auditor,
	}
}

type replacement struct {
	start, end int
	token      string
}

// Anonymize replaces PII in text with tokens.
//
// Stages run in pipeline order (emails, phones, then names) and each stage
// sees the text produced by the previous one, so an already substituted
// email can never be mistaken for a name fragment. Within a stage every span
// is resolved in text order and spliced from the end of the text backwards.
func (a *Anonymizer) Anonymize(ctx context.Context, text string, opts Options) *Result {
	start := time.Now()
	defer func() {
		metrics.RecordOperationDuration("anonymize", time.Since(start).Seconds())
	}()

	result := &Result{Text: text}

	for _, d := range a.pipeline.Stages(opts.LenientNames) {
		spans := a.pipeline.Run(d, result.Text, a.codec.FindAllIndex(result.Text))
		if len(spans) == 0 {
			continue
		}

		replacements := make([]replacement, 0, len(spans))
		for _, span := range spans {
			tok, err := a.issuer.GetOrCreate(ctx, span.Value, span.Type)
			if err != nil {
				a.logger.Warn().Err(err).
					Str("detector", span.Source).
					Str("type", string(span.Type)).
					Msg("span left untokenized")
				continue
			}

			replacements = append(replacements, replacement{start: span.Start, end: span.End, token: tok})
			result.Entities = append(result.Entities, Entity{Type: span.Type, Token: tok, Source: span.Source})
			metrics.RecordEntityDetected(span.Source, string(span.Type))
		}

		result.Text = splice(result.Text, replacements)
	}

	if len(result.Entities) > 0 {
		a.logger.Debug().
			Int("entities", len(result.Entities)).
			Bool("lenient", opts.LenientNames).
			Msg("text anonymized")
		a.auditor.LogEntitiesTokenized(opts.RequestID, result.ByType())
	}

	return result
}

// splice applies non-overlapping replacements from the end of text backwards
// so earlier offsets stay valid
func splice(text string, replacements []replacement) string {
	sort.Slice(replacements, func(i, j int) bool {
		return replacements[i].start > replacements[j].start
	})

	for _, r := range replacements {
		text = text[:r.start] + r.token + text[r.end:]
	}
	return text
}
