package anonymizer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/mapping"
	"github.com/hfi/pii-vault/internal/metrics"
	"github.com/hfi/pii-vault/pkg/token"
)

// TokenResolver looks up what a token body stands for
type TokenResolver interface {
	ResolveByToken(ctx context.Context, tok string) (mapping.Entry, bool)
}

// RestoreResult contains the result of a restoration operation
type RestoreResult struct {
	// Text is the input with known tokens replaced by their original values
	Text string
	// RestoredCount is the number of tokens that were restored
	RestoredCount int
	// UnresolvedCount is the number of tokens left as they were
	UnresolvedCount int
}

// Deanonymizer puts original values back in place of tokens
type Deanonymizer struct {
	codec    *token.Codec
	resolver TokenResolver
	logger   zerolog.Logger
	auditor  audit.Auditor
}

// NewDeanonymizer creates a deanonymizer. A nil auditor disables audit events.
func NewDeanonymizer(codec *token.Codec, resolver TokenResolver, logger zerolog.Logger, auditor audit.Auditor) *Deanonymizer {
	if auditor == nil {
		auditor = audit.NewNopLogger()
	}
	return &Deanonymizer{
		codec:    codec,
		resolver: resolver,
		logger:   logger.With().Str("component", "deanonymizer").Logger(),
		auditor:  auditor,
	}
}

// Deanonymize replaces every known token in text with its original value.
// Unknown tokens, and tokens whose type tag does not match the mapping, are
// left verbatim.
func (d *Deanonymizer) Deanonymize(ctx context.Context, text, requestID string) *RestoreResult {
	start := time.Now()
	defer func() {
		metrics.RecordOperationDuration("deanonymize", time.Since(start).Seconds())
	}()

	result := &RestoreResult{Text: text}

	indices := d.codec.FindAllIndex(text)
	if len(indices) == 0 {
		return result
	}

	// from the end backwards so earlier offsets stay valid
	for i := len(indices) - 1; i >= 0; i-- {
		s, e := indices[i][0], indices[i][1]
		formatted := text[s:e]

		parsed, ok := d.codec.Parse(formatted)
		if !ok {
			continue
		}

		entry, found := d.resolver.ResolveByToken(ctx, parsed.Token)
		if !found || entry.Type != parsed.Type {
			result.UnresolvedCount++
			d.logger.Warn().Str("token", formatted).Msg("token could not be resolved, leaving it as is")
			continue
		}

		result.Text = result.Text[:s] + entry.Original + result.Text[e:]
		result.RestoredCount++
	}

	metrics.TokensRestoredTotal.Add(float64(result.RestoredCount))
	metrics.TokensUnresolvedTotal.Add(float64(result.UnresolvedCount))
	d.auditor.LogTokensRestored(requestID, result.RestoredCount, result.UnresolvedCount)

	return result
}
