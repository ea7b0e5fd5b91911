// Package api exposes the vault over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/anonymizer"
	"github.com/hfi/pii-vault/internal/completion"
	"github.com/hfi/pii-vault/internal/llm"
	"github.com/hfi/pii-vault/internal/mapping"
	"github.com/hfi/pii-vault/internal/metrics"
)

// Anonymizer replaces PII with tokens
type Anonymizer interface {
	Anonymize(ctx context.Context, text string, opts anonymizer.Options) *anonymizer.Result
}

// Deanonymizer restores tokens to original values
type Deanonymizer interface {
	Deanonymize(ctx context.Context, text, requestID string) *anonymizer.RestoreResult
}

// SecureCompleter runs a prompt through the model without exposing PII
type SecureCompleter interface {
	SecureComplete(ctx context.Context, prompt string, opts completion.Options) (string, error)
}

// StatsProvider reports mapping cache statistics
type StatsProvider interface {
	Stats(ctx context.Context) mapping.Stats
}

// Handler holds the HTTP handlers
type Handler struct {
	anon         Anonymizer
	dean         Deanonymizer
	completer    SecureCompleter
	stats        StatsProvider
	lenientNames bool
	logger       zerolog.Logger
}

// NewHandler creates the handlers. lenientNames is the detection mode used by
// POST /anonymize.
func NewHandler(anon Anonymizer, dean Deanonymizer, completer SecureCompleter, stats StatsProvider, lenientNames bool, logger zerolog.Logger) *Handler {
	return &Handler{
		anon:         anon,
		dean:         dean,
		completer:    completer,
		stats:        stats,
		lenientNames: lenientNames,
		logger:       logger.With().Str("component", "api").Logger(),
	}
}

type anonymizeRequest struct {
	Message *string `json:"message"`
}

type anonymizeResponse struct {
	AnonymizedMessage string `json:"anonymizedMessage"`
}

type deanonymizeRequest struct {
	AnonymizedMessage *string `json:"anonymizedMessage"`
}

type deanonymizeResponse struct {
	Message string `json:"message"`
}

type secureCompleteRequest struct {
	Prompt      *string  `json:"prompt"`
	Model       *string  `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"maxTokens"`
}

type secureCompleteResponse struct {
	Answer string `json:"answer"`
}

type statsResponse struct {
	TokensInMemory          int            `json:"tokensInMemory"`
	TokensInPersistentStore int64          `json:"tokensInPersistentStore"`
	BackingStoreConnected   bool           `json:"backingStoreConnected"`
	ByType                  map[string]int `json:"byType"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Anonymize handles POST /anonymize
func (h *Handler) Anonymize(c echo.Context) error {
	var req anonymizeRequest
	if err := c.Bind(&req); err != nil || req.Message == nil {
		return h.badRequest(c, "anonymize", "message is required and must be a string")
	}

	res := h.anon.Anonymize(c.Request().Context(), *req.Message, anonymizer.Options{
		LenientNames: h.lenientNames,
		RequestID:    requestID(c),
	})
	metrics.RequestsTotal.WithLabelValues("anonymize", "success").Inc()
	return c.JSON(http.StatusOK, anonymizeResponse{AnonymizedMessage: res.Text})
}

// Deanonymize handles POST /deanonymize
func (h *Handler) Deanonymize(c echo.Context) error {
	var req deanonymizeRequest
	if err := c.Bind(&req); err != nil || req.AnonymizedMessage == nil {
		return h.badRequest(c, "deanonymize", "anonymizedMessage is required and must be a string")
	}

	res := h.dean.Deanonymize(c.Request().Context(), *req.AnonymizedMessage, requestID(c))
	metrics.RequestsTotal.WithLabelValues("deanonymize", "success").Inc()
	return c.JSON(http.StatusOK, deanonymizeResponse{Message: res.Text})
}

// SecureComplete handles POST /secure-complete
func (h *Handler) SecureComplete(c echo.Context) error {
	var req secureCompleteRequest
	if err := c.Bind(&req); err != nil || req.Prompt == nil {
		return h.badRequest(c, "secure_complete", "prompt is required and must be a string")
	}

	opts := completion.Options{
		Temperature: req.Temperature,
		RequestID:   requestID(c),
	}
	if req.Model != nil {
		opts.Model = *req.Model
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}

	answer, err := h.completer.SecureComplete(c.Request().Context(), *req.Prompt, opts)
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			metrics.RequestsTotal.WithLabelValues("secure_complete", "unavailable").Inc()
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "LLM service not configured"})
		}
		metrics.RequestsTotal.WithLabelValues("secure_complete", "error").Inc()
		h.logger.Error().Err(err).Str("request_id", opts.RequestID).Msg("secure completion failed")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to process secure completion"})
	}

	metrics.RequestsTotal.WithLabelValues("secure_complete", "success").Inc()
	return c.JSON(http.StatusOK, secureCompleteResponse{Answer: answer})
}

// Stats handles GET /stats
func (h *Handler) Stats(c echo.Context) error {
	st := h.stats.Stats(c.Request().Context())

	byType := make(map[string]int, len(st.ByType))
	for typ, n := range st.ByType {
		byType[string(typ)] = n
	}

	return c.JSON(http.StatusOK, statsResponse{
		TokensInMemory:          st.TokensInMemory,
		TokensInPersistentStore: st.TokensInPersistentStore,
		BackingStoreConnected:   st.BackingStoreConnected,
		ByType:                  byType,
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) badRequest(c echo.Context, op, msg string) error {
	metrics.RequestsTotal.WithLabelValues(op, "invalid").Inc()
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
