// Package audit records what the vault did with PII, without the PII itself.
// Events carry types, counts, tokens and durations; never raw values.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents the type of audit event
type EventType string

const (
	EventEntitiesTokenized   EventType = "entities_tokenized"
	EventTokensRestored      EventType = "tokens_restored"
	EventTokensUnresolved    EventType = "tokens_unresolved"
	EventMappingCreated      EventType = "mapping_created"
	EventCompletionCompleted EventType = "completion_completed"
	EventCompletionFailed    EventType = "completion_failed"
)

// Event represents an audit log event
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	PIIType   string            `json:"pii_type,omitempty"`
	Token     string            `json:"token,omitempty"`
	Count     int               `json:"count,omitempty"`
	ByType    map[string]int    `json:"by_type,omitempty"`
	Duration  float64           `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Auditor receives audit events
type Auditor interface {
	Log(event *Event)
	LogEntitiesTokenized(requestID string, byType map[string]int)
	LogTokensRestored(requestID string, restored, unresolved int)
	LogMappingCreated(piiType, tok string)
	LogCompletion(requestID, model string, durationMs float64, err error)
}

// Config holds audit logger configuration
type Config struct {
	// Enabled enables/disables audit logging
	Enabled bool `yaml:"enabled"`

	// Level controls what events are logged
	// "minimal" - only tokenization and restoration counts
	// "standard" - everything except individual mapping creation
	// "verbose" - all events
	Level string `yaml:"level"`

	// Output specifies where to write logs
	// "stdout", "stderr", or a file path
	Output string `yaml:"output"`

	// Format specifies log format: "json" or "text"
	Format string `yaml:"format"`

	// IncludeTokens adds the issued token to mapping events
	IncludeTokens bool `yaml:"include_tokens"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		Level:         "standard",
		Output:        "stderr",
		Format:        "json",
		IncludeTokens: false,
	}
}

// Logger handles audit logging
type Logger struct {
	mu      sync.RWMutex
	config  *Config
	logger  zerolog.Logger
	output  io.Writer
	enabled bool
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if err := l.setupOutput(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Logger) setupOutput() error {
	var output io.Writer

	switch l.config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(l.config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		output = f
	}

	l.output = output

	var w io.Writer = output
	if l.config.Format == "text" {
		w = zerolog.ConsoleWriter{Out: output, NoColor: true, TimeFormat: time.RFC3339}
	}

	l.logger = zerolog.New(w).With().Timestamp().Str("component", "audit").Logger()
	return nil
}

// Log logs an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	config := l.config
	logger := l.logger
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if !shouldLog(config.Level, event.Type) {
		return
	}

	event.Timestamp = time.Now()

	if !config.IncludeTokens {
		event.Token = ""
	}

	e := logger.Info().Str("type", string(event.Type))

	if event.RequestID != "" {
		e = e.Str("request_id", event.RequestID)
	}
	if event.PIIType != "" {
		e = e.Str("pii_type", event.PIIType)
	}
	if event.Token != "" {
		e = e.Str("token", event.Token)
	}
	if event.Count > 0 {
		e = e.Int("count", event.Count)
	}
	if len(event.ByType) > 0 {
		d := zerolog.Dict()
		for _, k := range sortedKeys(event.ByType) {
			d = d.Int(k, event.ByType[k])
		}
		e = e.Dict("by_type", d)
	}
	if event.Duration > 0 {
		e = e.Float64("duration_ms", event.Duration)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}
	for k, v := range event.Metadata {
		e = e.Str(k, v)
	}

	e.Msg("audit")
}

func shouldLog(level string, eventType EventType) bool {
	switch level {
	case "minimal":
		return eventType == EventEntitiesTokenized ||
			eventType == EventTokensRestored ||
			eventType == EventTokensUnresolved
	case "standard":
		return eventType != EventMappingCreated
	default:
		return true
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LogEntitiesTokenized logs the entities substituted in one anonymize call
func (l *Logger) LogEntitiesTokenized(requestID string, byType map[string]int) {
	total := 0
	for _, n := range byType {
		total += n
	}
	l.Log(&Event{
		Type:      EventEntitiesTokenized,
		RequestID: requestID,
		Count:     total,
		ByType:    byType,
	})
}

// LogTokensRestored logs a deanonymize call
func (l *Logger) LogTokensRestored(requestID string, restored, unresolved int) {
	l.Log(&Event{
		Type:      EventTokensRestored,
		RequestID: requestID,
		Count:     restored,
	})
	if unresolved > 0 {
		l.Log(&Event{
			Type:      EventTokensUnresolved,
			RequestID: requestID,
			Count:     unresolved,
		})
	}
}

// LogMappingCreated logs a newly issued token
func (l *Logger) LogMappingCreated(piiType, tok string) {
	l.Log(&Event{
		Type:    EventMappingCreated,
		PIIType: piiType,
		Token:   tok,
	})
}

// LogCompletion logs the outcome of a secure completion
func (l *Logger) LogCompletion(requestID, model string, durationMs float64, err error) {
	event := &Event{
		Type:      EventCompletionCompleted,
		RequestID: requestID,
		Duration:  durationMs,
	}
	if model != "" {
		event.Metadata = map[string]string{"model": model}
	}
	if err != nil {
		event.Type = EventCompletionFailed
		event.Error = err.Error()
	}
	l.Log(event)
}

// Enable enables audit logging
func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = true
}

// Disable disables audit logging
func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Level = level
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.output.(io.Closer); ok {
		if l.output != os.Stdout && l.output != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// ToJSON converts an event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NopLogger is a logger that does nothing
type NopLogger struct{}

// NewNopLogger creates a no-op logger
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log does nothing
func (l *NopLogger) Log(_ *Event) {}

// LogEntitiesTokenized does nothing
func (l *NopLogger) LogEntitiesTokenized(_ string, _ map[string]int) {}

// LogTokensRestored does nothing
func (l *NopLogger) LogTokensRestored(_ string, _, _ int) {}

// LogMappingCreated does nothing
func (l *NopLogger) LogMappingCreated(_, _ string) {}

// LogCompletion does nothing
func (l *NopLogger) LogCompletion(_, _ string, _ float64, _ error) {}
