package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API requests by operation and outcome
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_vault_requests_total",
		Help: "Total number of API requests processed",
	}, []string{"operation", "status"})

	// EntitiesDetectedTotal counts detected PII spans by detector
	EntitiesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_vault_entities_detected_total",
		Help: "Total number of PII entities detected",
	}, []string{"detector", "type"})

	// TokensRestoredTotal counts tokens restored to their original values
	TokensRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pii_vault_tokens_restored_total",
		Help: "Total number of tokens restored to original values",
	})

	// TokensUnresolvedTotal counts tokens left untouched because no mapping was found
	TokensUnresolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pii_vault_tokens_unresolved_total",
		Help: "Total number of tokens that could not be resolved",
	})

	// MappingsCreatedTotal counts newly created mappings by type
	MappingsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_vault_mappings_created_total",
		Help: "Total number of new PII mappings created",
	}, []string{"type"})

	// CacheSize tracks the number of mappings held in memory
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pii_vault_cache_size",
		Help: "Current number of mappings in the in-memory cache",
	})

	// StorageErrorsTotal counts absorbed backing store failures by operation
	StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_vault_storage_errors_total",
		Help: "Total number of backing store errors absorbed",
	}, []string{"operation"})

	// StorageDuplicatesTotal counts duplicate-key outcomes on insert
	StorageDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pii_vault_storage_duplicates_total",
		Help: "Total number of duplicate-key conditions on mapping insert",
	})

	// TokenCollisionsTotal counts tokens shared by two distinct normalized values
	TokenCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pii_vault_token_collisions_total",
		Help: "Total number of token collisions between distinct values",
	})

	// BackingStoreUp is 1 while the backing store is reachable
	BackingStoreUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pii_vault_backing_store_up",
		Help: "Whether the backing store is reachable (1) or not (0)",
	})

	// OperationDuration tracks processing latency per operation
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pii_vault_operation_duration_seconds",
		Help:    "Operation processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"}) // "anonymize", "deanonymize" or "secure_complete"

	// LLMRequestsTotal counts completion provider calls by outcome
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pii_vault_llm_requests_total",
		Help: "Total number of completion provider requests",
	}, []string{"status"})
)

// RecordEntityDetected records a detected PII span
func RecordEntityDetected(detector, piiType string) {
	EntitiesDetectedTotal.WithLabelValues(detector, piiType).Inc()
}

// RecordOperationDuration records operation processing duration
func RecordOperationDuration(operation string, seconds float64) {
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordStorageError records an absorbed backing store failure
func RecordStorageError(operation string) {
	StorageErrorsTotal.WithLabelValues(operation).Inc()
}

// SetBackingStoreUp updates the backing store gauge
func SetBackingStoreUp(up bool) {
	if up {
		BackingStoreUp.Set(1)
		return
	}
	BackingStoreUp.Set(0)
}
