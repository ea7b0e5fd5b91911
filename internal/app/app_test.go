package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/pii-vault/internal/anonymizer"
	"github.com/hfi/pii-vault/internal/config"
	"github.com/hfi/pii-vault/internal/server"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Audit.Enabled = false
	cfg.Storage.Type = "bolt"
	cfg.Storage.Bolt.Path = filepath.Join(t.TempDir(), "vault.bolt")
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop(), "test")
	require.NoError(t, err)
	return a
}

func TestApp_RoundTripPersists(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newTestApp(t, cfg)
	first.WarmCache(ctx)
	res := first.Anonymizer().Anonymize(ctx, "contact John Smith at john.smith@company.com", anonymizer.Options{})
	assert.Equal(t, "contact NAME_32ddaf65 at EMAIL_fdc2a4ab", res.Text)
	require.NoError(t, first.Close())

	second := newTestApp(t, cfg)
	defer second.Close()
	second.WarmCache(ctx)

	st := second.Store().Stats(ctx)
	assert.True(t, st.BackingStoreConnected)
	assert.Equal(t, 2, st.TokensInMemory)
	assert.Equal(t, int64(2), st.TokensInPersistentStore)

	restored := second.Deanonymizer().Deanonymize(ctx, res.Text, "")
	assert.Equal(t, "contact John Smith at john.smith@company.com", restored.Text)
}

func TestApp_DisabledDetectors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detection.Disabled = []string{"phone"}

	a := newTestApp(t, cfg)
	defer a.Close()

	res := a.Anonymizer().Anonymize(context.Background(), "call 555-123-4567", anonymizer.Options{})
	assert.Equal(t, "call 555-123-4567", res.Text)
}

func TestApp_UnknownDetector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detection.Disabled = []string{"ssn"}

	_, err := New(context.Background(), cfg, zerolog.Nop(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown detector")
}

func TestApp_UnknownStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "cassandra"

	_, err := New(context.Background(), cfg, zerolog.Nop(), "test")
	assert.Error(t, err)
}

func TestApp_APIServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "none"
	a := newTestApp(t, cfg)
	defer a.Close()

	srv := a.APIServer()

	req := httptest.NewRequest(http.MethodPost, "/secure-complete", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no api key configured")
	assert.JSONEq(t, `{"error":"LLM service not configured"}`, rec.Body.String())
}

func TestApp_ManagementServer(t *testing.T) {
	tests := []struct {
		name       string
		storage    string
		wantStatus string
	}{
		{name: "memory only is degraded without llm key", storage: "none", wantStatus: server.StatusDegraded},
		{name: "bolt without llm key", storage: "bolt", wantStatus: server.StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Storage.Type = tt.storage
			a := newTestApp(t, cfg)
			defer a.Close()

			rec := httptest.NewRecorder()
			a.ManagementServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var status server.HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.False(t, status.Checks["llm"].OK)
		})
	}
}

func TestApp_ManagementServer_Healthy(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = "sk-test"
	a := newTestApp(t, cfg)
	defer a.Close()
	a.WarmCache(context.Background())

	status := a.ManagementServer().Evaluate(context.Background())
	assert.Equal(t, server.StatusHealthy, status.Status)
	assert.True(t, status.Checks["backing_store"].OK)
}
