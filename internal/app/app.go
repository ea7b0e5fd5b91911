// Package app wires configuration, storage, detection and the HTTP surfaces
// into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/anonymizer"
	"github.com/hfi/pii-vault/internal/api"
	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/completion"
	"github.com/hfi/pii-vault/internal/config"
	"github.com/hfi/pii-vault/internal/detector"
	"github.com/hfi/pii-vault/internal/llm"
	"github.com/hfi/pii-vault/internal/mapping"
	"github.com/hfi/pii-vault/internal/server"
	"github.com/hfi/pii-vault/internal/storage"
	"github.com/hfi/pii-vault/pkg/token"
)

const shutdownTimeout = 10 * time.Second

// App holds the assembled service
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	version string

	auditor      *audit.Logger
	store        *mapping.Store
	pipeline     *detector.Pipeline
	anonymizer   *anonymizer.Anonymizer
	deanonymizer *anonymizer.Deanonymizer
	llm          *llm.Client
	orchestrator *completion.Orchestrator
}

// New builds every component from cfg. The backing store is created but not
// contacted; call Run or WarmCache to connect.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, version string) (*App, error) {
	auditor, err := audit.NewLogger(&cfg.Logging.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	backend, err := storage.New(ctx, cfg.StorageBackend())
	if err != nil {
		_ = auditor.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	codec := token.NewCodec(cfg.Token.Length)
	store := mapping.NewStore(codec,
		mapping.WithBackend(backend),
		mapping.WithLogger(logger),
		mapping.WithAuditor(auditor),
		mapping.WithOpTimeout(cfg.Storage.OpTimeout),
	)

	pipeline := detector.NewDefaultPipeline()
	for _, name := range cfg.Detection.Disabled {
		if err := pipeline.SetEnabled(name, false); err != nil {
			_ = store.Close()
			_ = auditor.Close()
			return nil, fmt.Errorf("detection.disabled: %w", err)
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, llm.WithLogger(logger), llm.WithRetryMaxAttempts(cfg.LLM.MaxRetries))

	anon := anonymizer.New(pipeline, codec, store, logger, auditor)
	dean := anonymizer.NewDeanonymizer(codec, store, logger, auditor)

	return &App{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		auditor:      auditor,
		store:        store,
		pipeline:     pipeline,
		anonymizer:   anon,
		deanonymizer: dean,
		llm:          llmClient,
		orchestrator: completion.NewOrchestrator(anon, dean, llmClient, logger, auditor),
	}, nil
}

// Store returns the mapping store
func (a *App) Store() *mapping.Store { return a.store }

// Anonymizer returns the anonymizer
func (a *App) Anonymizer() *anonymizer.Anonymizer { return a.anonymizer }

// Deanonymizer returns the deanonymizer
func (a *App) Deanonymizer() *anonymizer.Deanonymizer { return a.deanonymizer }

// Orchestrator returns the secure completion orchestrator
func (a *App) Orchestrator() *completion.Orchestrator { return a.orchestrator }

// WarmCache connects to the backing store and loads existing mappings
func (a *App) WarmCache(ctx context.Context) {
	a.store.WarmCache(ctx)
}

// APIServer builds the HTTP API
func (a *App) APIServer() *api.Server {
	h := api.NewHandler(a.anonymizer, a.deanonymizer, a.orchestrator, a.store, a.cfg.Detection.LenientNames, a.logger)
	return api.NewServer(h, api.Config{
		BodyLimit:    a.cfg.Server.BodyLimit,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}, a.logger)
}

// ManagementServer builds the health and metrics server with the vault's checks
func (a *App) ManagementServer() *server.Server {
	m := a.cfg.Management
	srv := server.New(&server.Config{
		Addr:        m.Addr,
		MetricsPath: m.MetricsPath,
		HealthPath:  m.HealthPath,
		ReadyPath:   m.ReadyPath,
		LivePath:    m.LivePath,
		Version:     a.version,
	})

	srv.RegisterHealthCheck("backing_store", false, func(context.Context) (bool, string) {
		if a.cfg.Storage.Type == storage.TypeNone {
			return true, "disabled"
		}
		if !a.store.IsBackingStoreAvailable() {
			return false, a.cfg.Storage.Type + " unreachable, running memory-only"
		}
		return true, a.cfg.Storage.Type
	})
	srv.RegisterHealthCheck("llm", false, func(context.Context) (bool, string) {
		if !a.llm.Configured() {
			return false, "not configured"
		}
		return true, a.llm.Model()
	})

	return srv
}

// Run serves the API and management endpoints until ctx is done, then shuts
// both down
func (a *App) Run(ctx context.Context) error {
	a.WarmCache(ctx)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go a.store.Monitor(monitorCtx, a.cfg.Storage.HealthInterval)

	apiSrv := a.APIServer()
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info().Str("addr", a.cfg.Server.Listen).Str("version", a.version).Msg("API server listening")
		if err := apiSrv.Start(a.cfg.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	var mgmt *server.Server
	if a.cfg.Management.Enabled {
		mgmt = a.ManagementServer()
		go func() {
			a.logger.Info().Str("addr", mgmt.Addr()).Msg("management server listening")
			if err := mgmt.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("management server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutting down")
	case runErr = <-errCh:
		a.logger.Error().Err(runErr).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("api server shutdown")
	}
	if mgmt != nil {
		if err := mgmt.Stop(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("management server shutdown")
		}
	}

	return runErr
}

// Close flushes pending work and releases the backing store and audit log
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.auditor.Close())
}
