// Package app wires all Kaiwa subsystems into a running chat server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from the config, Run serves HTTP until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject alternative stores via functional options
// (WithPersonaStore, WithHistoryStore, etc.). When an option is not provided,
// New creates the real filesystem-backed implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/config"
	"github.com/kaiwa-ai/kaiwa/internal/health"
	"github.com/kaiwa-ai/kaiwa/internal/history"
	"github.com/kaiwa-ai/kaiwa/internal/knowledge"
	"github.com/kaiwa-ai/kaiwa/internal/memory"
	"github.com/kaiwa-ai/kaiwa/internal/observe"
	"github.com/kaiwa-ai/kaiwa/internal/orchestrator"
	"github.com/kaiwa-ai/kaiwa/internal/persona"
	"github.com/kaiwa-ai/kaiwa/internal/prefs"
	"github.com/kaiwa-ai/kaiwa/internal/prompt"
	"github.com/kaiwa-ai/kaiwa/internal/server"
	"github.com/kaiwa-ai/kaiwa/internal/ttspool"
	"github.com/kaiwa-ai/kaiwa/internal/websearch"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// cmd/kaiwa via the config registry. LLM and TTS are required; a nil AuxLLM
// falls back to the main LLM for decisions and extraction.
type Providers struct {
	LLM    llm.Provider
	AuxLLM llm.Provider
	TTS    tts.Provider
}

// App owns all subsystem lifetimes for the Kaiwa chat server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	sessions    *chat.Manager
	personas    *persona.Store
	preferences *prefs.Dir
	history     *history.Store
	memories    *memory.Store
	extractor   *memory.Extractor
	worldBook   *knowledge.WorldBook
	facade      *knowledge.Facade
	builder     *prompt.Builder
	pool        *ttspool.Pool
	orch        *orchestrator.Orchestrator
	srv         *server.Server
	httpSrv     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once

	// version is reported by /api/system/info.
	version string
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPersonaStore injects a persona store instead of creating one from config.
func WithPersonaStore(s *persona.Store) Option {
	return func(a *App) { a.personas = s }
}

// WithHistoryStore injects a history store instead of creating one from config.
func WithHistoryStore(s *history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMemoryStore injects a memory store instead of creating one from config.
func WithMemoryStore(s *memory.Store) Option {
	return func(a *App) { a.memories = s }
}

// WithVersion sets the version string reported by the system API.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from cmd/kaiwa (populated via the config registry).
//
// New performs all initialisation synchronously: store loading, knowledge
// facade assembly, TTS pool construction, orchestrator wiring, and the HTTP
// surface. Nothing is listening until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if providers.TTS == nil {
		return nil, errors.New("app: a TTS provider is required")
	}
	if providers.AuxLLM == nil {
		providers.AuxLLM = providers.LLM
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStores(); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	a.initPipeline()
	a.initServer()
	return a, nil
}

// initStores sets up the filesystem-backed stores under the resource base
// path, unless injected via options.
func (a *App) initStores() error {
	base := a.cfg.Resource.BasePath

	if a.personas == nil {
		p, err := persona.NewStore(filepath.Join(base, a.cfg.Resource.Data.Personas))
		if err != nil {
			return err
		}
		a.personas = p
	}
	a.personas.StartWatcher(0)
	a.closers = append(a.closers, func() error {
		a.personas.Stop()
		return nil
	})

	if a.history == nil {
		h, err := history.NewStore(filepath.Join(base, a.cfg.Resource.Data.Sessions))
		if err != nil {
			return err
		}
		a.history = h
	}

	if a.memories == nil {
		m, err := memory.NewStore(filepath.Join(base, a.cfg.Resource.Data.Memories))
		if err != nil {
			return err
		}
		a.memories = m
	}

	wb, err := knowledge.NewWorldBook(filepath.Join(base, "worldbook"))
	if err != nil {
		return err
	}
	a.worldBook = wb

	a.preferences = prefs.NewDir(filepath.Join(base, "preferences"))
	a.sessions = chat.NewManager(a.cfg.SessionTimeout())
	sessMetrics := observe.DefaultMetrics()
	a.sessions.OnCount(func(delta int) {
		sessMetrics.ActiveSessions.Add(context.Background(), int64(delta))
	})
	return nil
}

// initPipeline builds the turn pipeline: knowledge facade, prompt builder,
// TTS pool, memory extractor, optional web search, and the orchestrator.
func (a *App) initPipeline() {
	cfg := a.cfg

	a.facade = knowledge.NewFacade(a.personas, a.memories, a.worldBook,
		knowledge.WithPrompts(cfg.AI.SystemPrompt.Base, cfg.AI.SystemPrompt.Fallback),
		knowledge.WithPersonaEnabled(cfg.AI.SystemPrompt.EnablePersona == nil || *cfg.AI.SystemPrompt.EnablePersona),
	)
	a.builder = prompt.NewBuilder(prompt.WithMaxTokens(cfg.System.MaxContextTokens))
	a.pool = ttspool.New(a.providers.TTS, cfg.System.TTSConcurrency, cfg.TTSTaskTimeout(),
		ttspool.WithMetrics(observe.DefaultMetrics()))
	a.extractor = memory.NewExtractor(a.providers.AuxLLM, a.memories)

	orchOpts := []orchestrator.Option{
		orchestrator.WithHistory(a.history),
		orchestrator.WithExtractor(a.extractor),
		orchestrator.WithMetrics(observe.DefaultMetrics()),
		orchestrator.WithLLMParams(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		orchestrator.WithStreamPacing(cfg.AI.StreamingChunkSize, cfg.AI.StreamingDelayMs),
	}
	if cfg.WebSearch.Enabled {
		searcher := websearch.NewWikipedia(
			websearch.WithTimeout(time.Duration(cfg.WebSearch.TimeoutSeconds)*time.Second),
			websearch.WithEmptyFallback(cfg.WebSearch.EnableFallback),
		)
		decider := websearch.NewDecider(
			a.providers.AuxLLM,
			time.Duration(cfg.AI.WebSearchDecision.TimeoutSeconds)*time.Second,
			cfg.AI.WebSearchDecision.EnableTimeoutFallback,
		)
		orchOpts = append(orchOpts, orchestrator.WithWebSearch(decider, searcher, cfg.WebSearch.MaxResults))
	}
	a.orch = orchestrator.New(a.providers.LLM, a.pool, a.facade, a.builder, orchOpts...)
}

// initServer assembles the HTTP surface around the pipeline.
func (a *App) initServer() {
	checker := health.New(
		health.LLM(a.providers.LLM),
		health.TTS(a.providers.TTS),
	)
	a.srv = server.New(server.Deps{
		Sessions:    a.sessions,
		Dispatcher:  a.orch,
		Personas:    a.personas,
		Preferences: a.preferences,
		History:     a.history,
		Health:      checker,
		Metrics:     observe.DefaultMetrics(),
		Version:     a.version,
		Model:       a.cfg.LLM.Model,
		LLMProvider: a.cfg.LLM.Provider,
		TTSBackend:  a.cfg.Python.Services.TTSURL,
	})
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the full route table, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Routes()
}

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// On cancellation it drains in-flight requests with a bounded timeout.
func (a *App) Run(ctx context.Context) error {
	a.sessions.StartEviction(ctx)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("kaiwa listening",
		"addr", a.cfg.Server.ListenAddr,
		"llm", a.cfg.LLM.Provider,
		"model", a.cfg.LLM.Model,
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain incomplete", "err", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems. It waits for background memory
// extractions to finish, then runs the closers in order. It respects the
// context deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		done := make(chan struct{})
		go func() {
			a.extractor.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown: memory extraction still running, abandoning")
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
