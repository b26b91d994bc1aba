// Command kaiwa is the main entry point for the Kaiwa chat server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kaiwa-ai/kaiwa/internal/app"
	"github.com/kaiwa-ai/kaiwa/internal/config"
	"github.com/kaiwa-ai/kaiwa/internal/observe"
	"github.com/kaiwa-ai/kaiwa/internal/resilience"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm/anyllm"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm/openai"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts/pytts"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kaiwa", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	// A missing file is fine: the defaults alone form a working local setup.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaiwa: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("kaiwa starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native SDK-backed provider for its richer streaming
	// surface (usage accounting on the final chunk).
	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []openai.Option
		if c.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.BaseURL))
		}
		if c.TimeoutSeconds > 0 {
			opts = append(opts, openai.WithTimeout(time.Duration(c.TimeoutSeconds)*time.Second))
		}
		return openai.New(c.APIKey, c.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all go
	// through any-llm-go and share the same pattern: optional APIKey + BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(c config.LLMConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if c.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
			}
			if c.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
			}
			return anyllm.New(providerName, c.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewOllama(c.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	// pytts talks to the Python synthesis sidecar over HTTP.
	reg.RegisterTTS("pytts", func(c config.PythonConfig) (tts.Provider, error) {
		var opts []pytts.Option
		if c.Timeout.ReadSeconds > 0 {
			opts = append(opts, pytts.WithTimeout(time.Duration(c.Timeout.ReadSeconds)*time.Second))
		}
		return pytts.New(c.Services.TTSURL, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The auxiliary LLM (search decisions, memory extraction) shares the main
// provider; app.New substitutes it when left nil.
//
// When llm.fallback is configured, the main LLM is a failover chain: the
// fallback backend takes over while the primary fails or its breaker is open.
// TTS always runs behind a circuit breaker so a dead sidecar fails fast
// instead of eating a synthesis timeout per sentence.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	ps.LLM = p
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	if f := cfg.LLM.Fallback; f != nil {
		fb, err := reg.CreateLLM(*f)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", f.Provider, err)
		}
		chain := resilience.NewLLMFallback(p, cfg.LLM.Provider, resilience.FallbackConfig{})
		chain.AddFallback(f.Provider, fb)
		ps.LLM = chain
		slog.Info("provider created", "kind", "llm", "name", f.Provider, "model", f.Model, "role", "fallback")
	}

	t, err := reg.CreateTTS("pytts", cfg.Python)
	if err != nil {
		return nil, fmt.Errorf("create tts provider: %w", err)
	}
	ps.TTS = resilience.NewTTSFallback(t, "pytts", resilience.FallbackConfig{})
	slog.Info("provider created", "kind", "tts", "name", "pytts", "url", cfg.Python.Services.TTSURL)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Kaiwa startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	printRow("TTS sidecar", cfg.Python.Services.TTSURL)
	if cfg.WebSearch.Enabled {
		printRow("Web search", cfg.WebSearch.DefaultEngine)
	} else {
		printRow("Web search", "(disabled)")
	}
	printRow("Data dir", cfg.Resource.BasePath)
	printRow("Listen addr", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-12s : %-22s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
