package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names without rejecting third-party ones.
var ValidLLMProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config]. A missing file is not an error: the defaults
// alone form a working local configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using defaults", "path", path)
			cfg := &Config{}
			cfg.ApplyDefaults()
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown LLM provider name, may be a typo or third-party provider",
			"name", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if f := cfg.LLM.Fallback; f != nil {
		if f.Provider == "" {
			errs = append(errs, errors.New("llm.fallback.provider is required when llm.fallback is set"))
		}
		if f.Fallback != nil {
			errs = append(errs, errors.New("llm.fallback must not carry its own fallback"))
		}
	}

	if cfg.Python.Services.TTSURL == "" {
		slog.Warn("python.services.tts_url is empty; audio strategies will fail synthesis")
	}

	if cfg.System.MaxContextTokens < 256 {
		errs = append(errs, fmt.Errorf("system.max_context_tokens %d is too small; minimum 256", cfg.System.MaxContextTokens))
	}

	if cfg.AI.StreamingChunkSize < 0 {
		errs = append(errs, fmt.Errorf("ai.streaming_chunk_size %d must not be negative", cfg.AI.StreamingChunkSize))
	}
	if cfg.AI.StreamingDelayMs < 0 {
		errs = append(errs, fmt.Errorf("ai.streaming_delay_ms %d must not be negative", cfg.AI.StreamingDelayMs))
	}

	if cfg.WebSearch.Enabled && cfg.WebSearch.DefaultEngine == "" {
		errs = append(errs, errors.New("web_search.default_engine is required when web_search.enabled is true"))
	}

	return errors.Join(errs...)
}
