package config

import (
	"strings"
	"testing"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.System.MaxContextTokens != 4000 {
		t.Errorf("max_context_tokens = %d, want 4000", cfg.System.MaxContextTokens)
	}
	if cfg.System.TTSConcurrency != 3 {
		t.Errorf("tts_concurrency = %d, want 3", cfg.System.TTSConcurrency)
	}
	if cfg.LLM.Stream == nil || !*cfg.LLM.Stream {
		t.Error("llm.stream default should be true")
	}
	if cfg.AI.SystemPrompt.EnablePersona == nil || !*cfg.AI.SystemPrompt.EnablePersona {
		t.Error("ai.system_prompt.enable_persona default should be true")
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
llm:
  provider: ollama
  base_url: http://localhost:11434
  model: qwen3:8b
  temperature: 0.7
  max_tokens: 2048
python:
  services:
    tts_url: http://localhost:8001
  timeout:
    tts_task_seconds: 12
    live2d_tts_task_seconds: 25
system:
  max_context_tokens: 8000
  session_timeout_seconds: 600
  tts_concurrency: 5
ai:
  streaming_chunk_size: 8
  streaming_delay_ms: 20
  system_prompt:
    base: "You are a helpful assistant."
    enable_persona: false
web_search:
  enabled: true
  default_engine: wikipedia
resource:
  base_path: /var/lib/kaiwa
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Python.Services.TTSURL != "http://localhost:8001" {
		t.Errorf("tts_url = %q", cfg.Python.Services.TTSURL)
	}
	if cfg.TTSTaskTimeout().Seconds() != 12 {
		t.Errorf("tts task timeout = %v", cfg.TTSTaskTimeout())
	}
	if cfg.System.TTSConcurrency != 5 {
		t.Errorf("tts_concurrency = %d", cfg.System.TTSConcurrency)
	}
	if cfg.AI.SystemPrompt.EnablePersona == nil || *cfg.AI.SystemPrompt.EnablePersona {
		t.Error("enable_persona should be explicitly false")
	}
	if cfg.Resource.Data.Sessions != "sessions" {
		t.Errorf("data.sessions default = %q", cfg.Resource.Data.Sessions)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("bogus_section:\n  x: 1\n")); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3.5 }},
		{"context budget too small", func(c *Config) { c.System.MaxContextTokens = 10 }},
		{"negative chunk size", func(c *Config) { c.AI.StreamingChunkSize = -1 }},
		{"tls missing key", func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} }},
		{"search enabled without engine", func(c *Config) {
			c.WebSearch.Enabled = true
			c.WebSearch.DefaultEngine = ""
		}},
		{"fallback without provider", func(c *Config) { c.LLM.Fallback = &LLMConfig{Model: "m"} }},
		{"nested fallback", func(c *Config) {
			c.LLM.Fallback = &LLMConfig{Provider: "ollama", Fallback: &LLMConfig{Provider: "openai"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateLLM(LLMConfig{Provider: "nope"}); err == nil {
		t.Error("expected ErrProviderNotRegistered")
	}
	if _, err := r.CreateTTS("nope", PythonConfig{}); err == nil {
		t.Error("expected ErrProviderNotRegistered")
	}
}
