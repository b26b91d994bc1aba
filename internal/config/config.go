// Package config provides the configuration schema, loader, and provider
// registry for the Kaiwa chat server.
package config

import "time"

// LogLevel controls log verbosity for the Kaiwa server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Kaiwa.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Python    PythonConfig    `yaml:"python"`
	System    SystemConfig    `yaml:"system"`
	AI        AIConfig        `yaml:"ai"`
	WebSearch WebSearchConfig `yaml:"web_search"`
	Resource  ResourceConfig  `yaml:"resource"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// LLMConfig selects and parameterises the LLM backend.
type LLMConfig struct {
	// Provider selects the registered implementation (e.g., "openai", "ollama").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint
	// (e.g., "http://localhost:11434" for a local Ollama).
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "qwen3:8b", "gpt-4o-mini").
	Model string `yaml:"model"`

	// TimeoutSeconds bounds one completion request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls output randomness.
	Temperature float64 `yaml:"temperature"`

	// Stream enables streaming completions. Defaults to true.
	Stream *bool `yaml:"stream"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallback optionally names a second backend tried when this provider
	// fails or its circuit breaker opens. One level only; a fallback carrying
	// its own fallback is rejected.
	Fallback *LLMConfig `yaml:"fallback"`
}

// PythonConfig points at the Python sidecar services.
type PythonConfig struct {
	Services PythonServices `yaml:"services"`
	Timeout  PythonTimeouts `yaml:"timeout"`
}

// PythonServices holds the sidecar endpoint URLs.
type PythonServices struct {
	ASRURL string `yaml:"asr_url"`
	TTSURL string `yaml:"tts_url"`
	VADURL string `yaml:"vad_url"`
	OCRURL string `yaml:"ocr_url"`
}

// PythonTimeouts holds the sidecar HTTP timeouts, in seconds.
type PythonTimeouts struct {
	ConnectSeconds int `yaml:"connect_seconds"`
	ReadSeconds    int `yaml:"read_seconds"`
	WriteSeconds   int `yaml:"write_seconds"`

	// TTSTaskSeconds bounds one chat-window synthesis task.
	TTSTaskSeconds int `yaml:"tts_task_seconds"`

	// Live2DTTSTaskSeconds bounds one avatar-bubble synthesis task.
	Live2DTTSTaskSeconds int `yaml:"live2d_tts_task_seconds"`
}

// SystemConfig holds session and context limits.
type SystemConfig struct {
	// MaxContextTokens caps the prompt budget per turn.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// SessionTimeoutSeconds is the idle time before a session is evicted.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds"`

	// TTSConcurrency bounds the shared synthesis pool.
	TTSConcurrency int `yaml:"tts_concurrency"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig holds WebSocket keepalive settings.
type WebSocketConfig struct {
	PingIntervalSeconds  int `yaml:"ping_interval_seconds"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// AIConfig holds prompt assembly and streaming pacing settings.
type AIConfig struct {
	// StreamingChunkSize is the preferred outbound text chunk size in runes.
	// Zero forwards LLM chunks unmodified.
	StreamingChunkSize int `yaml:"streaming_chunk_size"`

	// StreamingDelayMs paces outbound text chunks. Zero disables pacing.
	StreamingDelayMs int `yaml:"streaming_delay_ms"`

	SystemPrompt      SystemPromptConfig      `yaml:"system_prompt"`
	WebSearchDecision WebSearchDecisionConfig `yaml:"web_search_decision"`
}

// SystemPromptConfig configures the system prompt sources.
type SystemPromptConfig struct {
	// Base is the default system prompt when no persona applies.
	Base string `yaml:"base"`

	// Fallback is used when both persona and base are empty.
	Fallback string `yaml:"fallback"`

	// EnablePersona injects the active persona's prompt. Defaults to true.
	EnablePersona *bool `yaml:"enable_persona"`
}

// WebSearchDecisionConfig bounds the auxiliary should-we-search LLM call.
type WebSearchDecisionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// EnableTimeoutFallback selects the conservative policy: on decision
	// timeout, search anyway instead of skipping.
	EnableTimeoutFallback bool `yaml:"enable_timeout_fallback"`
}

// WebSearchConfig configures the web-search collaborator.
type WebSearchConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MaxResults     int    `yaml:"max_results"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	DefaultEngine  string `yaml:"default_engine"`

	// EnableFallback returns an empty result set instead of an error when the
	// search backend is unreachable.
	EnableFallback bool `yaml:"enable_fallback"`
}

// ResourceConfig holds filesystem layout settings.
type ResourceConfig struct {
	// BasePath is the root under which the data directories live.
	BasePath string `yaml:"base_path"`

	// LogPath is the directory for log files.
	LogPath string `yaml:"log_path"`

	Data DataPaths `yaml:"data"`
}

// DataPaths names the per-kind data directories, relative to BasePath.
type DataPaths struct {
	Memories string `yaml:"memories"`
	Personas string `yaml:"personas"`
	Sessions string `yaml:"sessions"`
}

// ApplyDefaults fills unset fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "qwen3:8b"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.Stream == nil {
		t := true
		c.LLM.Stream = &t
	}
	if f := c.LLM.Fallback; f != nil {
		if f.Model == "" {
			f.Model = c.LLM.Model
		}
		if f.TimeoutSeconds <= 0 {
			f.TimeoutSeconds = c.LLM.TimeoutSeconds
		}
	}
	if c.Python.Services.TTSURL == "" {
		c.Python.Services.TTSURL = "http://localhost:8000"
	}
	if c.Python.Timeout.TTSTaskSeconds <= 0 {
		c.Python.Timeout.TTSTaskSeconds = 10
	}
	if c.Python.Timeout.Live2DTTSTaskSeconds <= 0 {
		c.Python.Timeout.Live2DTTSTaskSeconds = 30
	}
	if c.System.MaxContextTokens <= 0 {
		c.System.MaxContextTokens = 4000
	}
	if c.System.SessionTimeoutSeconds <= 0 {
		c.System.SessionTimeoutSeconds = 1800
	}
	if c.System.TTSConcurrency <= 0 {
		c.System.TTSConcurrency = 3
	}
	if c.System.WebSocket.PingIntervalSeconds <= 0 {
		c.System.WebSocket.PingIntervalSeconds = 30
	}
	if c.AI.SystemPrompt.EnablePersona == nil {
		t := true
		c.AI.SystemPrompt.EnablePersona = &t
	}
	if c.AI.WebSearchDecision.TimeoutSeconds <= 0 {
		c.AI.WebSearchDecision.TimeoutSeconds = 3
	}
	if c.WebSearch.MaxResults <= 0 {
		c.WebSearch.MaxResults = 3
	}
	if c.WebSearch.TimeoutSeconds <= 0 {
		c.WebSearch.TimeoutSeconds = 8
	}
	if c.WebSearch.DefaultEngine == "" {
		c.WebSearch.DefaultEngine = "wikipedia"
	}
	if c.Resource.BasePath == "" {
		c.Resource.BasePath = "./data"
	}
	if c.Resource.LogPath == "" {
		c.Resource.LogPath = "./logs"
	}
	if c.Resource.Data.Memories == "" {
		c.Resource.Data.Memories = "memories"
	}
	if c.Resource.Data.Personas == "" {
		c.Resource.Data.Personas = "personas"
	}
	if c.Resource.Data.Sessions == "" {
		c.Resource.Data.Sessions = "sessions"
	}
}

// SessionTimeout returns the idle eviction timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.System.SessionTimeoutSeconds) * time.Second
}

// LLMTimeout returns the per-completion timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// TTSTaskTimeout returns the chat-window synthesis timeout as a duration.
func (c *Config) TTSTaskTimeout() time.Duration {
	return time.Duration(c.Python.Timeout.TTSTaskSeconds) * time.Second
}

// Live2DTTSTaskTimeout returns the avatar synthesis timeout as a duration.
func (c *Config) Live2DTTSTaskTimeout() time.Duration {
	return time.Duration(c.Python.Timeout.Live2DTTSTaskSeconds) * time.Second
}
