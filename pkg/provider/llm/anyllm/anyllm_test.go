package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "qwen3:8b")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("ollama", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_Anthropic_WithAPIKey checks that the Anthropic backend constructs.
func TestNew_Anthropic_WithAPIKey(t *testing.T) {
	p, err := New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "claude-3-5-sonnet-latest" {
		t.Errorf("model = %q", p.model)
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := NewOllama("qwen3:8b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

// TestCountTokens_Estimation checks that token counting returns a reasonable value.
func TestCountTokens_Estimation(t *testing.T) {
	p := &Provider{model: "qwen3:8b"}
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello world"}, // 11 chars → ~3 tokens + 4 overhead = 7
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count <= 0 {
		t.Errorf("expected positive token count, got %d", count)
	}
}

// TestCountTokens_Empty checks that an empty message list returns zero tokens.
func TestCountTokens_Empty(t *testing.T) {
	p := &Provider{model: "qwen3:8b"}
	count, err := p.CountTokens(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", count)
	}
}

// TestCountTokens_MultipleMessages checks that multiple messages accumulate.
func TestCountTokens_MultipleMessages(t *testing.T) {
	p := &Provider{model: "qwen3:8b"}
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello"},
		{Role: types.RoleAssistant, Content: "Hi there, how can I help?"},
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	singleCount, _ := p.CountTokens(msgs[:1])
	if count <= singleCount {
		t.Errorf("expected more tokens for two messages than one: %d <= %d", count, singleCount)
	}
}

// ── Capabilities ──────────────────────────────────────────────────────────────

// TestCapabilities_ByModelFamily checks the per-family context window table.
func TestCapabilities_ByModelFamily(t *testing.T) {
	tests := []struct {
		model         string
		contextWindow int
	}{
		{"claude-3-5-sonnet-latest", 200_000},
		{"gemini-2.0-flash", 1_048_576},
		{"qwen3:8b", 32_768},
		{"llama3.1:70b", 32_768},
		{"some-unknown-model", 128_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p := &Provider{model: tt.model}
			caps := p.Capabilities()
			if caps.ContextWindow != tt.contextWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.contextWindow)
			}
			if !caps.SupportsStreaming {
				t.Error("expected SupportsStreaming=true")
			}
			if caps.MaxOutputTokens <= 0 {
				t.Error("expected positive MaxOutputTokens")
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks that the system prompt becomes the
// leading message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "qwen3:8b"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "你是一个助手。",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "你好"},
		},
	})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("second message role = %q, want user", params.Messages[1].Role)
	}
	if params.Model != "qwen3:8b" {
		t.Errorf("model = %q", params.Model)
	}
}

// TestBuildParams_OptionalFields checks that zero temperature and max tokens
// stay unset.
func TestBuildParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "qwen3:8b"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature should stay unset")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens should stay unset")
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
	})
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v, want 256", params.MaxTokens)
	}
}
