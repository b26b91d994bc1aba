package main

import (
	"testing"

	"github.com/kaiwa-ai/kaiwa/internal/config"
	"github.com/kaiwa-ai/kaiwa/internal/resilience"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	llmmock "github.com/kaiwa-ai/kaiwa/pkg/provider/llm/mock"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	ttsmock "github.com/kaiwa-ai/kaiwa/pkg/provider/tts/mock"
)

func newStubRegistry(created map[string]int) *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"primary", "backup"} {
		reg.RegisterLLM(name, func(c config.LLMConfig) (llm.Provider, error) {
			created[c.Provider]++
			return &llmmock.Provider{}, nil
		})
	}
	reg.RegisterTTS("pytts", func(c config.PythonConfig) (tts.Provider, error) {
		created["pytts"]++
		return &ttsmock.Provider{}, nil
	})
	return reg
}

func TestBuildProvidersWrapsTTSWithBreaker(t *testing.T) {
	created := map[string]int{}
	cfg := &config.Config{LLM: config.LLMConfig{Provider: "primary", Model: "m"}}

	ps, err := buildProviders(cfg, newStubRegistry(created))
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*llmmock.Provider); !ok {
		t.Errorf("LLM without fallback config = %T, want the bare provider", ps.LLM)
	}
	if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
		t.Errorf("TTS = %T, want a breaker-wrapped provider", ps.TTS)
	}
	if created["primary"] != 1 || created["pytts"] != 1 {
		t.Errorf("factory calls = %v", created)
	}
}

func TestBuildProvidersChainsLLMFallback(t *testing.T) {
	created := map[string]int{}
	cfg := &config.Config{LLM: config.LLMConfig{
		Provider: "primary",
		Model:    "m",
		Fallback: &config.LLMConfig{Provider: "backup", Model: "m2"},
	}}

	ps, err := buildProviders(cfg, newStubRegistry(created))
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
		t.Errorf("LLM = %T, want a failover chain", ps.LLM)
	}
	if created["primary"] != 1 || created["backup"] != 1 {
		t.Errorf("factory calls = %v", created)
	}
}

func TestBuildProvidersUnknownFallbackFails(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		Provider: "primary",
		Fallback: &config.LLMConfig{Provider: "nonexistent"},
	}}
	if _, err := buildProviders(cfg, newStubRegistry(map[string]int{})); err == nil {
		t.Fatal("unregistered fallback provider should fail")
	}
}
