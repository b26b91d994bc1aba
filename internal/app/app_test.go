package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/config"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	llmmock "github.com/kaiwa-ai/kaiwa/pkg/provider/llm/mock"
	ttsmock "github.com/kaiwa-ai/kaiwa/pkg/provider/tts/mock"
)

// testConfig returns a working config rooted in a temp directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Resource.BasePath = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, providers *Providers) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), providers, WithVersion("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNewRequiresProviders(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Error("nil providers: expected error")
	}
	if _, err := New(context.Background(), cfg, &Providers{TTS: &ttsmock.Provider{}}); err == nil {
		t.Error("missing LLM: expected error")
	}
	if _, err := New(context.Background(), cfg, &Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("missing TTS: expected error")
	}
}

func TestHandlerServesSystemEndpoints(t *testing.T) {
	a := newTestApp(t, &Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/api/system/info", "/api/system/stats", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

// TestEndToEndTurn exercises the whole wired pipeline: a WebSocket text frame
// through the orchestrator and mock LLM back out as streaming frames, with
// the transcript persisted.
func TestEndToEndTurn(t *testing.T) {
	a := newTestApp(t, &Providers{
		LLM: &llmmock.Provider{
			StreamChunks: []llm.Chunk{
				{Text: "你好！"},
				{Text: "很高兴见到你。", FinishReason: "stop"},
			},
		},
		TTS: &ttsmock.Provider{Audio: []byte("wav-bytes")},
	})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()

	err = wsjson.Write(ctx, c, map[string]any{
		"type": "text", "sessionId": "e2e", "content": "你好",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var (
		text     strings.Builder
		audio    int
		terminal bool
	)
	for !terminal {
		var m chat.Message
		if err := wsjson.Read(ctx, c, &m); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case m.StreamComplete:
			terminal = true
		case m.Type == chat.TypeText:
			text.WriteString(m.Content)
		case m.Type == chat.TypeAudio:
			audio++
		}
	}

	if got := text.String(); got != "你好！很高兴见到你。" {
		t.Errorf("streamed text = %q", got)
	}
	// Default preferences use char_stream_tts: both sentences are synthesised.
	if audio != 2 {
		t.Errorf("audio messages = %d, want 2", audio)
	}

	// The transcript lands on disk once the turn finishes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := a.history.Load("e2e")
		if err == nil && len(entries) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history entries = %d, want 2 (err=%v)", len(entries), err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a := newTestApp(t, &Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
