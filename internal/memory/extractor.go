package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// extractionPrompt asks the model for a strict JSON array so the response can
// be parsed without free-text cleanup. Turns with nothing worth remembering
// yield an empty array.
const extractionPrompt = `从下面这轮对话中提取值得长期记住的信息。只输出一个 JSON 数组，不要任何其他文字。
每个元素形如 {"content": "...", "kind": "fact|preference|relationship|event", "importance": 1-10, "keywords": ["..."]}。
没有值得记住的内容时输出 []。

用户: %USER%
助手: %ASSISTANT%`

// extractTimeout bounds one background extraction call.
const extractTimeout = 30 * time.Second

// Extractor turns completed conversation turns into memory entries using an
// auxiliary LLM call. Extraction runs in the background and never blocks or
// fails a turn.
type Extractor struct {
	provider llm.Provider
	store    *Store

	wg sync.WaitGroup
}

// NewExtractor creates an Extractor writing into store.
func NewExtractor(provider llm.Provider, store *Store) *Extractor {
	return &Extractor{provider: provider, store: store}
}

// ExtractAsync schedules extraction for one completed turn. It returns
// immediately; errors are logged, not propagated.
func (e *Extractor) ExtractAsync(sessionID, userText, assistantText string) {
	if userText == "" && assistantText == "" {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
		defer cancel()
		if err := e.extract(ctx, sessionID, userText, assistantText); err != nil {
			slog.Warn("memory extraction failed", "session_id", sessionID, "err", err)
		}
	}()
}

// Wait blocks until all scheduled extractions finish. Used during shutdown.
func (e *Extractor) Wait() { e.wg.Wait() }

func (e *Extractor) extract(ctx context.Context, sessionID, userText, assistantText string) error {
	prompt := strings.NewReplacer(
		"%USER%", userText,
		"%ASSISTANT%", assistantText,
	).Replace(extractionPrompt)

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: prompt}},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}

	parsed := parseEntries(resp.Content)
	for _, p := range parsed {
		if _, err := e.store.Add(sessionID, p); err != nil {
			return err
		}
	}
	if len(parsed) > 0 {
		slog.Debug("memories extracted", "session_id", sessionID, "count", len(parsed))
	}
	return nil
}

// parseEntries decodes the model's JSON array, tolerating surrounding prose
// by slicing from the first '[' to the last ']'. Anything undecodable yields
// no entries.
func parseEntries(text string) []Entry {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil
	}
	var raw []struct {
		Content    string   `json:"content"`
		Kind       Kind     `json:"kind"`
		Importance int      `json:"importance"`
		Keywords   []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}
	var out []Entry
	for _, r := range raw {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		out = append(out, Entry{
			Content:    r.Content,
			Kind:       r.Kind,
			Importance: r.Importance,
			Keywords:   r.Keywords,
		})
	}
	return out
}
