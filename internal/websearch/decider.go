package websearch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// decisionPrompt asks the auxiliary model for a bare yes/no verdict.
const decisionPrompt = `判断下面的用户问题是否需要查询最新的网络信息才能回答。
只回答"是"或"否"，不要任何其他文字。

用户问题: `

// Decider decides per turn whether to run a web search. The LLM call is
// bounded by a short timeout; the timeout policy and a keyword heuristic
// cover the cases where the model cannot answer in time.
type Decider struct {
	provider llm.Provider
	timeout  time.Duration

	// searchOnTimeout selects the conservative policy: when the decision
	// call times out, search anyway instead of skipping.
	searchOnTimeout bool
}

// NewDecider creates a Decider. A zero timeout defaults to 3 seconds.
func NewDecider(provider llm.Provider, timeout time.Duration, searchOnTimeout bool) *Decider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Decider{provider: provider, timeout: timeout, searchOnTimeout: searchOnTimeout}
}

// ShouldSearch reports whether the question needs fresh web information.
// Never returns an error; on any failure it falls back to the heuristic or
// the configured timeout policy.
func (d *Decider) ShouldSearch(ctx context.Context, question string) bool {
	if strings.TrimSpace(question) == "" {
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.provider.Complete(dctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: decisionPrompt + question}},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || dctx.Err() != nil {
			slog.Debug("search decision timed out", "search_on_timeout", d.searchOnTimeout)
			return d.searchOnTimeout
		}
		slog.Debug("search decision failed, using heuristic", "err", err)
		return heuristicShouldSearch(question)
	}

	answer := strings.TrimSpace(resp.Content)
	switch {
	case strings.HasPrefix(answer, "是"), strings.HasPrefix(strings.ToLower(answer), "yes"):
		return true
	case strings.HasPrefix(answer, "否"), strings.HasPrefix(strings.ToLower(answer), "no"):
		return false
	}
	return heuristicShouldSearch(question)
}

// freshnessMarkers are question fragments that usually need live data.
var freshnessMarkers = []string{
	"今天", "现在", "最新", "最近", "新闻", "天气", "股价", "汇率", "价格",
	"today", "now", "latest", "news", "weather", "current",
}

func heuristicShouldSearch(question string) bool {
	lower := strings.ToLower(question)
	for _, m := range freshnessMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
