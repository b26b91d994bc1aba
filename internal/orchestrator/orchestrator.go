// Package orchestrator drives one chat turn end to end: context assembly,
// LLM streaming, think filtering, strategy dispatch, drain, and persistence.
//
// Each turn walks the state machine
//
//	Building -> Streaming -> Draining -> Done | Cancelled | Failed
//
// with at most one active turn per session. A new user message during an
// active turn either interrupts it or waits in the session's depth-1 pending
// slot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kaiwa-ai/kaiwa/internal/channel"
	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/history"
	"github.com/kaiwa-ai/kaiwa/internal/knowledge"
	"github.com/kaiwa-ai/kaiwa/internal/memory"
	"github.com/kaiwa-ai/kaiwa/internal/observe"
	"github.com/kaiwa-ai/kaiwa/internal/prefs"
	"github.com/kaiwa-ai/kaiwa/internal/prompt"
	"github.com/kaiwa-ai/kaiwa/internal/stream"
	"github.com/kaiwa-ai/kaiwa/internal/ttspool"
	"github.com/kaiwa-ai/kaiwa/internal/websearch"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/llm"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// State names a position in the per-turn state machine.
type State string

const (
	StateIdle      State = "idle"
	StateBuilding  State = "building"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// TurnRequest carries one user message plus the per-turn snapshot of
// preferences into RunTurn.
type TurnRequest struct {
	Session     *chat.Session
	Content     string
	PersonaName string
	Preferences prefs.UserPreferences
	Emitter     channel.Emitter
}

// Orchestrator owns the collaborators shared by all turns. Construct with
// New; the zero value is not usable.
type Orchestrator struct {
	provider  llm.Provider
	pool      *ttspool.Pool
	knowledge *knowledge.Facade
	builder   *prompt.Builder
	history   *history.Store
	extractor *memory.Extractor
	decider   *websearch.Decider
	searcher  websearch.Searcher
	metrics   *observe.Metrics

	searchMaxResults int
	temperature      float64
	maxTokens        int
	chunkSize        int
	chunkDelay       time.Duration
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithHistory persists completed turns to the given store.
func WithHistory(s *history.Store) Option {
	return func(o *Orchestrator) { o.history = s }
}

// WithExtractor schedules background memory extraction after each turn.
func WithExtractor(e *memory.Extractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

// WithWebSearch enables the search collaborator: decider picks the turns
// that need fresh information, searcher answers them.
func WithWebSearch(d *websearch.Decider, s websearch.Searcher, maxResults int) Option {
	return func(o *Orchestrator) {
		o.decider = d
		o.searcher = s
		if maxResults > 0 {
			o.searchMaxResults = maxResults
		}
	}
}

// WithMetrics records stream latency, provider errors, and search outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStreamPacing sets the default outbound text chunking: at most
// chunkSize runes per text message, delayMs between pieces. Zero disables
// the respective part. Per-user streaming preferences still win.
func WithStreamPacing(chunkSize, delayMs int) Option {
	return func(o *Orchestrator) {
		o.chunkSize = chunkSize
		o.chunkDelay = time.Duration(delayMs) * time.Millisecond
	}
}

// WithLLMParams sets the default sampling parameters. Per-user preference
// overrides still win.
func WithLLMParams(temperature float64, maxTokens int) Option {
	return func(o *Orchestrator) {
		o.temperature = temperature
		o.maxTokens = maxTokens
	}
}

// New creates an Orchestrator. provider, pool, knowledge, and builder are
// required; the rest is optional via options.
func New(provider llm.Provider, pool *ttspool.Pool, kf *knowledge.Facade, builder *prompt.Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:         provider,
		pool:             pool,
		knowledge:        kf,
		builder:          builder,
		searchMaxResults: 3,
		temperature:      0.7,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch routes one text frame, honouring the single-turn invariant. When
// a turn is already active, interrupt=true cancels it and queues this
// message; otherwise the message waits in the pending slot (newest wins).
// The active turn's runner picks the pending message up when it finishes.
func (o *Orchestrator) Dispatch(ctx context.Context, req TurnRequest, in *chat.Inbound) {
	if !req.Session.TryBeginTurn() {
		if in.Interrupt {
			req.Session.Cancel()
			_ = req.Emitter.Emit(ctx, chat.NewSystem(req.Session.ID, "interrupt_confirm", ""))
		}
		req.Session.QueuePending(in)
		return
	}

	for {
		req.Content = in.Content
		if in.PersonaName != "" {
			req.PersonaName = in.PersonaName
		}
		state, err := o.RunTurn(ctx, req)
		if err != nil {
			slog.Warn("turn ended with error",
				"session_id", req.Session.ID, "state", string(state), "err", err)
		}
		next := req.Session.EndTurn()
		if next == nil || ctx.Err() != nil {
			return
		}
		if !req.Session.TryBeginTurn() {
			// Another dispatcher won the slot; it owns the queue now.
			req.Session.QueuePending(next)
			return
		}
		in = next
	}
}

// RunTurn executes one turn and returns its terminal state.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (State, error) {
	sessionID := req.Session.ID
	req.Session.ResetCancel()
	req.Session.Touch()
	start := time.Now()

	ctx, span := observe.StartSpan(ctx, "chat.turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	// Building.
	o.transition(sessionID, StateIdle, StateBuilding)
	messages, err := o.buildContext(ctx, req)
	if err != nil {
		_ = req.Emitter.Emit(ctx, chat.NewError(sessionID, "internal", "failed to assemble context"))
		return StateFailed, fmt.Errorf("orchestrator: build context: %w", err)
	}

	strat, err := o.newStrategy(req)
	if err != nil {
		_ = req.Emitter.Emit(ctx, chat.NewError(sessionID, "invalid_request", err.Error()))
		return StateFailed, fmt.Errorf("orchestrator: create strategy: %w", err)
	}

	// Streaming.
	o.transition(sessionID, StateBuilding, StateStreaming)
	llmReq := o.completionRequest(messages, req.Preferences)
	streamStart := time.Now()
	chunks, err := llm.StreamWithInterrupt(ctx, o.provider, llmReq, req.Session.Cancelled)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, "llm", "open_stream")
		}
		_ = req.Emitter.Emit(ctx, chat.NewError(sessionID, "upstream_unavailable", err.Error()))
		return StateFailed, fmt.Errorf("orchestrator: open stream: %w", err)
	}

	var (
		filter    stream.ThinkFilter
		assistant strings.Builder
		cancelled bool
		streamErr error
	)
	for chunk := range chunks {
		if req.Session.Cancelled() {
			cancelled = true
			break
		}
		if chunk.FinishReason == "interrupted" {
			cancelled = true
			break
		}
		if chunk.FinishReason == "error" {
			streamErr = errors.New(chunk.Text)
			break
		}
		if chunk.Text == "" {
			continue
		}
		if err := o.dispatchSegments(ctx, req, strat, filter.Feed(chunk.Text), &assistant); err != nil {
			streamErr = err
			break
		}
	}
	if cancelled || streamErr != nil {
		// Drain so the forwarding goroutine never blocks on a chunk nobody
		// reads.
		go func() {
			for range chunks {
			}
		}()
	}
	if streamErr == nil && !cancelled {
		if err := o.dispatchSegments(ctx, req, strat, filter.Flush(), &assistant); err != nil {
			streamErr = err
		}
	}
	if o.metrics != nil {
		o.metrics.LLMStreamDuration.Record(ctx, time.Since(streamStart).Seconds())
	}

	if streamErr != nil {
		if o.metrics != nil {
			o.metrics.RecordProviderError(ctx, "llm", "stream")
		}
		span.RecordError(streamErr)
		_ = req.Emitter.Emit(ctx, chat.NewError(sessionID, "upstream_unavailable", streamErr.Error()))
		// Terminal messages still go out so the client can close the turn.
		_ = strat.OnStreamComplete(ctx)
		return StateFailed, fmt.Errorf("orchestrator: stream: %w", streamErr)
	}

	// Draining. With the session cancel flag raised the strategies
	// short-circuit and only emit their terminal messages.
	o.transition(sessionID, StateStreaming, StateDraining)
	if err := strat.OnStreamComplete(ctx); err != nil {
		return StateFailed, fmt.Errorf("orchestrator: drain: %w", err)
	}

	if cancelled {
		o.transition(sessionID, StateDraining, StateCancelled)
		return StateCancelled, nil
	}

	o.persistTurn(req, assistant.String())
	o.transition(sessionID, StateDraining, StateDone)
	slog.Info("turn complete",
		"session_id", sessionID, "took", time.Since(start), "chars", assistant.Len())
	return StateDone, nil
}

// dispatchSegments routes filtered segments: dialogue to the strategy,
// thinking directly to the client. The cancellation flag is polled before
// every dispatch.
func (o *Orchestrator) dispatchSegments(ctx context.Context, req TurnRequest, strat channel.Strategy, segs []stream.Segment, assistant *strings.Builder) error {
	for _, seg := range segs {
		if req.Session.Cancelled() {
			return nil
		}
		if seg.Mode == stream.ModeThinking {
			if err := req.Emitter.Emit(ctx, chat.NewThinking(req.Session.ID, types.ChannelChatWindow, seg.Text, "reasoning")); err != nil {
				return err
			}
			continue
		}
		assistant.WriteString(seg.Text)
		if err := strat.ProcessChunk(ctx, seg.Text); err != nil {
			return err
		}
	}
	return nil
}

// buildContext runs the Building stage: knowledge fetch, the optional web
// search, history load, and the budgeted assembly.
func (o *Orchestrator) buildContext(ctx context.Context, req TurnRequest) ([]types.Message, error) {
	know, err := o.knowledge.Fetch(ctx, req.Session.ID, req.PersonaName, req.Content)
	if err != nil {
		return nil, err
	}

	webBlock := ""
	if req.Preferences.WebSearch.Enabled && o.decider != nil && o.searcher != nil {
		if o.decider.ShouldSearch(ctx, req.Content) {
			results, err := o.searcher.Search(ctx, req.Content, o.searchMaxResults)
			if err != nil {
				slog.Warn("web search failed, continuing without results",
					"session_id", req.Session.ID, "err", err)
			}
			if o.metrics != nil {
				status := "hit"
				switch {
				case err != nil:
					status = "error"
				case len(results) == 0:
					status = "empty"
				}
				o.metrics.RecordWebSearch(ctx, status)
			}
			webBlock = websearch.FormatResults(results)
		}
	}

	var hist []types.Message
	if o.history != nil {
		entries, err := o.history.Load(req.Session.ID)
		if err != nil {
			slog.Warn("history load failed, continuing without history",
				"session_id", req.Session.ID, "err", err)
		}
		hist = history.Messages(entries)
	}

	return o.builder.Build(prompt.Input{
		SystemPrompt:   know.SystemPrompt,
		WebSearchBlock: webBlock,
		KnowledgeBlock: knowledge.FormatBlock(know),
		History:        hist,
		UserMessage:    req.Content,
	}), nil
}

func (o *Orchestrator) completionRequest(messages []types.Message, p prefs.UserPreferences) llm.CompletionRequest {
	r := llm.CompletionRequest{
		Messages:    messages,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	if p.LLM.Temperature > 0 {
		r.Temperature = p.LLM.Temperature
	}
	if p.LLM.MaxTokens > 0 {
		r.MaxTokens = p.LLM.MaxTokens
	}
	return r
}

// newStrategy derives the output mode from the preference snapshot and
// builds the strategy instance for this turn.
func (o *Orchestrator) newStrategy(req TurnRequest) (channel.Strategy, error) {
	p := req.Preferences
	chunkSize, chunkDelay := o.chunkSize, o.chunkDelay
	if p.Streaming.ChunkSize > 0 {
		chunkSize = p.Streaming.ChunkSize
	}
	if p.Streaming.DelayMs > 0 {
		chunkDelay = time.Duration(p.Streaming.DelayMs) * time.Millisecond
	}
	cfg := channel.Config{
		SessionID:       req.Session.ID,
		Emitter:         req.Emitter,
		Pool:            o.pool,
		Playback:        req.Session,
		Cancelled:       req.Session.Cancelled,
		SpeakerID:       resolveSpeaker(p),
		Speed:           resolveSpeed(p),
		WindowSpeakerID: windowSpeaker(p),
		WindowSpeed:     windowSpeed(p),
		Format:          "wav",
		ChunkSize:       chunkSize,
		ChunkDelay:      chunkDelay,
		BubbleTimeout:   time.Duration(p.OutputChannel.Live2D.BubbleTimeoutMs) * time.Millisecond,
	}
	return channel.New(resolveMode(p), cfg)
}

// resolveMode maps the output-channel preferences onto one strategy mode.
// Both surfaces enabled means mixed; a single surface uses its configured
// mode; nothing enabled degrades to text_only.
func resolveMode(p prefs.UserPreferences) prefs.Mode {
	cw, l2d := p.OutputChannel.ChatWindow, p.OutputChannel.Live2D
	switch {
	case cw.Enabled && l2d.Enabled:
		return prefs.ModeMixed
	case l2d.Enabled:
		if l2d.Mode.IsValid() {
			return l2d.Mode
		}
		return prefs.ModeSentenceSync
	case cw.Enabled:
		if !cw.AutoTTS {
			return prefs.ModeTextOnly
		}
		if cw.Mode.IsValid() {
			return cw.Mode
		}
		return prefs.ModeCharStreamTTS
	}
	return prefs.ModeTextOnly
}

func resolveSpeaker(p prefs.UserPreferences) string {
	if p.OutputChannel.Live2D.Enabled && p.OutputChannel.Live2D.SpeakerID != "" {
		return p.OutputChannel.Live2D.SpeakerID
	}
	if p.OutputChannel.ChatWindow.SpeakerID != "" {
		return p.OutputChannel.ChatWindow.SpeakerID
	}
	return p.TTS.PreferredSpeaker
}

func resolveSpeed(p prefs.UserPreferences) float64 {
	if p.OutputChannel.Live2D.Enabled && p.OutputChannel.Live2D.Speed > 0 {
		return p.OutputChannel.Live2D.Speed
	}
	if p.TTS.Speed > 0 {
		return p.TTS.Speed
	}
	return 1.0
}

// windowSpeaker picks the chat-window synthesis voice. Unlike resolveSpeaker
// it never borrows the avatar voice, so mixed mode keeps the surfaces apart.
func windowSpeaker(p prefs.UserPreferences) string {
	if p.OutputChannel.ChatWindow.SpeakerID != "" {
		return p.OutputChannel.ChatWindow.SpeakerID
	}
	return p.TTS.PreferredSpeaker
}

func windowSpeed(p prefs.UserPreferences) float64 {
	if p.TTS.Speed > 0 {
		return p.TTS.Speed
	}
	return 1.0
}

// persistTurn appends the completed exchange to the history file and the
// in-memory session window, then schedules memory extraction. Thinking text
// never reaches either store.
func (o *Orchestrator) persistTurn(req TurnRequest, assistant string) {
	now := time.Now()
	req.Session.AppendHistory(types.Message{Role: types.RoleUser, Content: req.Content})
	req.Session.AppendHistory(types.Message{Role: types.RoleAssistant, Content: assistant})

	if o.history != nil {
		err := o.history.Append(req.Session.ID,
			history.NewEntry("text", types.RoleUser, req.Content, now),
			history.NewEntry("text", types.RoleAssistant, assistant, now),
		)
		if err != nil {
			slog.Error("history persist failed", "session_id", req.Session.ID, "err", err)
		}
	}
	if o.extractor != nil {
		o.extractor.ExtractAsync(req.Session.ID, req.Content, assistant)
	}
}

func (o *Orchestrator) transition(sessionID string, from, to State) {
	slog.Debug("turn state", "session_id", sessionID, "from", string(from), "to", string(to))
}
