// Package ttspool provides the bounded asynchronous executor that turns
// sentences into audio blobs. The pool is shared across sessions; fairness is
// per-submit-time FIFO. Ordering of results is the caller's responsibility,
// keyed by (sessionId, sentenceOrder).
package ttspool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kaiwa-ai/kaiwa/internal/observe"
	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

const (
	// DefaultConcurrency is the number of synthesis calls allowed in flight.
	DefaultConcurrency = 3

	// DefaultTimeout bounds one synthesis HTTP call.
	DefaultTimeout = 30 * time.Second
)

// Task is one synthesis request.
type Task struct {
	SessionID string
	Sentence  types.Sentence
	SpeakerID string
	Speed     float64
	Format    string
}

// Result carries the synthesised audio or the failure for one task.
type Result struct {
	Task  Task
	Audio []byte
	Err   error
}

// Pool is a bounded TTS executor backed by a weighted semaphore. Waiters
// acquire in FIFO order, which gives per-submit-time fairness across sessions.
// All methods are safe for concurrent use.
type Pool struct {
	provider tts.Provider
	sem      *semaphore.Weighted
	timeout  time.Duration
	metrics  *observe.Metrics
}

// Option is a functional option for New.
type Option func(*Pool)

// WithMetrics records per-sentence synthesis latency and failures.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a Pool with the given concurrency limit and per-call timeout.
// Non-positive arguments fall back to the defaults.
func New(provider tts.Provider, concurrency int, timeout time.Duration, opts ...Option) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Pool{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		timeout:  timeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit enqueues task and returns a single-result future channel. The
// channel is buffered, so abandoning a future never blocks a worker.
//
// cancelled is polled after the worker slot is acquired and before the HTTP
// call starts: a cancelled session drops its pending tasks without spending a
// synthesis call. In-flight calls run to completion and their results are
// simply never read.
func (p *Pool) Submit(ctx context.Context, task Task, cancelled func() bool) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- Result{Task: task, Err: fmt.Errorf("ttspool: acquire worker: %w", err)}
			return
		}
		defer p.sem.Release(1)

		if cancelled != nil && cancelled() {
			out <- Result{Task: task, Err: context.Canceled}
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		audio, err := p.provider.Synthesize(callCtx, tts.SynthesisRequest{
			Text:      task.Sentence.Text,
			SpeakerID: task.SpeakerID,
			Speed:     task.Speed,
			Format:    task.Format,
		})
		if err != nil {
			slog.Warn("tts synthesis failed",
				"session_id", task.SessionID,
				"sentence_order", task.Sentence.Order,
				"err", err,
			)
			if p.metrics != nil {
				p.metrics.TTSErrors.Add(ctx, 1)
			}
			out <- Result{Task: task, Err: fmt.Errorf("ttspool: synthesize: %w", err)}
			return
		}
		if p.metrics != nil {
			p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		}
		slog.Debug("tts synthesis done",
			"session_id", task.SessionID,
			"sentence_order", task.Sentence.Order,
			"bytes", len(audio),
			"took", time.Since(start),
		)
		out <- Result{Task: task, Audio: audio}
	}()
	return out
}

// Await blocks on fut until a result arrives, ctx is cancelled, or timeout
// elapses. Timeout and cancellation are reported as a Result with Err set.
func Await(ctx context.Context, fut <-chan Result, timeout time.Duration) Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-fut:
		return r
	case <-timer.C:
		return Result{Err: context.DeadlineExceeded}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}
