// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two probe endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker. The same
// aggregate is available programmatically via [Handler.Evaluate] so the system
// API can report it without a second probe round.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "tts",
	// "llm"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// TTS returns a [Checker] that probes the speech backend by listing its
// available speakers.
func TTS(p tts.Provider) Checker {
	return Checker{
		Name: "tts",
		Check: func(ctx context.Context) error {
			_, err := p.ListSpeakers(ctx)
			return err
		},
	}
}

// LLM returns a [Checker] that verifies an LLM provider is wired by running
// its token counter over a one-word probe message. This catches nil or
// misconfigured providers without spending tokens on a live completion.
func LLM(p interface {
	CountTokens(messages []types.Message) (int, error)
}) Checker {
	return Checker{
		Name: "llm",
		Check: func(_ context.Context) error {
			_, err := p.CountTokens([]types.Message{{Role: "user", Content: "ping"}})
			return err
		},
	}
}

// Report is the JSON response body for health endpoints.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Evaluate runs every registered checker and reports the aggregate outcome.
// Each checker is given a context with a [checkTimeout] deadline derived
// from ctx. The boolean is true only when every checker passed.
func (h *Handler) Evaluate(ctx context.Context) (Report, bool) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	rep := Report{Status: "ok", Checks: checks}
	if !allOK {
		rep.Status = "fail"
	}
	return rep, allOK
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Evaluate(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
