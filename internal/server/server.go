// Package server exposes the Kaiwa HTTP surface: the /ws/chat WebSocket
// endpoint, the REST management API, health probes, and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaiwa-ai/kaiwa/internal/chat"
	"github.com/kaiwa-ai/kaiwa/internal/health"
	"github.com/kaiwa-ai/kaiwa/internal/history"
	"github.com/kaiwa-ai/kaiwa/internal/observe"
	"github.com/kaiwa-ai/kaiwa/internal/orchestrator"
	"github.com/kaiwa-ai/kaiwa/internal/persona"
	"github.com/kaiwa-ai/kaiwa/internal/prefs"
)

// DefaultUser is the preference profile applied to WebSocket turns whose
// text frame carries no user field. Frames naming a user read that profile
// instead.
const DefaultUser = "default"

// nameRE bounds user and session identifiers used in file paths.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// validName reports whether s is safe to embed in a store file name.
func validName(s string) bool {
	return nameRE.MatchString(s)
}

// Dispatcher routes one inbound text frame into the turn pipeline.
// *orchestrator.Orchestrator is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, req orchestrator.TurnRequest, in *chat.Inbound)
}

// Deps bundles the collaborators a Server needs. Sessions and Dispatcher are
// required; nil optional fields disable the corresponding endpoints' features.
type Deps struct {
	Sessions    *chat.Manager
	Dispatcher  Dispatcher
	Personas    *persona.Store
	Preferences *prefs.Dir
	History     *history.Store
	Health      *health.Handler
	Metrics     *observe.Metrics

	// Info reported by /api/system/info.
	Version     string
	Model       string
	LLMProvider string
	TTSBackend  string
}

// Server is the HTTP and WebSocket front end. Construct with New and mount
// via Routes.
type Server struct {
	sessions    *chat.Manager
	dispatcher  Dispatcher
	personas    *persona.Store
	preferences *prefs.Dir
	history     *history.Store
	health      *health.Handler
	metrics     *observe.Metrics

	version     string
	model       string
	llmProvider string
	ttsBackend  string

	started time.Time
	turns   atomic.Int64
}

// New creates a Server from its dependency bundle.
func New(deps Deps) *Server {
	h := deps.Health
	if h == nil {
		h = health.New()
	}
	return &Server{
		sessions:    deps.Sessions,
		dispatcher:  deps.Dispatcher,
		personas:    deps.Personas,
		preferences: deps.Preferences,
		history:     deps.History,
		health:      h,
		metrics:     deps.Metrics,
		version:     deps.Version,
		model:       deps.Model,
		llmProvider: deps.LLMProvider,
		ttsBackend:  deps.TTSBackend,
		started:     time.Now(),
	}
}

// Routes builds the full route table, wrapped in the observability
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/chat", s.handleWS)

	mux.HandleFunc("GET /api/system/health", s.handleSystemHealth)
	mux.HandleFunc("GET /api/system/info", s.handleSystemInfo)
	mux.HandleFunc("GET /api/system/stats", s.handleSystemStats)

	mux.HandleFunc("GET /api/personas", s.handlePersonaList)
	mux.HandleFunc("POST /api/personas", s.handlePersonaCreate)
	mux.HandleFunc("GET /api/personas/{id}", s.handlePersonaGet)
	mux.HandleFunc("PUT /api/personas/{id}", s.handlePersonaUpdate)
	mux.HandleFunc("DELETE /api/personas/{id}", s.handlePersonaDelete)

	mux.HandleFunc("GET /api/preferences/{user}", s.handlePrefsGet)
	mux.HandleFunc("PUT /api/preferences/{user}", s.handlePrefsPut)
	mux.HandleFunc("POST /api/preferences/{user}/reset", s.handlePrefsReset)

	mux.HandleFunc("GET /api/chat/session", s.handleSessionList)
	mux.HandleFunc("POST /api/chat/session", s.handleSessionCreate)
	mux.HandleFunc("DELETE /api/chat/session/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /api/chat/history/{sessionId}", s.handleHistoryGet)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// TurnsServed reports the number of text frames dispatched since start.
func (s *Server) TurnsServed() int64 {
	return s.turns.Load()
}
