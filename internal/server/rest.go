package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kaiwa-ai/kaiwa/internal/history"
	"github.com/kaiwa-ai/kaiwa/internal/persona"
	"github.com/kaiwa-ai/kaiwa/internal/prefs"
)

// apiError is the uniform error body for the REST surface.
type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("rest: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- System ---

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.health.Evaluate(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        "kaiwa",
		"version":     s.version,
		"goVersion":   runtime.Version(),
		"model":       s.model,
		"llmProvider": s.llmProvider,
		"ttsBackend":  s.ttsBackend,
	})
}

func (s *Server) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"activeSessions": s.sessions.Len(),
		"turnsServed":    s.turns.Load(),
		"uptimeSeconds":  int64(time.Since(s.started).Seconds()),
	}
	if s.history != nil {
		if ids, err := s.history.List(); err == nil {
			stats["storedTranscripts"] = len(ids)
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Personas ---

func (s *Server) handlePersonaList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.personas.List())
}

func (s *Server) handlePersonaGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.personas.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePersonaCreate(w http.ResponseWriter, r *http.Request) {
	var p persona.Persona
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid persona: "+err.Error())
		return
	}
	if p.ID == "" || !validName(p.ID) {
		writeError(w, http.StatusBadRequest, "persona id is missing or invalid")
		return
	}
	if err := s.personas.Save(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePersonaUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validName(id) {
		writeError(w, http.StatusBadRequest, "persona id is invalid")
		return
	}
	var p persona.Persona
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid persona: "+err.Error())
		return
	}
	// The path is authoritative for the id.
	p.ID = id
	if err := s.personas.Save(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePersonaDelete(w http.ResponseWriter, r *http.Request) {
	err := s.personas.Delete(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Preferences ---

// prefsStore resolves the per-user store from the path, or writes an error.
func (s *Server) prefsStore(w http.ResponseWriter, r *http.Request) *prefs.Store {
	user := r.PathValue("user")
	if !validName(user) {
		writeError(w, http.StatusBadRequest, "invalid user name")
		return nil
	}
	return s.preferences.For(user)
}

func (s *Server) handlePrefsGet(w http.ResponseWriter, r *http.Request) {
	store := s.prefsStore(w, r)
	if store == nil {
		return
	}
	writeJSON(w, http.StatusOK, store.Load())
}

func (s *Server) handlePrefsPut(w http.ResponseWriter, r *http.Request) {
	store := s.prefsStore(w, r)
	if store == nil {
		return
	}
	var p prefs.UserPreferences
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid preferences: "+err.Error())
		return
	}
	if err := store.Save(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePrefsReset(w http.ResponseWriter, r *http.Request) {
	store := s.prefsStore(w, r)
	if store == nil {
		return
	}
	p, err := store.Reset()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Sessions and history ---

// sessionInfo is one row of the session listing: live sessions, persisted
// transcripts, or both.
type sessionInfo struct {
	SessionID  string `json:"sessionId"`
	Live       bool   `json:"live"`
	Persisted  bool   `json:"persisted"`
	LastActive string `json:"lastActive,omitempty"`
}

func (s *Server) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	live := s.sessions.IDs()
	var persisted []string
	if s.history != nil {
		ids, err := s.history.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		persisted = ids
	}

	seen := make(map[string]*sessionInfo)
	for _, id := range live {
		info := &sessionInfo{SessionID: id, Live: true}
		if sess := s.sessions.Get(id); sess != nil {
			info.LastActive = sess.LastActive().Format(time.RFC3339)
		}
		seen[id] = info
	}
	for _, id := range persisted {
		if info, ok := seen[id]; ok {
			info.Persisted = true
			continue
		}
		seen[id] = &sessionInfo{SessionID: id, Persisted: true}
	}

	out := make([]sessionInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b sessionInfo) int {
		if a.SessionID < b.SessionID {
			return -1
		}
		if a.SessionID > b.SessionID {
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, out)
}

// handleSessionCreate pre-creates a chat session so a client can obtain an
// id before opening the WebSocket. An empty or absent body generates one.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if !validName(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, existed := s.sessions.GetOrCreate(req.SessionID)
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"sessionId":  sess.ID,
		"created":    !existed,
		"lastActive": sess.LastActive().Format(time.RFC3339),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !validName(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	s.sessions.Remove(id)
	if s.history != nil {
		if err := s.history.Delete(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if !validName(id) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history persistence is disabled")
		return
	}
	entries, err := s.history.Load(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"entries":   entries,
	})
}
