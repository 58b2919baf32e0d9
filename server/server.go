// Package server exposes the orchestrator over HTTP: query and resume
// endpoints, session management, registry administration and the
// WebSocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/capiware/capi-orchestrator/gateway"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/log"
	"github.com/capiware/capi-orchestrator/orchestrator"
)

// Server is the HTTP surface over a Runtime and its event gateway.
type Server struct {
	runtime *orchestrator.Runtime
	gateway *gateway.Gateway
	handler http.Handler
}

// New creates the server and wires its routes.
func New(runtime *orchestrator.Runtime, gw *gateway.Gateway) *Server {
	s := &Server{runtime: runtime, gateway: gw}

	r := mux.NewRouter()
	r.HandleFunc("/api/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/api/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{session_id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{session_id}", s.handleClearSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/registry/agents", s.handleListAgents).Methods(http.MethodGet)
	r.HandleFunc("/api/registry/agents/{name}", s.handleRegisterAgent).Methods(http.MethodPost)
	r.HandleFunc("/api/registry/agents/{name}", s.handleUnregisterAgent).Methods(http.MethodDelete)
	r.HandleFunc("/api/registry/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/graph/status", s.handleGraphStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws/{session_id}", gateway.WebSocketHandler(gw)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("server: listening on %s", addr)
	return http.ListenAndServe(addr, s.handler)
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
}

type resumeRequest struct {
	SessionID string `json:"session_id"`
	Decision  any    `json:"decision"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	envelope, err := s.runtime.ProcessQuery(r.Context(), req.SessionID, req.UserID, req.Query)
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	envelope, err := s.runtime.ResumeHumanGate(r.Context(), req.SessionID, req.Decision)
	if err != nil {
		s.writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.runtime.ListActiveSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	history, err := s.runtime.GetSessionHistory(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "history": history})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if err := s.runtime.ClearSessionHistory(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "cleared": true})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	status := s.runtime.GraphStatus()
	writeJSON(w, http.StatusOK, map[string]any{"enabled_agents": status.EnabledAgents})
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.runtime.RegisterAgent(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.GraphStatus())
}

func (s *Server) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.runtime.UnregisterAgent(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.GraphStatus())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.RefreshGraph(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.GraphStatus())
}

func (s *Server) handleGraphStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.GraphStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeRuntimeError maps orchestration errors to HTTP statuses.
func (s *Server) writeRuntimeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrSessionBusy):
		writeError(w, http.StatusConflict, "session has an in-flight turn")
	case errors.Is(err, graph.ErrNoPendingInterrupt),
		errors.Is(err, graph.ErrCheckpointNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrSessionIDRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		log.Errorf("server: request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("server: response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
