package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/postwire/postwire/internal/protocol"
)

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness plus whether the core is listening.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"listening": s.core.Running(),
		"accounts":  s.registry.Count(),
		"sessions":  len(s.core.Sessions()),
	})
}

// handleServerStart starts the client-facing listener.
func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.core.Start(); err != nil {
		s.logger.ErrorContext(r.Context(), "server start failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "listening",
		"addr":   s.core.Addr(),
	})
}

// handleServerStop stops the client-facing listener and drains live
// sessions. Stopping an already stopped core succeeds.
func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ShutdownDuration())
	defer cancel()
	if err := s.core.Stop(ctx); err != nil {
		s.logger.ErrorContext(r.Context(), "server stop failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleBroadcast sends an operator chat message to every live session.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reached := s.core.Broadcast(protocol.Message{
		Type: protocol.TypeChat,
		Data: protocol.ChatData{Message: req.Message},
	}, 0)
	s.logger.Info("operator broadcast", "reached", reached)
	writeJSON(w, http.StatusOK, map[string]int{"reached": reached})
}

// handleSessions lists every live session.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.core.Sessions()})
}

// handleDisconnect shuts down one session by id.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.core.Disconnect(req.ID) {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": req.ID})
}
