package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alekspetrov/hourglass/internal/session"
	"github.com/alekspetrov/hourglass/internal/ticket"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.log.Error("Session request failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := s.sessions.List(r.Context())
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	reports := make([]session.Report, 0, len(all))
	for _, sess := range all {
		reports = append(reports, s.sessions.Report(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": reports})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Report(sess))
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		s.writeSessionError(w, err)
		return
	}

	f := ticket.Filter{SessionID: id}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := ticket.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = st
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	tickets, err := s.tickets.ListTickets(r.Context(), f)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Pause(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.log.Info("Session paused via API", slog.String("session_id", sess.ID), slog.String("by", Subject(r.Context())))
	writeJSON(w, http.StatusOK, s.sessions.Report(sess))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Resume(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if sess.Status != session.StatusActive {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "session cannot be resumed",
			"report": s.sessions.Report(sess),
		})
		return
	}
	s.log.Info("Session resumed via API", slog.String("session_id", sess.ID), slog.String("by", Subject(r.Context())))
	writeJSON(w, http.StatusOK, s.sessions.Report(sess))
}
