package api

import (
	"encoding/json"
	"io"
	"net/http"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("get settings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	s.writeJSON(w, http.StatusOK, settings)
}

// handleSaveSettings persists the document exactly as sent and retunes the
// scheduler's concurrency limit, the one setting that applies to running
// state immediately. Everything else is picked up by tasks at start.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !json.Valid(raw) {
		s.writeError(w, http.StatusBadRequest, "settings document is not valid JSON")
		return
	}

	if err := s.store.SaveSettings(r.Context(), raw); err != nil {
		s.logger.Error("save settings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("reload settings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to reload settings")
		return
	}
	s.scheduler.SetConcurrency(settings.Concurrency)

	s.writeJSON(w, http.StatusOK, settings)
}
