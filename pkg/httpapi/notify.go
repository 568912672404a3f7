package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/runnerd/pkg/rerr"
)

type pushoverTestRequest struct {
	Message string `json:"message"`
}

// handlePushoverTest sends a one-off message through a profile's
// credentials directly, bypassing the notification queue and journal —
// it is a connectivity check, not a case-driven delivery.
func (s *Server) handlePushoverTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, ok := s.facade.NotifyProfile(id)
	if !ok {
		writeError(w, rerr.New(rerr.NotFound, "no such notify profile: "+id))
		return
	}
	if profile.Type != "pushover" {
		writeError(w, rerr.New(rerr.InvalidInput, "profile is not a pushover profile"))
		return
	}

	var body pushoverTestRequest
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Message == "" {
		body.Message = "test notification from runnerd"
	}

	err := s.pushover.Send(r.Context(), profile.Config.UserKey, profile.Config.APIToken, profile.Name+": test", body.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListJournalRows()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearJournal(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
