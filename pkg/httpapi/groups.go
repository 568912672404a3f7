package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/types"
)

func (s *Server) handleRunGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc := s.facade.Document()
	var group types.RunnerGroup
	found := false
	for _, g := range doc.RunnerGroups {
		if g.ID == id {
			group = g
			found = true
			break
		}
	}
	if !found {
		writeError(w, rerr.New(rerr.NotFound, "no such group: "+id))
		return
	}

	if err := s.registry.Groups().StartGroup(group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStopGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Groups().StopGroup(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
