package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/runner"
	"github.com/cuemby/runnerd/pkg/types"
)

func (s *Server) handleRunRunner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.StartRunner(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStopRunner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.StopRunner(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handleCloneRunner duplicates a runner's configuration under a fresh id
// and name, appending it to the document's runner list and layout.
func (s *Server) handleCloneRunner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc := s.facade.Document()
	var original *types.Runner
	for i := range doc.Runners {
		if doc.Runners[i].ID == id {
			original = &doc.Runners[i]
			break
		}
	}
	if original == nil {
		writeError(w, rerr.New(rerr.NotFound, "no such runner: "+id))
		return
	}

	clone := *original
	clone.ID = uuid.New().String()
	clone.Name = original.Name + " (copy)"
	clone.Cases = make([]types.Case, len(original.Cases))
	for i, c := range original.Cases {
		c.ID = uuid.New().String()
		clone.Cases[i] = c
	}

	fresh := *doc
	fresh.Runners = append(append([]types.Runner{}, doc.Runners...), clone)
	fresh.RunnerLayout = append(append([]types.LayoutItem{}, doc.RunnerLayout...), types.LayoutItem{Type: types.LayoutItemRunner, ID: clone.ID})

	if err := validateDocumentBounds(&fresh); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.SaveDocument(&fresh); err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.RefreshRuntimeConfigs(); err != nil {
		writeError(w, err)
		return
	}
	s.registry.Sync()

	writeJSON(w, http.StatusCreated, clone)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, err := runner.ReadLog(s.registry.DataDir(), id)
	if err != nil {
		writeError(w, rerr.Wrap(rerr.PersistenceCorrupt, "failed to read log", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"log": content})
}

func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := runner.ClearLog(s.registry.DataDir(), id); err != nil {
		writeError(w, rerr.Wrap(rerr.PersistenceCorrupt, "failed to clear log", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
