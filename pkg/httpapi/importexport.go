package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/types"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	doc := maskDocument(s.facade.Document())
	w.Header().Set("Content-Disposition", `attachment; filename="runnerd-export.json"`)
	writeJSON(w, http.StatusOK, doc)
}

// handleImport merges an uploaded set of runners, notify profiles, and
// groups into the current document. Every imported runner and case gets a
// fresh id; imported notify profiles and groups keep their ids (the
// normalization on the following refresh regenerates any that collide), and
// an imported group's runner_ids are not remapped to the new runner ids.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var incoming types.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&incoming); err != nil {
		writeError(w, rerr.Wrap(rerr.InvalidInput, "malformed import payload", err))
		return
	}

	if len(incoming.Runners) > maxImportRunners {
		writeError(w, rerr.New(rerr.InvalidInput, "too many runners in import"))
		return
	}
	for _, r := range incoming.Runners {
		if len(r.Cases) > maxCasesPerRunner {
			writeError(w, rerr.New(rerr.InvalidInput, "too many cases on imported runner: "+r.ID))
			return
		}
	}

	doc := s.facade.Document()
	merged := *doc
	merged.NotifyProfiles = append(append([]types.NotifyProfile{}, doc.NotifyProfiles...), incoming.NotifyProfiles...)
	merged.RunnerGroups = append(append([]types.RunnerGroup{}, doc.RunnerGroups...), incoming.RunnerGroups...)

	imported := make([]types.Runner, len(incoming.Runners))
	for i, runner := range incoming.Runners {
		runner.ID = uuid.New().String()
		for j, c := range runner.Cases {
			c.ID = uuid.New().String()
			runner.Cases[j] = c
		}
		imported[i] = runner
		merged.RunnerLayout = append(merged.RunnerLayout, types.LayoutItem{Type: types.LayoutItemRunner, ID: runner.ID})
	}
	merged.Runners = append(append([]types.Runner{}, doc.Runners...), imported...)

	if len(merged.Runners) > maxTotalRunners {
		writeError(w, rerr.New(rerr.InvalidInput, "import would exceed total runner limit"))
		return
	}

	if err := s.store.SaveDocument(&merged); err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.RefreshRuntimeConfigs(); err != nil {
		writeError(w, err)
		return
	}
	s.registry.Sync()

	writeJSON(w, http.StatusOK, map[string]int{"imported_runners": len(imported)})
}
