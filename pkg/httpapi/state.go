package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/security"
	"github.com/cuemby/runnerd/pkg/types"
)

const (
	maxImportBytes  = 1 << 20 // 1 MiB
	maxImportRunners = 100
	maxTotalRunners  = 500
	maxCasesPerRunner = 200
)

// maskDocument replaces every configured pushover credential with
// security.MaskedValue for client-facing reads. The original document is
// left untouched.
func maskDocument(doc *types.Document) types.Document {
	out := *doc
	out.NotifyProfiles = make([]types.NotifyProfile, len(doc.NotifyProfiles))
	for i, p := range doc.NotifyProfiles {
		out.NotifyProfiles[i] = p
		if p.Config.UserKey != "" {
			out.NotifyProfiles[i].Config.UserKey = security.MaskedValue
		}
		if p.Config.APIToken != "" {
			out.NotifyProfiles[i].Config.APIToken = security.MaskedValue
		}
	}
	return out
}

// unmaskDocument restores any masked credential in incoming from the
// corresponding profile in current (matched by id), so a client can PUT
// back a document it fetched from GET /api/state without having to resend
// secrets it never saw.
func unmaskDocument(incoming *types.Document, current *types.Document) {
	byID := make(map[string]types.PushoverCredentials, len(current.NotifyProfiles))
	for _, p := range current.NotifyProfiles {
		byID[p.ID] = p.Config
	}

	for i, p := range incoming.NotifyProfiles {
		prior, ok := byID[p.ID]
		if !ok {
			continue
		}
		if p.Config.UserKey == security.MaskedValue {
			incoming.NotifyProfiles[i].Config.UserKey = prior.UserKey
		}
		if p.Config.APIToken == security.MaskedValue {
			incoming.NotifyProfiles[i].Config.APIToken = prior.APIToken
		}
	}
}

// validateDocumentBounds enforces the import/save size limits.
func validateDocumentBounds(doc *types.Document) error {
	if len(doc.Runners) > maxTotalRunners {
		return rerr.New(rerr.InvalidInput, "too many runners")
	}
	for _, r := range doc.Runners {
		if len(r.Cases) > maxCasesPerRunner {
			return rerr.New(rerr.InvalidInput, "too many cases on runner: "+r.ID)
		}
	}
	return nil
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	doc := maskDocument(s.facade.Document())
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	var incoming types.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&incoming); err != nil {
		writeError(w, rerr.Wrap(rerr.InvalidInput, "malformed document", err))
		return
	}

	if err := validateDocumentBounds(&incoming); err != nil {
		writeError(w, err)
		return
	}

	unmaskDocument(&incoming, s.facade.Document())

	if err := s.store.SaveDocument(&incoming); err != nil {
		writeError(w, err)
		return
	}
	if err := s.facade.RefreshRuntimeConfigs(); err != nil {
		writeError(w, err)
		return
	}
	s.registry.Sync()

	writeJSON(w, http.StatusOK, maskDocument(s.facade.Document()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfgs := s.facade.AllRuntimeConfigs()
	out := make([]map[string]any, 0, len(cfgs))
	for id := range cfgs {
		sup, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		snap := sup.Snapshot()
		out = append(out, map[string]any{
			"runner_id":            snap.RunnerID,
			"state":                snap.State,
			"run_count":            snap.RunCount,
			"consecutive_failures": snap.ConsecutiveFailures,
			"active_session_ts":    snap.ActiveSessionTS,
			"last_case":            snap.LastCase,
			"last_case_ts":         snap.LastCaseTS,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
