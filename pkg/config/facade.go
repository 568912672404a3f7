package config

import (
	"sync"

	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/types"
)

// Facade owns the normalized document and the compiled runtime configs
// derived from it, refreshing both from the persistence façade on demand.
type Facade struct {
	store  storage.Store
	broker *events.Broker

	mu       sync.RWMutex
	doc      *types.Document
	compiled map[string]*RuntimeConfig
}

// NewFacade loads and normalizes the current document from store. broker
// may be nil, in which case dropped-case errors are silently discarded
// instead of published (the migrate command, which runs no event stream,
// passes nil).
func NewFacade(store storage.Store, broker *events.Broker) (*Facade, error) {
	f := &Facade{store: store, broker: broker}
	if err := f.RefreshRuntimeConfigs(); err != nil {
		return nil, err
	}
	return f, nil
}

// RefreshRuntimeConfigs reloads the document from storage, normalizes it,
// persists the normalized form back, and recompiles every runner. A case
// whose pattern fails to compile is dropped and reported via a case_error
// event; it never aborts the rest of its runner's compile or any other
// runner's. Callers hold no reference to the old RuntimeConfig set after
// this returns; C3's active_session_ts is untouched by a refresh, since it
// lives on the runner's in-memory state, not in RuntimeConfig.
func (f *Facade) RefreshRuntimeConfigs() error {
	doc, err := f.store.GetDocument()
	if err != nil {
		return err
	}
	Normalize(doc)
	if err := f.store.SaveDocument(doc); err != nil {
		return err
	}

	compiled := make(map[string]*RuntimeConfig, len(doc.Runners))
	for _, r := range doc.Runners {
		cfg, caseErrors := CompileRunnerConfig(r, doc.NotifyProfiles)
		for _, ce := range caseErrors {
			f.publishCaseError(ce)
		}
		compiled[r.ID] = cfg
	}

	f.mu.Lock()
	f.doc = doc
	f.compiled = compiled
	f.mu.Unlock()
	return nil
}

func (f *Facade) publishCaseError(ce CaseError) {
	metrics.CaseErrorsTotal.WithLabelValues(ce.RunnerID).Inc()
	if f.broker == nil {
		return
	}
	f.broker.Publish(events.Event{
		"type":      "case_error",
		"runner_id": ce.RunnerID,
		"case_id":   ce.CaseID,
		"pattern":   ce.Pattern,
		"error":     ce.Err.Error(),
	})
}

// Document returns the current normalized document.
func (f *Facade) Document() *types.Document {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.doc
}

// RuntimeConfig returns the compiled config for a runner id.
func (f *Facade) RuntimeConfig(runnerID string) (*RuntimeConfig, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cfg, ok := f.compiled[runnerID]
	return cfg, ok
}

// AllRuntimeConfigs returns every compiled runtime config, keyed by runner id.
func (f *Facade) AllRuntimeConfigs() map[string]*RuntimeConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]*RuntimeConfig, len(f.compiled))
	for k, v := range f.compiled {
		out[k] = v
	}
	return out
}

// NotifyProfile looks up a profile by id in the current document.
func (f *Facade) NotifyProfile(id string) (types.NotifyProfile, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.doc.NotifyProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return types.NotifyProfile{}, false
}

// GroupForRunner resolves the group a runner belongs to, if any.
func (f *Facade) GroupForRunner(runnerID string) (types.RunnerGroup, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ResolveGroupForState(f.doc, runnerID)
}
