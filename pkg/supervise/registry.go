// Package supervise owns the live set of per-runner supervisors and keeps
// it in sync with the configuration façade across reloads: new runners get
// a Supervisor, removed runners are torn down, and surviving runners have
// their compiled config hot-swapped in place.
package supervise

import (
	"sync"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/group"
	"github.com/cuemby/runnerd/pkg/notify"
	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/runner"
	"github.com/cuemby/runnerd/pkg/storage"
)

// Registry is the coordinator holding every live runner.Supervisor plus the
// group.Manager that sequences them.
type Registry struct {
	dataDir      string
	store        storage.Store
	broker       *events.Broker
	facade       *config.Facade
	notifyWorker *notify.Worker
	groups       *group.Manager

	mu        sync.RWMutex
	runners   map[string]*runner.Supervisor
}

// New builds a Registry and performs an initial sync against facade's
// current runtime configs.
func New(dataDir string, store storage.Store, broker *events.Broker, facade *config.Facade, nw *notify.Worker) *Registry {
	r := &Registry{
		dataDir:      dataDir,
		store:        store,
		broker:       broker,
		facade:       facade,
		notifyWorker: nw,
		runners:      make(map[string]*runner.Supervisor),
	}
	r.groups = group.NewManager(broker, r.lookup)
	r.Sync()
	return r
}

func (r *Registry) lookup(runnerID string) (*runner.Supervisor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sup, ok := r.runners[runnerID]
	return sup, ok
}

// Sync reconciles the supervisor set against the facade's current compiled
// configs: creates supervisors for new runner ids, hot-swaps config into
// surviving ones, and drops supervisors for runners no longer present
// (stopping them first if active).
func (r *Registry) Sync() {
	compiled := r.facade.AllRuntimeConfigs()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cfg := range compiled {
		if sup, ok := r.runners[id]; ok {
			sup.UpdateConfig(cfg)
			continue
		}
		r.runners[id] = runner.NewSupervisor(cfg, r.dataDir, r.store, r.broker, r.notifyWorker)
	}

	for id, sup := range r.runners {
		if _, ok := compiled[id]; !ok {
			_ = sup.Stop()
			delete(r.runners, id)
		}
	}
}

// Get resolves a runner id to its live supervisor.
func (r *Registry) Get(runnerID string) (*runner.Supervisor, bool) {
	return r.lookup(runnerID)
}

// StartRunner triggers a manual run of one runner.
func (r *Registry) StartRunner(runnerID string) error {
	sup, ok := r.Get(runnerID)
	if !ok {
		return rerr.New(rerr.NotFound, "no such runner: "+runnerID)
	}
	return sup.Start("manual")
}

// StopRunner requests termination of one runner's active invocation.
func (r *Registry) StopRunner(runnerID string) error {
	sup, ok := r.Get(runnerID)
	if !ok {
		return rerr.New(rerr.NotFound, "no such runner: "+runnerID)
	}
	return sup.Stop()
}

// Groups returns the sequencer shared by every group operation.
func (r *Registry) Groups() *group.Manager {
	return r.groups
}

// DataDir exposes the runner log directory root for log read/clear.
func (r *Registry) DataDir() string {
	return r.dataDir
}
