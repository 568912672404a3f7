// Package group implements the group sequencer (C4): cooperative,
// polling-based execution of a runner group's members strictly in order,
// one run to completion before the next starts.
package group

import (
	"sync"
	"time"

	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/runner"
	"github.com/cuemby/runnerd/pkg/types"
)

// pollInterval is how often the sequencer checks a running member for
// completion, and how soon a cancellation is observed while a member runs.
const pollInterval = 200 * time.Millisecond

// Lookup resolves a runner id to its live supervisor.
type Lookup func(runnerID string) (*runner.Supervisor, bool)

type sequenceRuntime struct {
	groupID string
	stopCh  chan struct{}
	done    chan struct{}
}

// Manager runs at most one sequence per group id at a time.
type Manager struct {
	broker *events.Broker
	lookup Lookup

	mu      sync.Mutex
	running map[string]*sequenceRuntime
}

// NewManager builds a group sequencer. lookup resolves a group member's id
// to its runner supervisor.
func NewManager(broker *events.Broker, lookup Lookup) *Manager {
	return &Manager{
		broker:  broker,
		lookup:  lookup,
		running: make(map[string]*sequenceRuntime),
	}
}

// StartGroup begins sequencing group's members in order. Returns
// rerr.Conflict if a sequence for this group id is already running.
func (m *Manager) StartGroup(group types.RunnerGroup) error {
	m.mu.Lock()
	if _, exists := m.running[group.ID]; exists {
		m.mu.Unlock()
		return rerr.New(rerr.Conflict, "group sequence already running: "+group.ID)
	}
	rt := &sequenceRuntime{groupID: group.ID, stopCh: make(chan struct{}), done: make(chan struct{})}
	m.running[group.ID] = rt
	m.mu.Unlock()

	go m.runGroup(group, rt)
	return nil
}

// StopGroup cancels a running sequence: the member currently running is
// asked to stop through its supervisor, and no later member is started.
func (m *Manager) StopGroup(groupID string) error {
	m.mu.Lock()
	rt, ok := m.running[groupID]
	m.mu.Unlock()
	if !ok {
		return rerr.New(rerr.NotFound, "no running sequence for group: "+groupID)
	}
	select {
	case <-rt.stopCh:
		// already stopping
	default:
		m.broker.Publish(events.Event{"type": "group_status", "group_id": groupID, "status": "stopping"})
		close(rt.stopCh)
	}
	return nil
}

// IsRunning reports whether groupID currently has an active sequence.
func (m *Manager) IsRunning(groupID string) bool {
	m.mu.Lock()
	_, ok := m.running[groupID]
	m.mu.Unlock()
	return ok
}

func (m *Manager) runGroup(group types.RunnerGroup, rt *sequenceRuntime) {
	total := len(group.RunnerIDs)
	status := "finished"
	completed := 0

	publish := func(fields events.Event) {
		ev := events.Event{
			"type":            "group_status",
			"group_id":        group.ID,
			"completed_count": completed,
			"total_count":     total,
		}
		for k, v := range fields {
			ev[k] = v
		}
		m.broker.Publish(ev)
	}

	publish(events.Event{"status": "started"})

	defer func() {
		m.mu.Lock()
		delete(m.running, group.ID)
		m.mu.Unlock()
		close(rt.done)

		metrics.GroupRunsTotal.WithLabelValues(group.ID, status).Inc()
		publish(events.Event{"status": status})
	}()

	for i, runnerID := range group.RunnerIDs {
		select {
		case <-rt.stopCh:
			status = "stopped"
			return
		default:
		}

		sup, ok := m.lookup(runnerID)
		if !ok {
			status = "error"
			publish(events.Event{"status": "error", "current_runner_id": runnerID, "current_index": i, "reason": "no supervisor for runner: " + runnerID})
			return
		}

		publish(events.Event{"status": "running", "current_runner_id": runnerID, "current_index": i})

		if err := sup.Start("group"); err != nil {
			status = "error"
			publish(events.Event{"status": "error", "current_runner_id": runnerID, "current_index": i, "reason": err.Error()})
			return
		}

		if stopped := m.waitForTerminal(sup, rt); stopped {
			status = "stopped"
			return
		}

		if snap := sup.Snapshot(); snap.State == runner.StatePaused || snap.LastExitCode != 0 {
			status = "error"
			publish(events.Event{"status": "error", "current_runner_id": runnerID, "current_index": i, "reason": "member runner did not exit cleanly"})
			return
		}

		completed++
	}
}

// waitForTerminal polls sup until it leaves the busy states (Starting,
// Running, Stopping), or rt is canceled — in which case the member is
// asked to stop and waitForTerminal reports the cancellation.
func (m *Manager) waitForTerminal(sup *runner.Supervisor, rt *sequenceRuntime) (stopped bool) {
	for {
		select {
		case <-rt.stopCh:
			_ = sup.Stop()
			return true
		case <-time.After(pollInterval):
		}

		switch sup.Snapshot().State {
		case runner.StateStarting, runner.StateRunning, runner.StateStopping:
			continue
		default:
			return false
		}
	}
}
