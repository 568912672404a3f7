package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/notify"
	"github.com/cuemby/runnerd/pkg/runner"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/transport"
	"github.com/cuemby/runnerd/pkg/types"
)

func newTestFixture(t *testing.T, runnerIDs []string, command string) (*Manager, *events.Broker) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := storage.NewBoltStore(dataDir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	facade, err := config.NewFacade(store, broker)
	require.NoError(t, err)
	nw := notify.NewWorker(store, facade, broker, transport.NewPushoverClient())

	supervisors := make(map[string]*runner.Supervisor, len(runnerIDs))
	for _, id := range runnerIDs {
		cfg := &config.RuntimeConfig{
			RunnerID:        id,
			Name:            id,
			Command:         command,
			IntervalSeconds: 3600,
			MaxRuns:         1,
		}
		supervisors[id] = runner.NewSupervisor(cfg, dataDir, store, broker, nw)
	}

	lookup := func(id string) (*runner.Supervisor, bool) {
		sup, ok := supervisors[id]
		return sup, ok
	}

	return NewManager(broker, lookup), broker
}

func TestStartGroupRunsMembersSequentiallyToCompletion(t *testing.T) {
	mgr, broker := newTestFixture(t, []string{"r1", "r2"}, "echo hi")

	_, ch, err := broker.Subscribe()
	require.NoError(t, err)

	require.NoError(t, mgr.StartGroup(types.RunnerGroup{ID: "g1", RunnerIDs: []string{"r1", "r2"}}))

	found := false
	deadline := time.After(3 * time.Second)
	for !found {
		select {
		case ev := <-ch:
			if ev.Type() == "group_status" && ev["status"] == "finished" {
				found = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for group completion")
		}
	}
}

func TestStartGroupRejectsDuplicateConcurrentRun(t *testing.T) {
	mgr, _ := newTestFixture(t, []string{"r1"}, "sleep 1")

	require.NoError(t, mgr.StartGroup(types.RunnerGroup{ID: "g1", RunnerIDs: []string{"r1"}}))
	err := mgr.StartGroup(types.RunnerGroup{ID: "g1", RunnerIDs: []string{"r1"}})
	require.Error(t, err)

	require.NoError(t, mgr.StopGroup("g1"))
}

func TestStopGroupOnUnknownGroupReturnsNotFound(t *testing.T) {
	mgr, _ := newTestFixture(t, nil, "echo hi")
	err := mgr.StopGroup("ghost")
	require.Error(t, err)
}

func TestStartGroupHaltsOnMissingMember(t *testing.T) {
	mgr, broker := newTestFixture(t, []string{"r1"}, "echo hi")
	_, ch, err := broker.Subscribe()
	require.NoError(t, err)

	require.NoError(t, mgr.StartGroup(types.RunnerGroup{ID: "g1", RunnerIDs: []string{"r1", "ghost"}}))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type() == "group_status" && ev["status"] == "error" && ev["current_runner_id"] == "ghost" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for group_status error on missing member")
		}
	}
}

func TestStopGroupCancelsSequence(t *testing.T) {
	mgr, broker := newTestFixture(t, []string{"r1", "r2"}, "sleep 5")
	_, ch, err := broker.Subscribe()
	require.NoError(t, err)

	require.NoError(t, mgr.StartGroup(types.RunnerGroup{ID: "g1", RunnerIDs: []string{"r1", "r2"}}))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, mgr.StopGroup("g1"))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type() == "group_status" && ev["status"] == "stopped" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for stopped group_status")
		}
	}
}
