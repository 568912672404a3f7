package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/transport"
	"github.com/cuemby/runnerd/pkg/types"
)

func newTestWorker(t *testing.T, endpoint string) (*Worker, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveDocument(&types.Document{
		NotifyProfiles: []types.NotifyProfile{{ID: "p1", Name: "Profile 1", Type: "pushover", Active: true}},
	}))

	broker := events.NewBroker()
	facade, err := config.NewFacade(store, broker)
	require.NoError(t, err)

	pc := transport.NewPushoverClient().WithEndpoint(endpoint)

	return NewWorker(store, facade, broker, pc), store
}

func TestWorkerDeliversAndJournals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker, store := newTestWorker(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)
	defer cancel()

	require.NoError(t, worker.Enqueue(Notification{
		RunnerID: "r1", ProfileID: "p1", Title: "t", Message: "m",
	}))

	require.Eventually(t, func() bool {
		rows, err := store.ListJournalRows()
		return err == nil && len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	rows, err := store.ListJournalRows()
	require.NoError(t, err)
	assert.Equal(t, types.DeliverySuccess, rows[0].Delivery)
}

func TestWorkerAutoDisablesAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	worker, store := newTestWorker(t, srv.URL)
	worker.failureThreshold = 2

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)
	defer cancel()

	for i := 0; i < 2; i++ {
		require.NoError(t, worker.Enqueue(Notification{RunnerID: "r1", ProfileID: "p1", Title: "t", Message: "m"}))
	}

	require.Eventually(t, func() bool {
		doc, err := store.GetDocument()
		return err == nil && !doc.NotifyProfiles[0].Active
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerUpdatesOnlyDedupesIdenticalMessage(t *testing.T) {
	var deliveries int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	worker, store := newTestWorker(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)
	defer cancel()

	require.NoError(t, worker.Enqueue(Notification{RunnerID: "r1", ProfileID: "p1", Title: "t", Message: "same", UpdatesOnly: true}))
	require.Eventually(t, func() bool {
		rows, _ := store.ListJournalRows()
		return len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, worker.Enqueue(Notification{RunnerID: "r1", ProfileID: "p1", Title: "t", Message: "same", UpdatesOnly: true}))
	time.Sleep(50 * time.Millisecond)

	rows, err := store.ListJournalRows()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "identical updates-only message should be deduped")
}

func TestEnqueueReturnsErrorWhenQueueFull(t *testing.T) {
	worker, _ := newTestWorker(t, "http://127.0.0.1:0")
	for i := 0; i < DefaultQueueCapacity; i++ {
		require.NoError(t, worker.Enqueue(Notification{RunnerID: "r1", ProfileID: "p1"}))
	}
	err := worker.Enqueue(Notification{RunnerID: "r1", ProfileID: "p1"})
	require.Error(t, err)
}
