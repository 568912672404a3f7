// Package notify implements the notification worker (C2): a single
// consumer that dequeues rendered notifications, re-reads the owning
// profile (it may have changed since enqueue), delivers via the external
// transport, records the outcome, and auto-disables a profile after
// repeated consecutive failures.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/runnerd/pkg/config"
	"github.com/cuemby/runnerd/pkg/events"
	"github.com/cuemby/runnerd/pkg/log"
	"github.com/cuemby/runnerd/pkg/metrics"
	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/storage"
	"github.com/cuemby/runnerd/pkg/transport"
	"github.com/cuemby/runnerd/pkg/types"
)

// DefaultQueueCapacity is the bounded depth of the notification dispatch
// queue. Enqueue never blocks past this.
const DefaultQueueCapacity = 500

// DefaultFailureThreshold is the number of consecutive delivery failures
// that auto-disables a profile.
const DefaultFailureThreshold = 3

// Notification is one rendered message awaiting dispatch to a profile.
type Notification struct {
	RunnerID    string
	RunnerName  string
	ProfileID   string
	Title       string
	Message     string
	State       types.CaseState
	UpdatesOnly bool
}

type dedupKey struct {
	runnerID  string
	profileID string
}

// Worker is the single-consumer notification dispatcher.
type Worker struct {
	store     storage.Store
	facade    *config.Facade
	broker    *events.Broker
	transport *transport.PushoverClient

	failureThreshold int

	queue chan Notification

	mu       sync.Mutex
	lastSent map[dedupKey]string
}

// NewWorker builds a Worker with DefaultQueueCapacity and
// DefaultFailureThreshold.
func NewWorker(store storage.Store, facade *config.Facade, broker *events.Broker, pushover *transport.PushoverClient) *Worker {
	return &Worker{
		store:            store,
		facade:           facade,
		broker:           broker,
		transport:        pushover,
		failureThreshold: DefaultFailureThreshold,
		queue:            make(chan Notification, DefaultQueueCapacity),
		lastSent:         make(map[dedupKey]string),
	}
}

// Enqueue submits a notification without blocking. If the queue is full,
// the notification is dropped and a case_error event is published.
func (w *Worker) Enqueue(n Notification) error {
	select {
	case w.queue <- n:
		metrics.NotifyQueueDepth.Set(float64(len(w.queue)))
		return nil
	default:
		w.broker.Publish(events.Event{
			"type":       "case_error",
			"runner_id":  n.RunnerID,
			"profile_id": n.ProfileID,
			"error":      "notify queue full",
		})
		return rerr.New(rerr.NotifyQueueFull, "notification queue is full")
	}
}

// Run drains the queue until ctx is canceled. Intended to run in its own
// goroutine, one per Worker.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			metrics.NotifyQueueDepth.Set(float64(len(w.queue)))
			w.deliver(ctx, n)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, n Notification) {
	profile, ok := w.facade.NotifyProfile(n.ProfileID)
	if !ok || !profile.Active {
		return
	}

	if n.UpdatesOnly {
		key := dedupKey{runnerID: n.RunnerID, profileID: n.ProfileID}
		w.mu.Lock()
		last, seen := w.lastSent[key]
		if seen && last == n.Message {
			w.mu.Unlock()
			return
		}
		w.lastSent[key] = n.Message
		w.mu.Unlock()
	}

	timer := metrics.NewTimer()
	err := w.transport.Send(ctx, profile.Config.UserKey, profile.Config.APIToken, n.Title, n.Message)
	timer.ObserveDuration(metrics.NotifyDeliveryDuration)

	success := err == nil
	outcome := types.DeliverySuccess
	errMsg := ""
	if !success {
		outcome = types.DeliveryError
		errMsg = err.Error()
	}

	metrics.NotifyDeliveriesTotal.WithLabelValues(n.ProfileID, string(outcome)).Inc()

	journalErr := w.store.AppendJournalRow(types.JournalRow{
		Timestamp:   time.Now(),
		RunnerID:    n.RunnerID,
		ProfileID:   n.ProfileID,
		ProfileName: profile.Name,
		Delivery:    outcome,
		Title:       n.Title,
		Message:     n.Message,
		Error:       errMsg,
	})
	if journalErr != nil {
		log.Errorf("append notification journal row failed", journalErr)
	}

	updated, found, autoDisabled, recErr := w.store.RecordNotifyDeliveryResult(n.ProfileID, success, w.failureThreshold)
	if recErr != nil {
		log.Errorf("record notify delivery result failed", recErr)
		return
	}
	if !found {
		return
	}

	w.broker.Publish(events.Event{
		"type":          "notify_profile_status",
		"profile_id":    n.ProfileID,
		"active":        updated.Active,
		"failure_count": updated.FailureCount,
		"sent_count":    updated.SentCount,
		"delivery":      outcome,
	})

	if autoDisabled {
		metrics.NotifyAutoDisabledTotal.WithLabelValues(n.ProfileID).Inc()
		w.broker.Publish(events.Event{
			"type":       "notify_profile_auto_disabled",
			"profile_id": n.ProfileID,
			"runner_id":  n.RunnerID,
		})
		if refreshErr := w.facade.RefreshRuntimeConfigs(); refreshErr != nil {
			log.Errorf("refresh runtime configs after auto-disable failed", refreshErr)
		}
	}
}

// QueueDepth returns the current queue length, mainly for tests.
func (w *Worker) QueueDepth() int {
	return len(w.queue)
}
