// Package storage is the persistence façade: the single writer for the
// configuration document, the bounded notification journal, and per-runner
// runtime status. C2/C3/C5 call through it rather than touching BoltDB
// directly.
package storage

import "github.com/cuemby/runnerd/pkg/types"

// MaxJournalRows bounds the notification journal; oldest rows are dropped
// on insert past the cap (keep-newest).
const MaxJournalRows = 5000

// Store is the persistence façade's interface.
type Store interface {
	// Document is the whole configuration document: notify profiles,
	// runners, groups, and layout. Writes are whole-document
	// replace-and-commit.
	GetDocument() (*types.Document, error)
	SaveDocument(doc *types.Document) error

	// AppendJournalRow records one notification delivery outcome,
	// trimming the oldest row if the journal is at capacity.
	AppendJournalRow(row types.JournalRow) error
	ListJournalRows() ([]types.JournalRow, error)
	ClearJournal() error

	// RecordNotifyDeliveryResult atomically updates a notify profile's
	// failure/sent counters and active flag, returning the updated
	// profile so the caller can decide whether to fire an
	// auto-disabled event. failureThreshold consecutive failures
	// disables the profile.
	RecordNotifyDeliveryResult(profileID string, success bool, failureThreshold int) (profile types.NotifyProfile, found bool, autoDisabled bool, err error)

	// Runtime status: the small slice of per-runner state that
	// survives a restart.
	GetRuntimeStatus(runnerID string) (types.RuntimeStatus, error)
	SaveRuntimeStatus(runnerID string, status types.RuntimeStatus) error

	Close() error
}
