package storage

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/runnerd/pkg/rerr"
	"github.com/cuemby/runnerd/pkg/security"
	"github.com/cuemby/runnerd/pkg/types"
)

var (
	bucketConfig       = []byte("config")
	bucketJournal      = []byte("journal")
	bucketRuntimeStats = []byte("runtime_status")
)

const documentKey = "document"

// BoltStore is the BoltDB-backed Store implementation. All document and
// counter writes go through mu so read-modify-write sequences (notably
// RecordNotifyDeliveryResult) stay atomic across goroutines, mirroring the
// single-writer discipline of the program this design is based on.
type BoltStore struct {
	mu      sync.Mutex
	db      *bolt.DB
	secrets *security.Manager
}

// NewBoltStore opens (creating if absent) the BoltDB file under dataDir.
// secrets may be nil, in which case notify-profile credentials are
// persisted as plaintext (matching pre-encryption deployments); when set,
// every NotifyProfile.Config field is AES-256-GCM encrypted before it
// reaches disk and decrypted on read, so only this package ever sees the
// ciphertext.
func NewBoltStore(dataDir string, secrets *security.Manager) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "runnerd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketConfig, bucketJournal, bucketRuntimeStats} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, secrets: secrets}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetDocument returns the stored document, or an empty Document if none has
// been saved yet. Notify-profile credentials are decrypted in place before
// returning, if a secrets manager is configured.
func (s *BoltStore) GetDocument() (*types.Document, error) {
	var doc types.Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		data := b.Get([]byte(documentKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.PersistenceCorrupt, "decode stored document", err)
	}
	if err := s.decryptCredentials(&doc); err != nil {
		return nil, rerr.Wrap(rerr.PersistenceCorrupt, "decrypt stored credentials", err)
	}
	return &doc, nil
}

// SaveDocument replaces the stored document wholesale. Notify-profile
// credentials are encrypted on a copy before the write, if a secrets
// manager is configured; the caller's doc is left untouched.
func (s *BoltStore) SaveDocument(doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := doc
	if s.secrets != nil {
		var err error
		encoded, err = cloneWithEncryptedCredentials(doc, s.secrets)
		if err != nil {
			return rerr.Wrap(rerr.InvalidInput, "encrypt credentials", err)
		}
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return rerr.Wrap(rerr.InvalidInput, "encode document", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		return b.Put([]byte(documentKey), data)
	})
}

// decryptCredentials decrypts every NotifyProfile.Config field of doc in
// place. Safe to call on a freshly-unmarshaled document owned solely by the
// caller. A no-op if no secrets manager is configured.
func (s *BoltStore) decryptCredentials(doc *types.Document) error {
	if s.secrets == nil {
		return nil
	}
	for i := range doc.NotifyProfiles {
		cfg := &doc.NotifyProfiles[i].Config
		plain, err := decryptField(s.secrets, cfg.UserKey)
		if err != nil {
			return err
		}
		cfg.UserKey = plain

		plain, err = decryptField(s.secrets, cfg.APIToken)
		if err != nil {
			return err
		}
		cfg.APIToken = plain
	}
	return nil
}

// cloneWithEncryptedCredentials returns a shallow copy of doc with a fresh
// NotifyProfiles slice whose Config fields are encrypted, leaving doc
// itself (and anything else holding a reference to it) untouched.
func cloneWithEncryptedCredentials(doc *types.Document, secrets *security.Manager) (*types.Document, error) {
	clone := *doc
	profiles := make([]types.NotifyProfile, len(doc.NotifyProfiles))
	copy(profiles, doc.NotifyProfiles)

	for i := range profiles {
		cfg := profiles[i].Config
		cipher, err := encryptField(secrets, cfg.UserKey)
		if err != nil {
			return nil, err
		}
		cfg.UserKey = cipher

		cipher, err = encryptField(secrets, cfg.APIToken)
		if err != nil {
			return nil, err
		}
		cfg.APIToken = cipher
		profiles[i].Config = cfg
	}

	clone.NotifyProfiles = profiles
	return &clone, nil
}

func encryptField(secrets *security.Manager, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	enc, err := secrets.EncryptString(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func decryptField(secrets *security.Manager, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", err
	}
	return secrets.DecryptString(raw)
}

// AppendJournalRow inserts a row keyed by a monotonic sequence number so
// iteration order is insertion order, trimming the oldest row once the
// journal is at MaxJournalRows.
func (s *BoltStore) AppendJournalRow(row types.JournalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		n := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		for ; n > MaxJournalRows; n-- {
			k, _ := c.First()
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListJournalRows returns every journal row, oldest first.
func (s *BoltStore) ListJournalRows() ([]types.JournalRow, error) {
	var rows []types.JournalRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJournal)
		return b.ForEach(func(k, v []byte) error {
			var row types.JournalRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

// ClearJournal deletes every journal row.
func (s *BoltStore) ClearJournal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketJournal); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketJournal)
		return err
	})
}

// RecordNotifyDeliveryResult updates a notify profile's failure/sent
// counters under the store's lock and persists the document in the same
// critical section. A success resets the failure streak; a failure
// increments it and, once it reaches failureThreshold, clears Active and
// reports autoDisabled.
func (s *BoltStore) RecordNotifyDeliveryResult(profileID string, success bool, failureThreshold int) (types.NotifyProfile, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		updated      types.NotifyProfile
		found        bool
		autoDisabled bool
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		data := b.Get([]byte(documentKey))
		var doc types.Document
		if data != nil {
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
		}

		for i := range doc.NotifyProfiles {
			p := &doc.NotifyProfiles[i]
			if p.ID != profileID {
				continue
			}
			found = true
			if success {
				p.FailureCount = 0
				p.SentCount++
			} else {
				p.FailureCount++
				if p.Active && failureThreshold > 0 && p.FailureCount >= failureThreshold {
					p.Active = false
					autoDisabled = true
				}
			}
			updated = *p
			break
		}

		if !found {
			return nil
		}

		encoded, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(documentKey), encoded)
	})

	if err != nil {
		return types.NotifyProfile{}, false, false, rerr.Wrap(rerr.PersistenceCorrupt, "record notify delivery result", err)
	}
	return updated, found, autoDisabled, nil
}

// GetRuntimeStatus returns the last checkpointed status for a runner, or a
// zero value if none has been recorded.
func (s *BoltStore) GetRuntimeStatus(runnerID string) (types.RuntimeStatus, error) {
	var status types.RuntimeStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuntimeStats)
		data := b.Get([]byte(runnerID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &status)
	})
	return status, err
}

// SaveRuntimeStatus checkpoints a runner's runtime status synchronously.
func (s *BoltStore) SaveRuntimeStatus(runnerID string, status types.RuntimeStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuntimeStats)
		return b.Put([]byte(runnerID), data)
	})
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
