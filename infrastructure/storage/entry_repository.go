package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"sync-engine/domain"
	apperrors "sync-engine/errors"
)

const entryPrefix = "transfer:entry:"

// EntryRepository persists queue entries in BadgerDB so a restart does
// not lose queued, paused, or failed work. File refs cannot survive a
// restart, so only metadata and progress markers are written.
//
// Keys encode priority then creation time, so an ascending iteration
// yields entries in admission order.
type EntryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewEntryRepository(db *badger.DB, log *slog.Logger) *EntryRepository {
	return &EntryRepository{
		db:  db,
		log: log,
	}
}

func entryKey(e *domain.TransferEntry) []byte {
	return []byte(fmt.Sprintf("%s%d:%d:%s", entryPrefix, e.Priority, e.CreatedAt.UnixNano(), e.ID))
}

// Save rewrites the durable record from the given queue. COMPLETED and
// CANCELLED entries are dropped: there is no reason to carry dead
// weight across a restart.
func (r *EntryRepository) Save(entries []*domain.TransferEntry) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(entryPrefix)})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for _, e := range entries {
			if e.State == domain.COMPLETED || e.State == domain.CANCELLED {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal entry %s: %w", e.ID, err)
			}
			if err := txn.Set(entryKey(e), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &apperrors.StorageError{Err: err}
	}
	return nil
}

// Load rehydrates the queue at startup. Entries recorded as
// TRANSFERRING come back as PAUSED: their file handle and in-flight
// call are gone, and the caller must re-attach a file before resuming.
func (r *EntryRepository) Load() ([]*domain.TransferEntry, error) {
	var entries []*domain.TransferEntry
	prefix := []byte(entryPrefix)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var e domain.TransferEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return fmt.Errorf("failed to unmarshal entry: %w", err)
				}
				if e.State == domain.TRANSFERRING {
					e.State = domain.PAUSED
					e.TransferredBytes = e.ConfirmedBytes()
				}
				entries = append(entries, &e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &apperrors.StorageError{Err: err}
	}

	r.log.Debug("Rehydrated persisted queue", "entries", len(entries))
	return entries, nil
}
