package storage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sync-engine/domain"
)

// setupTestDB initializes a temporary in-memory Badger instance.
func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEntry(state domain.State, priority domain.Priority) *domain.TransferEntry {
	return &domain.TransferEntry{
		ID:          domain.EntryID(uuid.New().String()),
		FileName:    "report.pdf",
		TotalBytes:  2048,
		Destination: "/docs/report.pdf",
		Priority:    priority,
		State:       state,
		CreatedAt:   time.Now(),
	}
}

func TestEntryRepository_SaveAndLoad(t *testing.T) {
	req := require.New(t)
	repo := NewEntryRepository(setupTestDB(t), testLogger())

	queued := newEntry(domain.QUEUED, domain.NORMAL)
	paused := newEntry(domain.PAUSED, domain.LOW)
	failed := newEntry(domain.FAILED, domain.NORMAL)
	failed.LastError = "server error: status 500"
	failed.AttemptCount = 5

	req.NoError(repo.Save([]*domain.TransferEntry{queued, paused, failed}))

	restored, err := repo.Load()
	req.NoError(err)
	req.Len(restored, 3)

	byID := make(map[domain.EntryID]*domain.TransferEntry)
	for _, e := range restored {
		byID[e.ID] = e
	}
	req.Equal(domain.QUEUED, byID[queued.ID].State)
	req.Equal(domain.PAUSED, byID[paused.ID].State)
	req.Equal("server error: status 500", byID[failed.ID].LastError)
	req.Equal(5, byID[failed.ID].AttemptCount)
}

func TestEntryRepository_TransferringRehydratesAsPaused(t *testing.T) {
	req := require.New(t)
	repo := NewEntryRepository(setupTestDB(t), testLogger())

	inFlight := newEntry(domain.TRANSFERRING, domain.HIGH)
	inFlight.TotalBytes = 20 << 20
	inFlight.Chunks = domain.NewChunkPlan(inFlight.TotalBytes, 5<<20)
	inFlight.Chunks.Confirm(0)
	inFlight.Chunks.Confirm(1)
	// Unconfirmed bytes beyond the chunk boundary were in flight.
	inFlight.TransferredBytes = 12 << 20

	req.NoError(repo.Save([]*domain.TransferEntry{inFlight}))

	restored, err := repo.Load()
	req.NoError(err)
	req.Len(restored, 1)

	e := restored[0]
	req.Equal(domain.PAUSED, e.State)
	req.Nil(e.FileRef, "file handles cannot survive a restart")
	req.Equal(int64(10<<20), e.TransferredBytes, "rolled back to last confirmed chunk boundary")
	req.Equal(2, e.Chunks.NextChunk())
}

func TestEntryRepository_CompletedAndCancelledNotPersisted(t *testing.T) {
	req := require.New(t)
	repo := NewEntryRepository(setupTestDB(t), testLogger())

	completed := newEntry(domain.COMPLETED, domain.NORMAL)
	cancelled := newEntry(domain.CANCELLED, domain.NORMAL)
	queued := newEntry(domain.QUEUED, domain.NORMAL)

	req.NoError(repo.Save([]*domain.TransferEntry{completed, cancelled, queued}))

	restored, err := repo.Load()
	req.NoError(err)
	req.Len(restored, 1)
	req.Equal(queued.ID, restored[0].ID)
}

func TestEntryRepository_SaveRewritesRecord(t *testing.T) {
	req := require.New(t)
	repo := NewEntryRepository(setupTestDB(t), testLogger())

	first := newEntry(domain.QUEUED, domain.NORMAL)
	second := newEntry(domain.QUEUED, domain.NORMAL)
	req.NoError(repo.Save([]*domain.TransferEntry{first, second}))

	// Second save without the first entry must drop its stale record.
	req.NoError(repo.Save([]*domain.TransferEntry{second}))

	restored, err := repo.Load()
	req.NoError(err)
	req.Len(restored, 1)
	req.Equal(second.ID, restored[0].ID)
}

func TestEntryRepository_LoadOrdersByPriority(t *testing.T) {
	req := require.New(t)
	repo := NewEntryRepository(setupTestDB(t), testLogger())

	low := newEntry(domain.QUEUED, domain.LOW)
	high := newEntry(domain.QUEUED, domain.HIGH)
	// Enqueued later, but the key encodes priority first.
	high.CreatedAt = low.CreatedAt.Add(time.Minute)

	req.NoError(repo.Save([]*domain.TransferEntry{low, high}))

	restored, err := repo.Load()
	req.NoError(err)
	req.Len(restored, 2)
	req.Equal(high.ID, restored[0].ID)
	req.Equal(low.ID, restored[1].ID)
}
