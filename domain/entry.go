package domain

import (
	"io"
	"time"
)

type EntryID string

// Priority orders admission. Lower value wins, so a byte-comparable
// storage key sorted ascending yields HIGH first.
type Priority int

const (
	HIGH   Priority = 0
	NORMAL Priority = 1
	LOW    Priority = 2
)

type State string

const (
	QUEUED       State = "queued"
	TRANSFERRING State = "transferring"
	PAUSED       State = "paused"
	COMPLETED    State = "completed"
	FAILED       State = "failed"
	CANCELLED    State = "cancelled"
)

// Terminal reports whether the state accepts no further transitions,
// except FAILED which a manual retry can leave.
func (s State) Terminal() bool {
	return s == COMPLETED || s == FAILED || s == CANCELLED
}

// FileRef gives the scheduler random access to the local file bytes.
// It is held only in memory and never persisted; a rehydrated entry
// carries a nil FileRef until the caller re-attaches one.
type FileRef interface {
	io.ReaderAt
}

// TransferEntry is one file's journey through the engine. Only the
// scheduler goroutine mutates it after enqueue.
type TransferEntry struct {
	ID               EntryID    `json:"id"`
	FileRef          FileRef    `json:"-"`
	FileName         string     `json:"file_name"`
	TotalBytes       int64      `json:"total_bytes"`
	Destination      string     `json:"destination"`
	ContentType      string     `json:"content_type"`
	Priority         Priority   `json:"priority"`
	State            State      `json:"state"`
	TransferredBytes int64      `json:"transferred_bytes"`
	Chunks           *ChunkPlan `json:"chunks,omitempty"`
	AttemptCount     int        `json:"attempt_count"`
	LastError        string     `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        time.Time  `json:"started_at,omitzero"`
	CompletedAt      time.Time  `json:"completed_at,omitzero"`
}

func (e *TransferEntry) Chunked() bool {
	return e.Chunks != nil
}

// ConfirmedBytes is the resume point: the byte count acknowledged by the
// server. Whole-file transfers confirm nothing until they complete.
func (e *TransferEntry) ConfirmedBytes() int64 {
	if e.Chunks != nil {
		return e.Chunks.ConfirmedBytes(e.TotalBytes)
	}
	if e.State == COMPLETED {
		return e.TotalBytes
	}
	return 0
}

// Snapshot returns a copy safe to hand to subscribers. The chunk plan is
// duplicated so sinks cannot observe in-place confirmation updates.
func (e *TransferEntry) Snapshot() TransferEntry {
	snap := *e
	snap.FileRef = nil
	if e.Chunks != nil {
		snap.Chunks = e.Chunks.clone()
	}
	return snap
}
