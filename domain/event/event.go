// Package event defines the typed notifications published by the
// transfer engine. Subscribers switch on Kind (or type-assert) instead
// of matching ad hoc event names.
package event

import (
	"time"

	"sync-engine/domain"
)

type Kind string

const (
	KindStateChanged Kind = "state_changed"
	KindProgress     Kind = "progress"
	KindError        Kind = "error"
	KindQueueUpdated Kind = "queue_updated"
)

type Event interface {
	EventKind() Kind
}

// StateChanged is emitted on every entry state transition.
type StateChanged struct {
	ID   domain.EntryID
	From domain.State
	To   domain.State
	At   time.Time
}

func (StateChanged) EventKind() Kind { return KindStateChanged }

// Progressed reports byte-level progress of one transferring entry.
type Progressed struct {
	ID          domain.EntryID
	Transferred int64
	Total       int64
	Percent     int
	SpeedBps    float64
}

func (Progressed) EventKind() Kind { return KindProgress }

// Failed is emitted once when an entry exhausts its retry budget or
// hits a non-retryable error. The entry stays visible as FAILED.
type Failed struct {
	ID       domain.EntryID
	Reason   string
	Attempts int
}

func (Failed) EventKind() Kind { return KindError }

// QueueUpdated carries the full entry list plus aggregate stats; it is
// published after every queue mutation.
type QueueUpdated struct {
	Entries []domain.TransferEntry
	Stats   domain.QueueStats
}

func (QueueUpdated) EventKind() Kind { return KindQueueUpdated }
