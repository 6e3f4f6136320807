//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"io"
	"reflect"

	"sync-engine/domain"
	"sync-engine/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself; supervision handles panics and restarts.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker
// for logging and supervision, avoiding manual naming on the interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives engine events. Sinks are called from the scheduler
// goroutine and must return quickly; errors are logged, never propagated.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// ChunkMeta identifies one slice of a chunked transfer on the wire.
type ChunkMeta struct {
	Index    int
	Total    int
	UploadID string
}

// TransferRequest describes exactly one network call: a whole small file
// or a single chunk of a large one.
type TransferRequest struct {
	Destination  string
	FileName     string
	TotalBytes   int64
	ContentType  string
	Payload      io.Reader
	PayloadBytes int64
	Chunk        *ChunkMeta
	// OnProgress receives the cumulative bytes sent for this call.
	OnProgress func(sent int64)
}

// Transport performs one transfer and resolves only on a 2xx from the
// remote endpoint. Failures use the errors package taxonomy so the
// retry policy can classify them.
type Transport interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// EntryStore is the durable record of the queue, minus file refs.
type EntryStore interface {
	Save(entries []*domain.TransferEntry) error
	Load() ([]*domain.TransferEntry, error)
}

// TokenProvider hands out the bearer credential attached to every
// transport call. The engine never re-authenticates itself.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NetworkProber answers "is the backend reachable right now".
type NetworkProber interface {
	Online(ctx context.Context) bool
}

// NetworkListener is notified on connectivity transitions.
type NetworkListener interface {
	NetworkStateChanged(ctx context.Context, online bool) error
}
