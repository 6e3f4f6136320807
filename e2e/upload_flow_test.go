package e2e

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"sync-engine/domain"
	"sync-engine/infrastructure/storage"
	"sync-engine/infrastructure/transport"
	"sync-engine/runtime"
	"sync-engine/services"
)

// uploadBackend is a minimal in-memory stand-in for the remote store:
// whole files land under their destination, chunks are collected per
// upload id and reassembled on demand.
type uploadBackend struct {
	mu         sync.Mutex
	files      map[string][]byte
	chunks     map[string]map[int][]byte
	chunkOrder []int
	chunkDelay time.Duration
}

func newUploadBackend() *uploadBackend {
	return &uploadBackend{
		files:  make(map[string][]byte),
		chunks: make(map[string]map[int][]byte),
	}
}

func (b *uploadBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/upload-chunk"):
			index, err := strconv.Atoi(r.FormValue("chunkIndex"))
			if err != nil {
				http.Error(w, "bad chunkIndex", http.StatusBadRequest)
				return
			}
			b.mu.Lock()
			delay := b.chunkDelay
			b.mu.Unlock()
			if index > 0 && delay > 0 {
				time.Sleep(delay)
			}

			f, _, err := r.FormFile("chunk")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			body, err := io.ReadAll(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			uploadID := r.FormValue("uploadId")
			b.mu.Lock()
			if b.chunks[uploadID] == nil {
				b.chunks[uploadID] = make(map[int][]byte)
			}
			b.chunks[uploadID][index] = body
			b.chunkOrder = append(b.chunkOrder, index)
			b.mu.Unlock()
			w.WriteHeader(http.StatusOK)

		case strings.HasPrefix(r.URL.Path, "/upload"):
			f, _, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			body, err := io.ReadAll(f)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			dest := strings.TrimPrefix(r.URL.Path, "/upload")
			b.mu.Lock()
			b.files[dest] = body
			b.mu.Unlock()
			w.WriteHeader(http.StatusOK)

		default:
			http.NotFound(w, r)
		}
	})
}

func (b *uploadBackend) file(dest string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.files[dest]
	return body, ok
}

func (b *uploadBackend) reassemble(uploadID string, total int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts, ok := b.chunks[uploadID]
	if !ok {
		return nil, false
	}
	var out []byte
	for i := 0; i < total; i++ {
		part, ok := parts[i]
		if !ok {
			return nil, false
		}
		out = append(out, part...)
	}
	return out, true
}

func (b *uploadBackend) chunkUploads(index int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, i := range b.chunkOrder {
		if i == index {
			count++
		}
	}
	return count
}

func (b *uploadBackend) setChunkDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunkDelay = d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engine struct {
	scheduler *runtime.Scheduler
	service   *services.TransferService
	stop      func()
}

func startEngine(t *testing.T, db *badger.DB, baseURL string, cfg runtime.SchedulerConfig) *engine {
	logger := testLogger()
	repo := storage.NewEntryRepository(db, logger)
	tokens := transport.NewStaticTokenProvider("e2e-token")
	httpTransport := transport.NewHTTPTransport(baseURL, tokens, logger)

	scheduler := runtime.NewScheduler(cfg, httpTransport, repo, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Run(ctx)
	}()

	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)

	return &engine{
		scheduler: scheduler,
		service:   services.NewTransferService(scheduler, logger),
		stop:      stop,
	}
}

func openTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func findEntry(t *testing.T, e *engine, id domain.EntryID) (domain.TransferEntry, bool) {
	entries, _, err := e.scheduler.Snapshot(context.Background())
	require.NoError(t, err)
	for _, entry := range entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return domain.TransferEntry{}, false
}

func TestUploadFlow_WholeFile(t *testing.T) {
	req := require.New(t)
	backend := newUploadBackend()
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	eng := startEngine(t, openTestDB(t), server.URL, runtime.DefaultSchedulerConfig())
	ctx := context.Background()

	payload := bytes.Repeat([]byte("whole-file "), 100)
	id, err := eng.service.Enqueue(ctx, services.EnqueueRequest{
		FileRef:     bytes.NewReader(payload),
		FileName:    "notes.txt",
		Destination: "/docs/notes.txt",
		TotalBytes:  int64(len(payload)),
		Priority:    domain.NORMAL,
	})
	req.NoError(err)

	require.Eventually(t, func() bool {
		entry, ok := findEntry(t, eng, id)
		return ok && entry.State == domain.COMPLETED
	}, 5*time.Second, 10*time.Millisecond)

	stored, ok := backend.file("/docs/notes.txt")
	req.True(ok)
	req.Equal(payload, stored)
}

func TestUploadFlow_ChunkedSurvivesRestart(t *testing.T) {
	req := require.New(t)
	backend := newUploadBackend()
	backend.setChunkDelay(150 * time.Millisecond)
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	cfg := runtime.DefaultSchedulerConfig()
	cfg.ChunkSize = 64
	cfg.ChunkThreshold = 100

	db := openTestDB(t)
	eng := startEngine(t, db, server.URL, cfg)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("x"), 256)
	id, err := eng.service.Enqueue(ctx, services.EnqueueRequest{
		FileRef:     bytes.NewReader(payload),
		FileName:    "big.bin",
		Destination: "/videos/big.bin",
		TotalBytes:  int64(len(payload)),
		Priority:    domain.HIGH,
	})
	req.NoError(err)

	// Chunk 0 confirms quickly; the delayed chunk 1 leaves a window to
	// pause mid-transfer.
	require.Eventually(t, func() bool {
		entry, ok := findEntry(t, eng, id)
		return ok && entry.Chunks != nil && entry.Chunks.NextChunk() >= 1
	}, 5*time.Second, time.Millisecond)
	req.NoError(eng.service.Pause(ctx, id))

	// Simulated app restart: the first engine goes away, a second one
	// rehydrates the queue from the same database.
	eng.stop()
	backend.setChunkDelay(0)
	eng2 := startEngine(t, db, server.URL, cfg)

	entry, ok := findEntry(t, eng2, id)
	req.True(ok, "entry must survive the restart")
	req.Equal(domain.PAUSED, entry.State)
	req.Equal(int64(64), entry.TransferredBytes, "confirmed prefix survives, in-flight bytes do not")

	// Resume is refused until the caller re-attaches the file handle.
	req.Error(eng2.service.Resume(ctx, id))
	req.NoError(eng2.service.AttachFile(ctx, id, bytes.NewReader(payload)))
	req.NoError(eng2.service.Resume(ctx, id))

	require.Eventually(t, func() bool {
		entry, ok := findEntry(t, eng2, id)
		return ok && entry.State == domain.COMPLETED
	}, 5*time.Second, 10*time.Millisecond)

	assembled, ok := backend.reassemble(string(id), 4)
	req.True(ok, "all four chunks must reach the backend")
	req.Equal(payload, assembled)
	req.Equal(1, backend.chunkUploads(0), "confirmed chunk is never re-sent")
}
