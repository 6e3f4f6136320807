package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sync-engine/domain"
	apperrors "sync-engine/errors"
	"sync-engine/infrastructure/storage"
	"sync-engine/mocks"
	"sync-engine/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T) *TransferService {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Transfer(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	scheduler := runtime.NewScheduler(
		runtime.DefaultSchedulerConfig(),
		transport,
		storage.NewEntryRepository(db, testLogger()),
		testLogger(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewTransferService(scheduler, testLogger())
}

func validRequest() EnqueueRequest {
	payload := []byte("%PDF-1.4 not really a pdf but close enough")
	return EnqueueRequest{
		FileRef:     bytes.NewReader(payload),
		FileName:    "report.pdf",
		Destination: "/docs/report.pdf",
		TotalBytes:  int64(len(payload)),
		Priority:    domain.NORMAL,
	}
}

func TestTransferService_EnqueueValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*EnqueueRequest)
	}{
		{"missing file reference", func(r *EnqueueRequest) { r.FileRef = nil }},
		{"empty file name", func(r *EnqueueRequest) { r.FileName = "" }},
		{"empty destination", func(r *EnqueueRequest) { r.Destination = "" }},
		{"relative destination", func(r *EnqueueRequest) { r.Destination = "docs/report.pdf" }},
		{"zero size", func(r *EnqueueRequest) { r.TotalBytes = 0 }},
		{"negative size", func(r *EnqueueRequest) { r.TotalBytes = -5 }},
		{"priority below range", func(r *EnqueueRequest) { r.Priority = -5 }},
		{"priority above range", func(r *EnqueueRequest) { r.Priority = 7 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Enqueue(ctx, req)
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestTransferService_EnqueueReturnsID(t *testing.T) {
	req := require.New(t)
	svc := newService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, validRequest())
	req.NoError(err)
	req.NotEmpty(id)

	require.Eventually(t, func() bool {
		entries, _, err := svc.Snapshot(ctx)
		if err != nil || len(entries) != 1 {
			return false
		}
		return entries[0].ID == id && entries[0].State == domain.COMPLETED
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTransferService_ContentTypeSniffing(t *testing.T) {
	req := require.New(t)
	svc := newService(t)
	ctx := context.Background()

	payload := []byte("<?xml version=\"1.0\"?><note>hi</note>")
	id, err := svc.Enqueue(ctx, EnqueueRequest{
		FileRef:     bytes.NewReader(payload),
		FileName:    "note.xml",
		Destination: "/notes/note.xml",
		TotalBytes:  int64(len(payload)),
	})
	req.NoError(err)

	entries, _, err := svc.Snapshot(ctx)
	req.NoError(err)
	req.Len(entries, 1)
	req.Equal(id, entries[0].ID)
	req.Contains(entries[0].ContentType, "xml")
}

func TestTransferService_EnqueueBatchPreservesOrder(t *testing.T) {
	req := require.New(t)
	svc := newService(t)
	ctx := context.Background()

	reqs := make([]EnqueueRequest, 0, 3)
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		r := validRequest()
		r.FileName = name
		r.Destination = "/" + name
		body := "payload for " + name
		r.FileRef = strings.NewReader(body)
		r.TotalBytes = int64(len(body))
		reqs = append(reqs, r)
	}

	ids, err := svc.EnqueueBatch(ctx, reqs)
	req.NoError(err)
	req.Len(ids, 3)

	entries, _, err := svc.Snapshot(ctx)
	req.NoError(err)
	byID := make(map[domain.EntryID]string, len(entries))
	for _, e := range entries {
		byID[e.ID] = e.FileName
	}
	req.Equal("one.txt", byID[ids[0]])
	req.Equal("two.txt", byID[ids[1]])
	req.Equal("three.txt", byID[ids[2]])
}

func TestTransferService_EnqueueBatchStopsAtFirstInvalid(t *testing.T) {
	req := require.New(t)
	svc := newService(t)
	ctx := context.Background()

	bad := validRequest()
	bad.Destination = "not-absolute"

	ids, err := svc.EnqueueBatch(ctx, []EnqueueRequest{validRequest(), bad, validRequest()})
	req.ErrorIs(err, apperrors.ErrInvalidInput)
	req.Len(ids, 1, "entries before the invalid one are already admitted")
}
