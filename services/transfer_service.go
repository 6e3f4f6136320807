package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"sync-engine/contract"
	"sync-engine/domain"
	apperrors "sync-engine/errors"
	"sync-engine/runtime"
)

// EnqueueRequest is the caller-facing admission input. FileRef carries
// the readable bytes; everything else is metadata.
type EnqueueRequest struct {
	FileRef     domain.FileRef
	FileName    string          `validate:"required"`
	Destination string          `validate:"required,startswith=/"`
	TotalBytes  int64           `validate:"gt=0"`
	Priority    domain.Priority `validate:"gte=0,lte=2"`
}

// TransferService is the command facade in front of the scheduler:
// input validation, id generation, and content-type sniffing happen
// here so the scheduler only ever sees well-formed entries.
type TransferService struct {
	scheduler *runtime.Scheduler
	validate  *validator.Validate
	log       *slog.Logger
}

func NewTransferService(scheduler *runtime.Scheduler, log *slog.Logger) *TransferService {
	return &TransferService{
		scheduler: scheduler,
		validate:  validator.New(),
		log:       log,
	}
}

// Enqueue admits one file into the transfer queue and returns its id.
// Caller misuse is rejected synchronously and never retried.
func (s *TransferService) Enqueue(ctx context.Context, req EnqueueRequest) (domain.EntryID, error) {
	if req.FileRef == nil {
		return "", fmt.Errorf("%w: empty file reference", apperrors.ErrInvalidInput)
	}
	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	entry := &domain.TransferEntry{
		ID:          domain.EntryID(uuid.New().String()),
		FileRef:     req.FileRef,
		FileName:    req.FileName,
		TotalBytes:  req.TotalBytes,
		Destination: req.Destination,
		ContentType: sniffContentType(req.FileRef, req.TotalBytes),
		Priority:    req.Priority,
		State:       domain.QUEUED,
		CreatedAt:   time.Now(),
	}

	if err := s.scheduler.Enqueue(ctx, entry); err != nil {
		return "", err
	}
	s.log.Debug("Enqueued transfer", "id", entry.ID, "file", entry.FileName)
	return entry.ID, nil
}

// EnqueueBatch admits several files at once, returning ids in input
// order. It stops at the first invalid request.
func (s *TransferService) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) ([]domain.EntryID, error) {
	ids := make([]domain.EntryID, 0, len(reqs))
	for _, req := range reqs {
		id, err := s.Enqueue(ctx, req)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *TransferService) Pause(ctx context.Context, id domain.EntryID) error {
	return s.scheduler.Pause(ctx, id)
}

func (s *TransferService) Resume(ctx context.Context, id domain.EntryID) error {
	return s.scheduler.Resume(ctx, id)
}

func (s *TransferService) Cancel(ctx context.Context, id domain.EntryID) error {
	return s.scheduler.Cancel(ctx, id)
}

func (s *TransferService) RetryFailed(ctx context.Context, id domain.EntryID) error {
	return s.scheduler.RetryFailed(ctx, id)
}

func (s *TransferService) PauseAll(ctx context.Context) error {
	return s.scheduler.PauseAll(ctx)
}

func (s *TransferService) ResumeAll(ctx context.Context) error {
	return s.scheduler.ResumeAll(ctx)
}

func (s *TransferService) ClearCompleted(ctx context.Context) error {
	return s.scheduler.ClearCompleted(ctx)
}

func (s *TransferService) ClearFailed(ctx context.Context) error {
	return s.scheduler.ClearFailed(ctx)
}

// AttachFile re-supplies the file handle of an entry rehydrated from
// the persisted record.
func (s *TransferService) AttachFile(ctx context.Context, id domain.EntryID, ref domain.FileRef) error {
	return s.scheduler.AttachFile(ctx, id, ref)
}

func (s *TransferService) Subscribe(sink contract.EventSink) {
	s.scheduler.Subscribe(sink)
}

func (s *TransferService) Snapshot(ctx context.Context) ([]domain.TransferEntry, domain.QueueStats, error) {
	return s.scheduler.Snapshot(ctx)
}

func sniffContentType(ref domain.FileRef, totalBytes int64) string {
	head := totalBytes
	if head > 3072 {
		head = 3072
	}
	mime, err := mimetype.DetectReader(io.NewSectionReader(ref, 0, head))
	if err != nil {
		return "application/octet-stream"
	}
	return mime.String()
}
