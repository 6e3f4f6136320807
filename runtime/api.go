package runtime

import (
	"context"
	"time"

	"sync-engine/domain"
)

// Public command surface. Every call posts a command to the run loop
// and waits for the acknowledgment, so pause/cancel only return once
// the updated state has been persisted.

func (s *Scheduler) send(ctx context.Context, cmd any, reply chan error) error {
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Enqueue(ctx context.Context, entry *domain.TransferEntry) error {
	reply := make(chan error, 1)
	return s.send(ctx, enqueueCmd{entry: entry, reply: reply}, reply)
}

func (s *Scheduler) Pause(ctx context.Context, id domain.EntryID) error {
	reply := make(chan error, 1)
	return s.send(ctx, entryCmd{op: "pause", id: id, reply: reply}, reply)
}

func (s *Scheduler) Resume(ctx context.Context, id domain.EntryID) error {
	reply := make(chan error, 1)
	return s.send(ctx, entryCmd{op: "resume", id: id, reply: reply}, reply)
}

func (s *Scheduler) Cancel(ctx context.Context, id domain.EntryID) error {
	reply := make(chan error, 1)
	return s.send(ctx, entryCmd{op: "cancel", id: id, reply: reply}, reply)
}

func (s *Scheduler) RetryFailed(ctx context.Context, id domain.EntryID) error {
	reply := make(chan error, 1)
	return s.send(ctx, entryCmd{op: "retryFailed", id: id, reply: reply}, reply)
}

// AttachFile re-supplies the file handle of a rehydrated entry. Resume
// is refused until this happens.
func (s *Scheduler) AttachFile(ctx context.Context, id domain.EntryID, ref domain.FileRef) error {
	reply := make(chan error, 1)
	return s.send(ctx, attachCmd{id: id, ref: ref, reply: reply}, reply)
}

func (s *Scheduler) PauseAll(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.send(ctx, bulkCmd{op: "pauseAll", reply: reply}, reply)
}

func (s *Scheduler) ResumeAll(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.send(ctx, bulkCmd{op: "resumeAll", reply: reply}, reply)
}

func (s *Scheduler) ClearCompleted(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.send(ctx, bulkCmd{op: "clearCompleted", reply: reply}, reply)
}

func (s *Scheduler) ClearFailed(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.send(ctx, bulkCmd{op: "clearFailed", reply: reply}, reply)
}

func (s *Scheduler) ClearAll(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.send(ctx, bulkCmd{op: "clearAll", reply: reply}, reply)
}

// ClearCompletedOlderThan drops completed entries past the retention
// window. Wired to a cron schedule by the caller.
func (s *Scheduler) ClearCompletedOlderThan(ctx context.Context, olderThan time.Duration) error {
	reply := make(chan error, 1)
	return s.send(ctx, sweepCmd{olderThan: olderThan, reply: reply}, reply)
}

// NetworkStateChanged implements contract.NetworkListener.
func (s *Scheduler) NetworkStateChanged(ctx context.Context, online bool) error {
	reply := make(chan error, 1)
	return s.send(ctx, networkCmd{online: online, reply: reply}, reply)
}

// Snapshot returns copies of all entries plus aggregate stats.
func (s *Scheduler) Snapshot(ctx context.Context) ([]domain.TransferEntry, domain.QueueStats, error) {
	reply := make(chan snapshotResult, 1)
	select {
	case s.cmds <- snapshotCmd{reply: reply}:
	case <-ctx.Done():
		return nil, domain.QueueStats{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.entries, res.stats, nil
	case <-ctx.Done():
		return nil, domain.QueueStats{}, ctx.Err()
	}
}
