// Package runtime drives transfer entries through admission, chunked
// transport, retry, and completion bookkeeping. It contains no wire
// format knowledge and no rendering; those live behind the contract
// interfaces.
package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"sync-engine/contract"
	"sync-engine/domain"
	"sync-engine/domain/event"
	apperrors "sync-engine/errors"
)

type SchedulerConfig struct {
	MaxConcurrent   int
	ChunkSize       int64
	ChunkThreshold  int64
	Retry           domain.RetryPolicy
	CancelRetention time.Duration
	SpeedWindow     time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrent:   3,
		ChunkSize:       5 << 20,
		ChunkThreshold:  100 << 20,
		Retry:           domain.DefaultRetryPolicy(),
		CancelRetention: 3 * time.Second,
		SpeedWindow:     5 * time.Second,
	}
}

// Scheduler is the single authority over which entries transfer, in
// what order, and how failures are handled. All entry mutation happens
// on the Run goroutine; transfers run in child goroutines that only
// report back over channels. External callers request transitions
// through the command channel, never touch state directly.
type Scheduler struct {
	cfg       SchedulerConfig
	transport contract.Transport
	store     contract.EntryStore
	log       *slog.Logger

	cmds     chan any
	results  chan transferResult
	progress chan progressUpdate

	entries   []*domain.TransferEntry
	active    map[domain.EntryID]*activeTransfer
	retryHeld map[domain.EntryID]*time.Timer
	speeds    map[domain.EntryID]*domain.SpeedWindow
	genSeq    uint64
	offline   bool
	loaded    bool

	sinksMu sync.Mutex
	sinks   []contract.EventSink

	runCtx context.Context
	wg     sync.WaitGroup
}

var _ contract.Worker = (*Scheduler)(nil)
var _ contract.NetworkListener = (*Scheduler)(nil)

// gen identifies one launch of a transfer. A paused entry can be
// resumed before its aborted goroutine unwinds; the stale result must
// not be mistaken for the successor's.
type activeTransfer struct {
	cancel      context.CancelFunc
	intent      domain.State
	lastPercent int
	gen         uint64
}

type transferResult struct {
	id  domain.EntryID
	gen uint64
	err error
}

type progressUpdate struct {
	id             domain.EntryID
	gen            uint64
	transferred    int64
	confirmedChunk int
}

type (
	enqueueCmd struct {
		entry *domain.TransferEntry
		reply chan error
	}
	entryCmd struct {
		op    string
		id    domain.EntryID
		reply chan error
	}
	attachCmd struct {
		id    domain.EntryID
		ref   domain.FileRef
		reply chan error
	}
	bulkCmd struct {
		op    string
		reply chan error
	}
	networkCmd struct {
		online bool
		reply  chan error
	}
	sweepCmd struct {
		olderThan time.Duration
		reply     chan error
	}
	snapshotCmd struct {
		reply chan snapshotResult
	}
	releaseRetryCmd struct{ id domain.EntryID }
	removeCmd       struct{ id domain.EntryID }
)

type snapshotResult struct {
	entries []domain.TransferEntry
	stats   domain.QueueStats
}

func NewScheduler(
	cfg SchedulerConfig,
	transport contract.Transport,
	store contract.EntryStore,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		transport: transport,
		store:     store,
		log:       log,
		cmds:      make(chan any, 64),
		results:   make(chan transferResult, 16),
		progress:  make(chan progressUpdate, 256),
		active:    make(map[domain.EntryID]*activeTransfer),
		retryHeld: make(map[domain.EntryID]*time.Timer),
		speeds:    make(map[domain.EntryID]*domain.SpeedWindow),
	}
}

// Subscribe registers a sink for engine events. Safe before or after
// Run starts.
func (s *Scheduler) Subscribe(sink contract.EventSink) {
	s.sinksMu.Lock()
	defer s.sinksMu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Run owns the queue until the context is cancelled. It rehydrates the
// persisted record on first start, then serves commands, transfer
// results, and progress updates from a single select loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx

	if !s.loaded {
		restored, err := s.store.Load()
		if err != nil {
			s.log.Warn("Failed to load persisted queue", "error", err)
		} else {
			s.entries = restored
		}
		s.loaded = true
	}
	s.publishQueue(ctx)
	s.admit(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)
		case res := <-s.results:
			s.handleResult(ctx, res)
		case pu := <-s.progress:
			s.handleProgress(ctx, pu)
		}
	}
}

// shutdown aborts in-flight transfers and persists the final state so a
// restart rehydrates them as paused work.
func (s *Scheduler) shutdown() {
	for id, act := range s.active {
		act.intent = domain.PAUSED
		act.cancel()
		if e := s.find(id); e != nil {
			e.State = domain.PAUSED
			e.TransferredBytes = e.ConfirmedBytes()
		}
	}
	s.wg.Wait()
	s.active = make(map[domain.EntryID]*activeTransfer)
	for _, timer := range s.retryHeld {
		timer.Stop()
	}
	if err := s.store.Save(s.entries); err != nil {
		s.log.Warn("Failed to persist queue on shutdown", "error", err)
	}
	s.log.Info("Scheduler stopped", "entries", len(s.entries))
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case enqueueCmd:
		c.reply <- s.enqueue(ctx, c.entry)
	case entryCmd:
		c.reply <- s.applyEntryOp(ctx, c.op, c.id)
	case attachCmd:
		err := s.attach(c.id, c.ref)
		if err == nil {
			s.admit(ctx)
		}
		c.reply <- err
	case bulkCmd:
		s.applyBulkOp(ctx, c.op)
		c.reply <- nil
	case networkCmd:
		s.applyNetworkState(ctx, c.online)
		c.reply <- nil
	case sweepCmd:
		s.sweepCompleted(ctx, c.olderThan)
		c.reply <- nil
	case snapshotCmd:
		c.reply <- snapshotResult{entries: s.snapshots(), stats: s.stats()}
	case releaseRetryCmd:
		delete(s.retryHeld, c.id)
		s.admit(ctx)
	case removeCmd:
		if e := s.find(c.id); e != nil && e.State == domain.CANCELLED {
			s.remove(c.id)
			s.persistAndPublish(ctx)
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, e *domain.TransferEntry) error {
	if e.TotalBytes > s.cfg.ChunkThreshold {
		e.Chunks = domain.NewChunkPlan(e.TotalBytes, s.cfg.ChunkSize)
	}
	s.entries = append(s.entries, e)
	s.log.Debug("Entry enqueued",
		"id", e.ID, "file", e.FileName, "bytes", e.TotalBytes,
		"priority", e.Priority, "chunked", e.Chunked())
	s.persistAndPublish(ctx)
	s.admit(ctx)
	return nil
}

func (s *Scheduler) applyEntryOp(ctx context.Context, op string, id domain.EntryID) error {
	e := s.find(id)
	if e == nil {
		return apperrors.ErrEntryNotFound
	}
	var err error
	switch op {
	case "pause":
		s.pause(ctx, e)
	case "resume":
		err = s.resume(ctx, e)
	case "cancel":
		s.cancel(ctx, e)
	case "retryFailed":
		s.retryFailed(ctx, e)
	}
	s.persistAndPublish(ctx)
	s.admit(ctx)
	return err
}

// pause honors the request at the next safe point: an in-flight
// transport call is aborted and its late result ignored via intent.
// Confirmed chunk progress is retained; unconfirmed bytes are rolled
// back so resume restarts at the last acknowledged boundary.
func (s *Scheduler) pause(ctx context.Context, e *domain.TransferEntry) {
	switch e.State {
	case domain.TRANSFERRING:
		if act, ok := s.active[e.ID]; ok {
			act.intent = domain.PAUSED
			act.cancel()
		}
		s.transition(ctx, e, domain.PAUSED)
		e.TransferredBytes = e.ConfirmedBytes()
	case domain.QUEUED:
		s.holdOff(e.ID)
		s.transition(ctx, e, domain.PAUSED)
	}
}

func (s *Scheduler) resume(ctx context.Context, e *domain.TransferEntry) error {
	if e.State != domain.PAUSED {
		return nil
	}
	if e.FileRef == nil {
		s.log.Warn("Resume refused, no file attached", "id", e.ID, "file", e.FileName)
		return apperrors.ErrFileRefMissing
	}
	s.transition(ctx, e, domain.QUEUED)
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, e *domain.TransferEntry) {
	if e.State.Terminal() {
		return
	}
	if act, ok := s.active[e.ID]; ok {
		act.intent = domain.CANCELLED
		act.cancel()
	}
	s.holdOff(e.ID)
	s.transition(ctx, e, domain.CANCELLED)

	// Keep the entry visible briefly so the UI can acknowledge the
	// cancellation before it disappears.
	id := e.ID
	time.AfterFunc(s.cfg.CancelRetention, func() {
		s.post(removeCmd{id: id})
	})
}

func (s *Scheduler) retryFailed(ctx context.Context, e *domain.TransferEntry) {
	if e.State != domain.FAILED {
		return
	}
	e.AttemptCount = 0
	e.LastError = ""
	s.transition(ctx, e, domain.QUEUED)
}

func (s *Scheduler) attach(id domain.EntryID, ref domain.FileRef) error {
	e := s.find(id)
	if e == nil {
		return apperrors.ErrEntryNotFound
	}
	if e.State == domain.TRANSFERRING {
		return nil
	}
	e.FileRef = ref
	s.log.Debug("File re-attached", "id", id, "file", e.FileName)
	return nil
}

func (s *Scheduler) applyBulkOp(ctx context.Context, op string) {
	switch op {
	case "pauseAll":
		for _, e := range s.entries {
			s.pause(ctx, e)
		}
	case "resumeAll":
		for _, e := range s.entries {
			if e.State == domain.PAUSED && e.FileRef != nil {
				s.transition(ctx, e, domain.QUEUED)
			}
		}
	case "clearCompleted":
		s.removeWhere(func(e *domain.TransferEntry) bool { return e.State == domain.COMPLETED })
	case "clearFailed":
		s.removeWhere(func(e *domain.TransferEntry) bool { return e.State == domain.FAILED })
	case "clearAll":
		for _, e := range s.entries {
			if act, ok := s.active[e.ID]; ok {
				act.intent = domain.CANCELLED
				act.cancel()
			}
		}
		for _, timer := range s.retryHeld {
			timer.Stop()
		}
		s.retryHeld = make(map[domain.EntryID]*time.Timer)
		s.entries = nil
	}
	s.persistAndPublish(ctx)
	s.admit(ctx)
}

// applyNetworkState maps connectivity transitions to bulk pause/resume.
// Attempting transfers while offline only burns retry budget.
func (s *Scheduler) applyNetworkState(ctx context.Context, online bool) {
	if s.offline == !online {
		return
	}
	s.offline = !online
	if online {
		s.log.Info("Network online, resuming transfers")
		s.applyBulkOp(ctx, "resumeAll")
	} else {
		s.log.Info("Network offline, pausing transfers")
		s.applyBulkOp(ctx, "pauseAll")
	}
}

func (s *Scheduler) sweepCompleted(ctx context.Context, olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)
	before := len(s.entries)
	s.removeWhere(func(e *domain.TransferEntry) bool {
		return e.State == domain.COMPLETED && e.CompletedAt.Before(cutoff)
	})
	if removed := before - len(s.entries); removed > 0 {
		s.log.Debug("Swept completed entries", "removed", removed)
		s.persistAndPublish(ctx)
	}
}

// admit promotes QUEUED entries to TRANSFERRING until the concurrency
// ceiling is reached: highest priority first, FIFO within a band.
// Entries waiting out a retry delay or missing a file ref are skipped.
func (s *Scheduler) admit(ctx context.Context) {
	if s.offline {
		return
	}
	for len(s.active) < s.cfg.MaxConcurrent {
		next := s.nextAdmittable()
		if next == nil {
			return
		}
		s.startTransfer(ctx, next)
	}
}

func (s *Scheduler) nextAdmittable() *domain.TransferEntry {
	var best *domain.TransferEntry
	for _, e := range s.entries {
		if e.State != domain.QUEUED || e.FileRef == nil {
			continue
		}
		if _, held := s.retryHeld[e.ID]; held {
			continue
		}
		if best == nil ||
			e.Priority < best.Priority ||
			(e.Priority == best.Priority && e.CreatedAt.Before(best.CreatedAt)) {
			best = e
		}
	}
	return best
}

type transferJob struct {
	id          domain.EntryID
	gen         uint64
	ref         domain.FileRef
	fileName    string
	destination string
	contentType string
	totalBytes  int64
	chunked     bool
	chunkSize   int64
	totalChunks int
	startChunk  int
}

func (s *Scheduler) startTransfer(ctx context.Context, e *domain.TransferEntry) {
	tctx, cancelTransfer := context.WithCancel(ctx)
	s.genSeq++
	s.active[e.ID] = &activeTransfer{cancel: cancelTransfer, lastPercent: -1, gen: s.genSeq}
	s.speeds[e.ID] = domain.NewSpeedWindow(s.cfg.SpeedWindow)

	s.transition(ctx, e, domain.TRANSFERRING)
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	job := transferJob{
		id:          e.ID,
		gen:         s.genSeq,
		ref:         e.FileRef,
		fileName:    e.FileName,
		destination: e.Destination,
		contentType: e.ContentType,
		totalBytes:  e.TotalBytes,
	}
	if e.Chunks != nil {
		job.chunked = true
		job.chunkSize = e.Chunks.ChunkSize
		job.totalChunks = e.Chunks.Total
		job.startChunk = e.Chunks.NextChunk()
	}

	s.wg.Add(1)
	go s.runTransfer(tctx, job)
	s.persistAndPublish(ctx)
}

// runTransfer executes off the scheduler goroutine. It never touches
// entry state; everything flows back through the progress and results
// channels.
func (s *Scheduler) runTransfer(ctx context.Context, job transferJob) {
	defer s.wg.Done()

	var err error
	if job.chunked {
		err = s.transferChunks(ctx, job)
	} else {
		err = s.transferWhole(ctx, job)
	}

	select {
	case s.results <- transferResult{id: job.id, gen: job.gen, err: err}:
	case <-s.runCtx.Done():
	}
}

func (s *Scheduler) transferWhole(ctx context.Context, job transferJob) error {
	payload := io.NewSectionReader(job.ref, 0, job.totalBytes)
	return s.transport.Transfer(ctx, contract.TransferRequest{
		Destination:  job.destination,
		FileName:     job.fileName,
		TotalBytes:   job.totalBytes,
		ContentType:  job.contentType,
		Payload:      payload,
		PayloadBytes: job.totalBytes,
		OnProgress: func(sent int64) {
			s.reportProgress(ctx, job, sent, -1)
		},
	})
}

// transferChunks sends chunks strictly in order; chunk i+1 never starts
// before chunk i is confirmed. The confirmed prefix is what makes a
// mid-transfer reload resumable.
func (s *Scheduler) transferChunks(ctx context.Context, job transferJob) error {
	for i := job.startChunk; i < job.totalChunks; i++ {
		offset := int64(i) * job.chunkSize
		length := job.chunkSize
		if offset+length > job.totalBytes {
			length = job.totalBytes - offset
		}
		payload := io.NewSectionReader(job.ref, offset, length)

		err := s.transport.Transfer(ctx, contract.TransferRequest{
			Destination:  job.destination,
			FileName:     job.fileName,
			TotalBytes:   job.totalBytes,
			ContentType:  job.contentType,
			Payload:      payload,
			PayloadBytes: length,
			Chunk: &contract.ChunkMeta{
				Index:    i,
				Total:    job.totalChunks,
				UploadID: string(job.id),
			},
			OnProgress: func(sent int64) {
				s.reportProgress(ctx, job, offset+sent, -1)
			},
		})
		if err != nil {
			return err
		}
		s.reportProgress(ctx, job, offset+length, i)
	}
	return nil
}

func (s *Scheduler) reportProgress(ctx context.Context, job transferJob, transferred int64, confirmedChunk int) {
	select {
	case s.progress <- progressUpdate{id: job.id, gen: job.gen, transferred: transferred, confirmedChunk: confirmedChunk}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) handleProgress(ctx context.Context, pu progressUpdate) {
	e := s.find(pu.id)
	act := s.active[pu.id]
	if e == nil || act == nil || act.gen != pu.gen || e.State != domain.TRANSFERRING {
		return
	}
	if pu.transferred > e.TotalBytes {
		pu.transferred = e.TotalBytes
	}
	if pu.transferred > e.TransferredBytes {
		e.TransferredBytes = pu.transferred
	}
	if w := s.speeds[pu.id]; w != nil {
		w.Observe(time.Now(), e.TransferredBytes)
	}

	if pu.confirmedChunk >= 0 && e.Chunks != nil {
		e.Chunks.Confirm(pu.confirmedChunk)
		// Persist on every confirmed chunk so a reload resumes from
		// the last acknowledged boundary, not from chunk zero.
		if err := s.store.Save(s.entries); err != nil {
			s.log.Warn("Failed to persist chunk confirmation", "id", pu.id, "error", err)
		}
	}

	percent := domain.Percent(e.TransferredBytes, e.TotalBytes)
	if percent != act.lastPercent {
		act.lastPercent = percent
		var bps float64
		if w := s.speeds[pu.id]; w != nil {
			bps = w.BytesPerSecond()
		}
		s.publish(ctx, event.Progressed{
			ID:          e.ID,
			Transferred: e.TransferredBytes,
			Total:       e.TotalBytes,
			Percent:     percent,
			SpeedBps:    bps,
		})
	}
}

func (s *Scheduler) handleResult(ctx context.Context, res transferResult) {
	act := s.active[res.id]
	if act == nil || act.gen != res.gen {
		// Stale result from a superseded transfer; the slot belongs to
		// a newer attempt started after a pause or network flap.
		return
	}
	delete(s.active, res.id)
	delete(s.speeds, res.id)

	e := s.find(res.id)
	if e == nil {
		s.admit(ctx)
		return
	}

	switch {
	case act != nil && act.intent != "":
		// pause/cancel already transitioned the entry; the aborted
		// call's result is only a slot release.
	case res.err == nil:
		s.complete(ctx, e)
	case errors.Is(res.err, apperrors.ErrCancelled):
		// Aborted without an explicit request (engine shutdown mid
		// loop); keep the work, drop the unconfirmed bytes.
		s.transition(ctx, e, domain.PAUSED)
		e.TransferredBytes = e.ConfirmedBytes()
	default:
		s.fail(ctx, e, res.err)
	}

	s.persistAndPublish(ctx)
	s.admit(ctx)
}

func (s *Scheduler) complete(ctx context.Context, e *domain.TransferEntry) {
	if e.Chunks != nil {
		for i := 0; i < e.Chunks.Total; i++ {
			e.Chunks.Confirm(i)
		}
	}
	e.TransferredBytes = e.TotalBytes
	e.LastError = ""
	e.CompletedAt = time.Now()
	s.transition(ctx, e, domain.COMPLETED)
	s.log.Info("Transfer completed", "id", e.ID, "file", e.FileName, "bytes", e.TotalBytes)
}

// fail consults the retry policy. A retryable failure re-queues the
// entry after a backoff delay instead of retrying in place, so other
// queued work gets a fair chance at the freed slot.
func (s *Scheduler) fail(ctx context.Context, e *domain.TransferEntry, cause error) {
	e.LastError = cause.Error()
	e.TransferredBytes = e.ConfirmedBytes()

	decision := s.cfg.Retry.Decide(e.AttemptCount, cause)
	if !decision.Retry {
		s.transition(ctx, e, domain.FAILED)
		s.publish(ctx, event.Failed{ID: e.ID, Reason: e.LastError, Attempts: e.AttemptCount})
		s.log.Warn("Transfer failed permanently",
			"id", e.ID, "file", e.FileName, "attempts", e.AttemptCount, "error", cause)
		return
	}

	e.AttemptCount++
	s.transition(ctx, e, domain.QUEUED)
	id := e.ID
	s.retryHeld[id] = time.AfterFunc(decision.Delay, func() {
		s.post(releaseRetryCmd{id: id})
	})
	s.log.Debug("Transfer will retry",
		"id", e.ID, "attempt", e.AttemptCount, "delay", decision.Delay, "error", cause)
}

func (s *Scheduler) transition(ctx context.Context, e *domain.TransferEntry, to domain.State) {
	if e.State == to {
		return
	}
	from := e.State
	e.State = to
	s.publish(ctx, event.StateChanged{ID: e.ID, From: from, To: to, At: time.Now()})
}

func (s *Scheduler) holdOff(id domain.EntryID) {
	if timer, ok := s.retryHeld[id]; ok {
		timer.Stop()
		delete(s.retryHeld, id)
	}
}

func (s *Scheduler) find(id domain.EntryID) *domain.TransferEntry {
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Scheduler) remove(id domain.EntryID) {
	s.removeWhere(func(e *domain.TransferEntry) bool { return e.ID == id })
}

func (s *Scheduler) removeWhere(drop func(*domain.TransferEntry) bool) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if drop(e) {
			s.holdOff(e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}

func (s *Scheduler) snapshots() []domain.TransferEntry {
	out := make([]domain.TransferEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Snapshot())
	}
	return out
}

func (s *Scheduler) stats() domain.QueueStats {
	speeds := make(map[domain.EntryID]float64, len(s.speeds))
	for id, w := range s.speeds {
		speeds[id] = w.BytesPerSecond()
	}
	return domain.Aggregate(s.snapshots(), speeds)
}

// persistAndPublish runs after every queue mutation. A storage failure
// is logged and swallowed: the in-memory queue stays authoritative for
// the session even if durability is temporarily lost.
func (s *Scheduler) persistAndPublish(ctx context.Context) {
	if err := s.store.Save(s.entries); err != nil {
		s.log.Warn("Failed to persist queue", "error", err)
	}
	s.publishQueue(ctx)
}

func (s *Scheduler) publishQueue(ctx context.Context) {
	s.publish(ctx, event.QueueUpdated{Entries: s.snapshots(), Stats: s.stats()})
}

func (s *Scheduler) publish(ctx context.Context, e event.Event) {
	s.sinksMu.Lock()
	sinks := s.sinks
	s.sinksMu.Unlock()
	for _, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			s.log.Debug("Event sink rejected event", "kind", e.EventKind(), "error", err)
		}
	}
}

// post delivers internally generated commands (timer callbacks) without
// blocking forever once the run loop has exited.
func (s *Scheduler) post(cmd any) {
	if s.runCtx == nil {
		return
	}
	select {
	case s.cmds <- cmd:
	case <-s.runCtx.Done():
	}
}
