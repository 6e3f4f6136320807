package observability

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"sync-engine/contract"
	"sync-engine/domain"
	"sync-engine/domain/event"
)

var _ contract.EventSink = (*TelemetryManager)(nil)
var _ contract.Worker = (*TelemetryManager)(nil)

// RecentTransfer is one finished entry kept for the debug page.
type RecentTransfer struct {
	ID        string `json:"id"`
	FileName  string `json:"file_name"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// TelemetryStats aggregates engine metrics for the inspector page.
type TelemetryStats struct {
	NetSpeedMBps float64 `json:"net_speed_mbps"`
	BytesSent    uint64  `json:"bytes_sent"`
	Completed    uint64  `json:"completed"`
	Failed       uint64  `json:"failed"`

	AllocMemMb uint64 `json:"alloc_mem_mb"`
	NumGC      uint32 `json:"num_gc"`

	QueueSize       int              `json:"queue_size"`
	Transferring    int              `json:"transferring"`
	RecentTransfers []RecentTransfer `json:"recent_transfers"`
}

const recentLimit = 20

// TelemetryManager consumes engine events and folds them into rolling
// metrics. Event handling only bumps counters; the heavier aggregation
// runs on the Run ticker so sinks never slow the scheduler down.
type TelemetryManager struct {
	log *slog.Logger

	mu     sync.RWMutex
	latest TelemetryStats

	// Byte counters reset on every tick to derive throughput.
	windowBytes uint64
	totalBytes  uint64
	completed   uint64
	failed      uint64
	lastCheck   time.Time

	// Last cumulative transferred value per entry, to turn absolute
	// progress reports into deltas.
	progressMu sync.Mutex
	lastSeen   map[domain.EntryID]int64
	names      map[domain.EntryID]string
}

func NewTelemetryManager(log *slog.Logger) *TelemetryManager {
	return &TelemetryManager{
		log:       log,
		lastCheck: time.Now(),
		lastSeen:  make(map[domain.EntryID]int64),
		names:     make(map[domain.EntryID]string),
		latest: TelemetryStats{
			RecentTransfers: make([]RecentTransfer, 0),
		},
	}
}

func (tm *TelemetryManager) Consume(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.Progressed:
		tm.observeProgress(evt)
	case event.StateChanged:
		tm.observeTransition(evt)
	case event.QueueUpdated:
		tm.observeQueue(evt)
	}
	return nil
}

func (tm *TelemetryManager) observeProgress(evt event.Progressed) {
	tm.progressMu.Lock()
	last := tm.lastSeen[evt.ID]
	delta := evt.Transferred - last
	if delta < 0 {
		delta = 0
	}
	tm.lastSeen[evt.ID] = evt.Transferred
	tm.progressMu.Unlock()

	atomic.AddUint64(&tm.windowBytes, uint64(delta))
	atomic.AddUint64(&tm.totalBytes, uint64(delta))
}

func (tm *TelemetryManager) observeTransition(evt event.StateChanged) {
	switch evt.To {
	case domain.COMPLETED:
		atomic.AddUint64(&tm.completed, 1)
	case domain.FAILED:
		atomic.AddUint64(&tm.failed, 1)
	default:
		return
	}

	tm.progressMu.Lock()
	name := tm.names[evt.ID]
	delete(tm.lastSeen, evt.ID)
	tm.progressMu.Unlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	recent := RecentTransfer{
		ID:        string(evt.ID),
		FileName:  name,
		State:     string(evt.To),
		Timestamp: evt.At.Format("15:04:05"),
	}
	tm.latest.RecentTransfers = append([]RecentTransfer{recent}, tm.latest.RecentTransfers...)
	if len(tm.latest.RecentTransfers) > recentLimit {
		tm.latest.RecentTransfers = tm.latest.RecentTransfers[:recentLimit]
	}
}

func (tm *TelemetryManager) observeQueue(evt event.QueueUpdated) {
	tm.progressMu.Lock()
	for _, e := range evt.Entries {
		tm.names[e.ID] = e.FileName
	}
	tm.progressMu.Unlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.latest.QueueSize = evt.Stats.Total
	tm.latest.Transferring = evt.Stats.Transferring
}

// Run refreshes throughput and memory stats once per second until the
// context is cancelled.
func (tm *TelemetryManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tm.log.Info("Stopping telemetry manager")
			return ctx.Err()
		case <-ticker.C:
			tm.refresh()
		}
	}
}

func (tm *TelemetryManager) refresh() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tm.lastCheck).Seconds()
	if elapsed > 0 {
		sent := atomic.SwapUint64(&tm.windowBytes, 0)
		tm.latest.NetSpeedMBps = (float64(sent) / 1024 / 1024) / elapsed
	}
	tm.lastCheck = now

	tm.latest.BytesSent = atomic.LoadUint64(&tm.totalBytes)
	tm.latest.Completed = atomic.LoadUint64(&tm.completed)
	tm.latest.Failed = atomic.LoadUint64(&tm.failed)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	tm.latest.AllocMemMb = m.Alloc / 1024 / 1024
	tm.latest.NumGC = m.NumGC

	tm.log.Debug("Telemetry refreshed",
		"net_speed_mbps", tm.latest.NetSpeedMBps,
		"bytes_sent", tm.latest.BytesSent,
		"queue_size", tm.latest.QueueSize,
		"mem_mb", tm.latest.AllocMemMb,
	)
}

// GetLatest returns a copy of the current metrics.
func (tm *TelemetryManager) GetLatest() TelemetryStats {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	stats := tm.latest
	stats.RecentTransfers = append([]RecentTransfer(nil), tm.latest.RecentTransfers...)
	return stats
}

// StatsMap adapts the latest metrics to the debug server's provider.
func (tm *TelemetryManager) StatsMap() map[string]any {
	stats := tm.GetLatest()
	return map[string]any{
		"net_speed_mbps": stats.NetSpeedMBps,
		"bytes_sent":     stats.BytesSent,
		"completed":      stats.Completed,
		"failed":         stats.Failed,
		"alloc_mem_mb":   stats.AllocMemMb,
		"num_gc":         stats.NumGC,
		"queue_size":     stats.QueueSize,
		"transferring":   stats.Transferring,
	}
}
