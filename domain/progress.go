package domain

import (
	"time"

	"github.com/samber/lo"
)

// Percent is the floor of transferred/total as a percentage.
func Percent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(transferred * 100 / total)
}

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedWindow derives throughput from cumulative byte counters over a
// sliding time window, so the figure settles instead of spiking on the
// first few reads.
type SpeedWindow struct {
	span    time.Duration
	samples []speedSample
}

func NewSpeedWindow(span time.Duration) *SpeedWindow {
	return &SpeedWindow{span: span}
}

// Observe records the cumulative byte counter at a point in time and
// drops samples that fell out of the window.
func (w *SpeedWindow) Observe(at time.Time, totalBytes int64) {
	w.samples = append(w.samples, speedSample{at: at, bytes: totalBytes})
	cutoff := at.Add(-w.span)
	for len(w.samples) > 1 && w.samples[0].at.Before(cutoff) {
		w.samples = w.samples[1:]
	}
}

// BytesPerSecond returns 0 until two samples exist.
func (w *SpeedWindow) BytesPerSecond() float64 {
	if len(w.samples) < 2 {
		return 0
	}
	first, last := w.samples[0], w.samples[len(w.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// ETA estimates the remaining duration. ok is false when throughput is
// zero: the caller must report "unknown", never zero or infinity.
func ETA(remainingBytes int64, bytesPerSecond float64) (time.Duration, bool) {
	if bytesPerSecond <= 0 {
		return 0, false
	}
	return time.Duration(float64(remainingBytes) / bytesPerSecond * float64(time.Second)), true
}

// QueueStats is the queue-wide aggregate published with every mutation.
type QueueStats struct {
	Total            int     `json:"total"`
	Queued           int     `json:"queued"`
	Transferring     int     `json:"transferring"`
	Paused           int     `json:"paused"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	Cancelled        int     `json:"cancelled"`
	TotalBytes       int64   `json:"total_bytes"`
	TransferredBytes int64   `json:"transferred_bytes"`
	OverallPercent   int     `json:"overall_percent"`
	AvgSpeedBps      float64 `json:"avg_speed_bps"`
}

// Aggregate derives read-only statistics from entry snapshots. Byte
// totals cover non-terminal entries only; speeds holds the windowed
// throughput of currently transferring entries.
func Aggregate(entries []TransferEntry, speeds map[EntryID]float64) QueueStats {
	stats := QueueStats{Total: len(entries)}
	for _, e := range entries {
		switch e.State {
		case QUEUED:
			stats.Queued++
		case TRANSFERRING:
			stats.Transferring++
		case PAUSED:
			stats.Paused++
		case COMPLETED:
			stats.Completed++
		case FAILED:
			stats.Failed++
		case CANCELLED:
			stats.Cancelled++
		}
	}

	live := lo.Filter(entries, func(e TransferEntry, _ int) bool {
		return !e.State.Terminal()
	})
	stats.TotalBytes = lo.SumBy(live, func(e TransferEntry) int64 { return e.TotalBytes })
	stats.TransferredBytes = lo.SumBy(live, func(e TransferEntry) int64 { return e.TransferredBytes })
	stats.OverallPercent = Percent(stats.TransferredBytes, stats.TotalBytes)

	if len(speeds) > 0 {
		var sum float64
		for _, bps := range speeds {
			sum += bps
		}
		stats.AvgSpeedBps = sum / float64(len(speeds))
	}
	return stats
}
