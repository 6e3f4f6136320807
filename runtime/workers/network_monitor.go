package workers

import (
	"context"
	"log/slog"
	"time"

	"sync-engine/contract"
)

var _ contract.Worker = (*NetworkMonitorWorker)(nil)

// NetworkMonitorWorker probes backend reachability on a ticker and
// notifies the listener on transitions only. The scheduler maps
// offline to pauseAll and online to resumeAll, so transfers stop
// burning retry budget while the link is down.
type NetworkMonitorWorker struct {
	prober   contract.NetworkProber
	listener contract.NetworkListener
	log      *slog.Logger
	interval time.Duration
}

func NewNetworkMonitorWorker(
	prober contract.NetworkProber,
	listener contract.NetworkListener,
	log *slog.Logger,
	interval time.Duration,
) *NetworkMonitorWorker {
	return &NetworkMonitorWorker{
		prober:   prober,
		listener: listener,
		log:      log,
		interval: interval,
	}
}

func (w *NetworkMonitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Assume online until a probe says otherwise; a false offline at
	// boot would needlessly pause restored entries.
	online := true

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Stopping network monitor")
			return ctx.Err()
		case <-ticker.C:
			current := w.prober.Online(ctx)
			if current == online {
				continue
			}
			online = current
			w.log.Info("Network state changed", "online", online)
			if err := w.listener.NetworkStateChanged(ctx, online); err != nil {
				w.log.Warn("Failed to notify network listener", "error", err)
			}
		}
	}
}
