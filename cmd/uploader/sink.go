package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gookit/color"

	"sync-engine/domain"
	"sync-engine/domain/event"
)

// consoleSink renders engine events on stdout. It is the CLI stand-in
// for the UI subscription surface.
type consoleSink struct {
	lastPercent map[domain.EntryID]int
}

func newConsoleSink() *consoleSink {
	return &consoleSink{lastPercent: make(map[domain.EntryID]int)}
}

func (s *consoleSink) Consume(_ context.Context, e event.Event) error {
	switch ev := e.(type) {
	case event.StateChanged:
		s.printState(ev)
	case event.Progressed:
		// Avoid flooding the terminal: one line per 10%.
		if ev.Percent/10 != s.lastPercent[ev.ID]/10 || ev.Percent == 100 {
			s.lastPercent[ev.ID] = ev.Percent
			suffix := ""
			if eta, ok := domain.ETA(ev.Total-ev.Transferred, ev.SpeedBps); ok {
				suffix = fmt.Sprintf(", eta %s", eta.Round(time.Second))
			}
			color.Gray.Printf("  %s %3d%% (%s/s%s)\n",
				shortID(ev.ID), ev.Percent, formatBytes(int64(ev.SpeedBps)), suffix)
		}
	case event.Failed:
		color.Red.Printf("✗ %s failed after %d attempts: %s\n",
			shortID(ev.ID), ev.Attempts, ev.Reason)
	}
	return nil
}

func (s *consoleSink) printState(ev event.StateChanged) {
	switch ev.To {
	case domain.TRANSFERRING:
		color.Cyan.Printf("↑ %s transferring\n", shortID(ev.ID))
	case domain.COMPLETED:
		color.Green.Printf("✓ %s completed\n", shortID(ev.ID))
	case domain.PAUSED:
		color.Yellow.Printf("⏸ %s paused\n", shortID(ev.ID))
	case domain.CANCELLED:
		color.Gray.Printf("✗ %s cancelled\n", shortID(ev.ID))
	}
}

func shortID(id domain.EntryID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
