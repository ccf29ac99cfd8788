package traffic

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls ExpireStale on a fixed timer until ctx is done. It runs on
// its own cadence so neither the feed nor the render loop pays for expiry.
func (m *Manager) RunSweeper(ctx context.Context, every time.Duration) error {
	if m == nil {
		return nil
	}
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := m.ExpireStale(m.cfg.Now()); n > 0 {
				m.log.Debug("expired stale tracks", slog.Int("removed", n), slog.Int("live", m.Count()))
			}
		}
	}
}
