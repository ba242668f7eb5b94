package ptc

import (
	"context"
	"time"
)

// RunSweeper abandons idle-expired PTC sessions on a fixed tick until ctx is
// canceled, mirroring internal/sandbox.RunSweeper's shape for the
// orchestrator's own session registry.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range o.sessions.IdleExpired(now) {
				session, ok := o.sessions.Lookup(id)
				if !ok {
					continue
				}
				o.abandon(ctx, session, "idle timeout")
			}
		}
	}
}
