package sandbox

import (
	"context"
	"time"

	"goa.design/bedrock-gateway/internal/telemetry"
)

// RunSweeper closes idle-expired sessions on a fixed tick until ctx is
// canceled. Mirrors the pre-warming/eviction shape of haasonsaas-nexus's
// languagePool, generalized from "shrink a warm pool" to "close sessions
// nobody is using."
func RunSweeper(ctx context.Context, executor Executor, pool *SessionPool, interval time.Duration, tel *telemetry.Telemetry) {
	if tel == nil {
		tel = telemetry.Noop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range pool.IdleExpired(now) {
				if err := executor.CloseSession(ctx, id); err != nil {
					tel.Log.Warn(ctx, "sandbox: failed to close idle session", "session_id", id, "error", err.Error())
					continue
				}
				tel.Log.Info(ctx, "sandbox: closed idle session", "session_id", id)
			}
		}
	}
}
