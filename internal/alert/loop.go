package alert

import (
	"context"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/pkg/logger"
)

// Loop drives the checker on a fixed interval until the context is
// canceled. The first pass runs immediately.
func Loop(ctx context.Context, checker *Checker, interval time.Duration) {
	logger.Info("alert loop started", "interval_sec", int(interval.Seconds()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	checker.RunAll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("alert loop stopped")
			return
		case <-ticker.C:
			checker.RunAll(ctx)
		}
	}
}
