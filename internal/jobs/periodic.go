package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Every calls fn each interval until stop is closed. The context passed to
// fn is cancelled when stop closes so a long run can abort early.
func Every(name string, interval time.Duration, stop <-chan struct{}, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-stop:
			slog.Info("stopping periodic job", "job", name)
			return
		}
	}
}
