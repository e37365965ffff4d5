package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// loop is the ticker scaffold shared by the lobby's background jobs.
type loop struct {
	name     string
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newLoop(name string) *loop {
	return &loop{name: name, stopCh: make(chan struct{})}
}

// run calls tick every interval until ctx is done or stop is called. With
// immediate set, the first tick happens before the first wait.
func (l *loop) run(ctx context.Context, interval time.Duration, immediate bool, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
