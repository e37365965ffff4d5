package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/wager-lobby/internal/observability"
	"go.uber.org/zap"
)

// PendingSettler re-applies recorded verdicts for matches stuck in VERIFYING.
type PendingSettler interface {
	RetryPending(ctx context.Context, batch int) (int, error)
}

// SettlementWorker finishes settlements that were interrupted after the
// verdict was recorded. Running several instances is safe: settlement is
// idempotent per match.
type SettlementWorker struct {
	settler      PendingSettler
	pollInterval time.Duration
	batchSize    int
	loop         *loop
}

func NewSettlementWorker(settler PendingSettler) *SettlementWorker {
	return &SettlementWorker{
		settler:      settler,
		pollInterval: 30 * time.Second,
		batchSize:    25,
		loop:         newLoop("settlement"),
	}
}

func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *SettlementWorker) WithBatchSize(size int) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is cancelled.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting", zap.Duration("interval", w.pollInterval), zap.Int("batch", w.batchSize))

	w.loop.run(ctx, w.pollInterval, false, func(ctx context.Context) { _, _ = w.ProcessOnce(ctx) })
}

func (w *SettlementWorker) Stop() {
	w.loop.stop()
}

// ProcessOnce runs a single recovery pass and returns how many matches it completed.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) (int, error) {
	settled, err := w.settler.RetryPending(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		zap.L().Error("settlement recovery failed", zap.Error(err))
		return settled, err
	}
	observability.IncrementWorkerRun("settlement", "success")
	if settled > 0 {
		zap.L().Info("recovered pending settlements", zap.Int("settled", settled))
	}
	return settled, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SettlementWorker) String() string {
	return fmt.Sprintf("SettlementWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
