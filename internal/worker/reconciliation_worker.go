package worker

import (
	"context"
	"time"

	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/service"
	"go.uber.org/zap"
)

// Reconciler checks ledger invariants.
type Reconciler interface {
	Run(ctx context.Context) (*service.ReconciliationReport, error)
}

// ReconciliationWorker re-checks escrow conservation and wallet balances on a
// schedule. It only reports; a drift needs an operator.
type ReconciliationWorker struct {
	svc      Reconciler
	interval time.Duration
	loop     *loop
}

// NewReconciliationWorker defaults to an hourly pass.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: time.Hour,
		loop:     newLoop("reconciliation"),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks. The first pass runs at startup so a bad deploy surfaces
// before the first interval elapses.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	w.loop.run(ctx, w.interval, true, func(ctx context.Context) { w.RunOnce(ctx) })
}

func (w *ReconciliationWorker) Stop() {
	w.loop.stop()
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs one pass and returns its report, or nil if the pass
// itself failed.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) *service.ReconciliationReport {
	report, err := w.svc.Run(ctx)
	switch {
	case err != nil:
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return nil
	case !report.Balanced():
		observability.IncrementWorkerRun("reconciliation", "imbalanced")
		zap.L().Warn("reconciliation pass unbalanced",
			zap.Int("imbalances", len(report.Imbalances)),
			zap.Int("wallets_checked", report.WalletsChecked),
			zap.Int("matches_checked", report.MatchesChecked))
	default:
		observability.IncrementWorkerRun("reconciliation", "success")
	}
	return report
}
