/*
scheduler.go - Background fund balance reconciliation

PURPOSE:
  Periodically replays every fund's transactions and repairs the stored
  balance when it drifted (writes that bypassed the ledger, manual SQL,
  crashes between statements on older databases).

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Drift is logged and counted by ledger.Funds.Reconcile; the scheduler
    only logs a summary per run

CONFIGURATION:
  - RECONCILE_INTERVAL: how often to run; 0 disables the scheduler

USAGE:
  scheduler := NewReconcileScheduler(funds, interval, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconcileFund endpoint (manual, one fund)
  - ledger/funds.go: Reconcile / ReconcileAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/church-treasury/ledger"
)

// FundReconciler is the part of ledger.Funds the scheduler needs.
type FundReconciler interface {
	ReconcileAll(ctx context.Context) ([]ledger.ReconcileResult, error)
}

// ReconcileScheduler rebuilds fund balances on an interval.
type ReconcileScheduler struct {
	Funds    FundReconciler
	Interval time.Duration
	Timeout  time.Duration

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewReconcileScheduler(funds FundReconciler, interval time.Duration, logger *zap.Logger) *ReconcileScheduler {
	return &ReconcileScheduler{
		Funds:    funds,
		Interval: interval,
		Timeout:  5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler. It is a no-op when the interval is not positive.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.logger.Info("reconcile scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)
	go rs.run()

	rs.logger.Info("reconcile scheduler started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("reconcile scheduler stopped")
}

func (rs *ReconcileScheduler) run() {
	defer rs.wg.Done()

	rs.RunNow()

	for {
		select {
		case <-rs.ticker.C:
			rs.RunNow()
		case <-rs.stop:
			return
		}
	}
}

// RunNow reconciles every fund once and returns how many had drifted.
func (rs *ReconcileScheduler) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
	defer cancel()

	results, err := rs.Funds.ReconcileAll(ctx)
	if err != nil {
		rs.logger.Error("fund reconcile failed", zap.Int("reconciled", len(results)), zap.Error(err))
	}

	drifted := 0
	for _, r := range results {
		if r.Drifted() {
			drifted++
		}
	}
	rs.logger.Info("fund reconcile completed",
		zap.Int("funds", len(results)),
		zap.Int("drifted", drifted))
	return drifted
}
