package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/church-treasury/ledger"
)

type fakeReconciler struct {
	calls   atomic.Int32
	results []ledger.ReconcileResult
	err     error
}

func (f *fakeReconciler) ReconcileAll(ctx context.Context) ([]ledger.ReconcileResult, error) {
	f.calls.Add(1)
	return f.results, f.err
}

func TestRunNowCountsDrift(t *testing.T) {
	f := &fakeReconciler{results: []ledger.ReconcileResult{
		{FundID: "f-1", Stored: decimal.NewFromInt(10), Computed: decimal.NewFromInt(10)},
		{FundID: "f-2", Stored: decimal.NewFromInt(10), Computed: decimal.NewFromInt(7)},
	}}
	rs := NewReconcileScheduler(f, time.Hour, zap.NewNop())

	assert.Equal(t, 1, rs.RunNow())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestRunNowLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	f := &fakeReconciler{err: errors.New("database is locked")}
	rs := NewReconcileScheduler(f, time.Hour, zap.New(core))

	assert.Zero(t, rs.RunNow())
	assert.Equal(t, 1, logs.FilterMessage("fund reconcile failed").Len())
}

func TestSchedulerRunsOnStartAndStops(t *testing.T) {
	f := &fakeReconciler{}
	rs := NewReconcileScheduler(f, time.Hour, zap.NewNop())

	rs.Start()
	assert.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	rs.Stop()
	rs.Stop() // second stop is a no-op
}

func TestSchedulerDisabledWithZeroInterval(t *testing.T) {
	f := &fakeReconciler{}
	rs := NewReconcileScheduler(f, 0, zap.NewNop())

	rs.Start()
	rs.Stop()

	assert.Zero(t, f.calls.Load())
}
