package report

import (
	"context"
	"time"

	"github.com/warp/church-treasury/treasury"
)

// Reports persists monthly reports. Getters return (nil, nil) for missing rows.
type Reports interface {
	GetReport(ctx context.Context, id treasury.ReportID) (*Report, error)
	FindReport(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*Report, error)
	ListReports(ctx context.Context, filter Filter) ([]Report, error)

	// InsertReport fails with a Conflict error when the (church, period)
	// pair already has a report.
	InsertReport(ctx context.Context, r Report) error
	UpdateReport(ctx context.Context, r Report) error
	DeleteReport(ctx context.Context, id treasury.ReportID) error

	// ClaimGeneration sets the generation flag only if it is currently
	// unset and reports whether this call set it.
	ClaimGeneration(ctx context.Context, id treasury.ReportID, actor string, at time.Time) (bool, error)

	// ReleaseGeneration clears the flag after a failed generation and
	// restores generated_by to previousActor.
	ReleaseGeneration(ctx context.Context, id treasury.ReportID, previousActor string) error
}

// Store carries reports, churches and the ledger tables so that approval
// can write all of them in one transaction.
type Store interface {
	Reports
	treasury.ChurchStore
	treasury.Store

	// WithReportTx is WithTx with the full report view. Calling it on a
	// view joins the enclosing transaction.
	WithReportTx(ctx context.Context, fn func(Store) error) error
}
