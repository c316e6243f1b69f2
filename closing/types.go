/*
Package closing implements the monthly ledger close of a church.

PURPOSE:
  A MonthlyLedger summarizes one church-month: the balance carried in from
  the previous month, the month's income and expenses, and the resulting
  closing balance. It is fed by the approved monthly report and by
  accounting entries recorded directly against the church.

LIFECYCLE:
  open ──close──> closed ──reconcile──> reconciled

  - open:       opening balance fixed from the latest earlier ledger
  - close:      snapshots income/expenses, computes closing balance (one way)
  - reconcile:  admin sign-off of a closed ledger

INVARIANTS:
  1. At most one ledger per (church, year, month)
  2. OpeningBalance never changes after Open
  3. OpeningBalance equals the ClosingBalance of the latest earlier ledger,
     or zero when there is none
  4. A ledger cannot be opened while the latest earlier ledger is still open

SEE ALSO:
  - service.go: Open/Close/Reconcile and accounting entries
  - report/totals.go: where report income and expenses come from
*/
package closing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

type LedgerID string
type EntryID string

type Status string

const (
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusReconciled Status = "reconciled"
)

type MonthlyLedger struct {
	ID       LedgerID
	ChurchID treasury.ChurchID
	Period   treasury.Period

	OpeningBalance decimal.Decimal
	TotalIncome    decimal.Decimal
	TotalExpenses  decimal.Decimal
	ClosingBalance decimal.Decimal

	Status       Status
	Notes        string
	ClosedBy     string
	ClosedAt     *time.Time
	ReconciledBy string
	ReconciledAt *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ACCOUNTING ENTRIES
// =============================================================================

type EntryKind string

const (
	EntryIncome  EntryKind = "income"
	EntryExpense EntryKind = "expense"
)

// Entry is a manual accounting line of a church. Exactly one of Debit and
// Credit is non-zero.
type Entry struct {
	ID          EntryID
	ChurchID    treasury.ChurchID
	Date        time.Time
	Kind        EntryKind
	Account     string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	CreatedBy   string
	CreatedAt   time.Time
}

// Amount is the non-zero side.
func (e Entry) Amount() decimal.Decimal { return e.Debit.Add(e.Credit) }

func (e Entry) Period() treasury.Period {
	return treasury.Period{Year: e.Date.Year(), Month: e.Date.Month()}
}

// =============================================================================
// STORE
// =============================================================================

// Store persists ledgers and entries. Getters return (nil, nil) for
// missing rows.
type Store interface {
	treasury.ChurchStore
	FindReport(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*report.Report, error)

	GetLedger(ctx context.Context, id LedgerID) (*MonthlyLedger, error)
	FindLedger(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*MonthlyLedger, error)

	// LatestLedgerBefore returns the church's most recent ledger strictly
	// earlier than period.
	LatestLedgerBefore(ctx context.Context, church treasury.ChurchID, period treasury.Period) (*MonthlyLedger, error)
	ListLedgers(ctx context.Context, church treasury.ChurchID) ([]MonthlyLedger, error)

	// InsertLedger fails with a Conflict error on a duplicate (church, period).
	InsertLedger(ctx context.Context, l MonthlyLedger) error
	UpdateLedger(ctx context.Context, l MonthlyLedger) error

	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, church treasury.ChurchID, period treasury.Period) ([]Entry, error)

	WithClosingTx(ctx context.Context, fn func(Store) error) error
}
