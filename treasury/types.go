/*
Package treasury provides the shared vocabulary of the church treasury engine.

PURPOSE:
  Funds, ledger transactions, creator tags, filters and the store contracts
  live here so that the ledger, report and closing packages speak the same
  types. Nothing in this package knows about monthly reports or approvals.

KEY CONCEPTS IN THIS FILE (types.go):
  - Fund: a named pot of money with a running balance
  - Transaction: one ledger row (amount_in / amount_out) against a fund
  - CreatedBy: who wrote a row (a user, the approval flow, or a legacy import)

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. One-directional references: a Transaction points at its Fund, Church,
     Report and Provider; the reverse collections are always queries
  3. Fund.CurrentBalance is maintained incrementally but can always be
     rebuilt from transactions (see ledger.Reconcile)

SEE ALSO:
  - store.go: persistence contracts
  - errors.go: error kinds shared by every package
  - period.go: month/year helpers
*/
package treasury

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FundID string
type TransactionID string
type ChurchID string
type ReportID string
type ProviderID string

// =============================================================================
// MONEY
// =============================================================================

// Sum adds all values. Sum() is zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// FUND
// =============================================================================

// FundType is a free-text category. The constants are the ones the engine
// creates on its own; admins may use any other label.
type FundType string

const (
	FundGeneral    FundType = "general"
	FundNational   FundType = "nacional"
	FundDesignated FundType = "designado"
)

type Fund struct {
	ID          FundID
	Name        string
	Type        FundType
	Description string

	// CurrentBalance always equals sum(amount_in - amount_out) over the
	// fund's transactions once writes settle.
	CurrentBalance decimal.Decimal
	IsActive       bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeFundName trims surrounding whitespace. Names compare
// case-sensitively after trimming.
func NormalizeFundName(name string) string {
	return strings.TrimSpace(name)
}

// =============================================================================
// CREATOR TAG
// =============================================================================

type CreatorKind string

const (
	CreatorUser   CreatorKind = "user"
	CreatorSystem CreatorKind = "system"
	CreatorLegacy CreatorKind = "legacy"
)

// CreatedBy tags the origin of a transaction. System rows are written by
// the report approval flow; Legacy rows were written by that flow before
// rows were tagged and carry the approver's actor instead.
type CreatedBy struct {
	Kind  CreatorKind
	Actor string
}

func UserCreator(actor string) CreatedBy   { return CreatedBy{Kind: CreatorUser, Actor: actor} }
func LegacyCreator(actor string) CreatedBy { return CreatedBy{Kind: CreatorLegacy, Actor: actor} }
func SystemCreator() CreatedBy             { return CreatedBy{Kind: CreatorSystem} }

func (c CreatedBy) IsSystem() bool { return c.Kind == CreatorSystem }

// String is the stored form: "system", "user:<actor>" or "legacy:<actor>".
func (c CreatedBy) String() string {
	if c.Kind == CreatorSystem {
		return string(CreatorSystem)
	}
	return string(c.Kind) + ":" + c.Actor
}

// ParseCreatedBy reverses String. Untagged values come from rows written
// before tagging existed and parse as Legacy.
func ParseCreatedBy(s string) CreatedBy {
	if s == string(CreatorSystem) {
		return SystemCreator()
	}
	if kind, actor, ok := strings.Cut(s, ":"); ok {
		switch CreatorKind(kind) {
		case CreatorUser:
			return UserCreator(actor)
		case CreatorLegacy:
			return LegacyCreator(actor)
		}
	}
	return LegacyCreator(s)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID             TransactionID
	Date           time.Time
	FundID         FundID
	ChurchID       ChurchID // empty = national-level row
	ReportID       ReportID
	ProviderID     ProviderID
	Concept        string
	DocumentNumber string

	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal

	// Balance is the fund balance right after this row was written. It is a
	// cache: edits to earlier rows do not cascade into it.
	Balance decimal.Decimal

	CreatedBy CreatedBy
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Net is amount_in - amount_out.
func (t Transaction) Net() decimal.Decimal { return t.AmountIn.Sub(t.AmountOut) }

func (t Transaction) IsNational() bool { return t.ChurchID == "" }

// TransactionFilter narrows a listing. Zero fields do not filter.
// From is inclusive, To is exclusive.
type TransactionFilter struct {
	FundID       FundID
	ChurchID     ChurchID
	NationalOnly bool
	ReportID     ReportID
	From         *time.Time
	To           *time.Time
}
