package closing_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/store/sqlite"
	"github.com/warp/church-treasury/treasury"
)

var (
	admin     = auth.Identity{UserID: "u-admin", Role: auth.RoleAdmin}
	treasurer = auth.Identity{UserID: "u-tes", Role: auth.RoleTreasurer, ChurchID: "c-1"}
	pastor    = auth.Identity{UserID: "u-pas", Role: auth.RolePastor, ChurchID: "c-1"}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*sqlite.Store, *closing.Service) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.SaveChurch(context.Background(), treasury.Church{
		ID: "c-1", Name: "Iglesia Central", IsActive: true, CreatedAt: time.Now(),
	}))
	return s, closing.NewService(s, zap.NewNop())
}

func approvedReport(t *testing.T, s *sqlite.Store, month int, in report.RawInputs) {
	t.Helper()
	now := time.Now()
	require.NoError(t, s.InsertReport(context.Background(), report.Report{
		ID: treasury.ReportID("r-" + treasury.NewPeriod(2025, month).String()), ChurchID: "c-1",
		Period: treasury.NewPeriod(2025, month), Inputs: in, Totals: report.CalculateTotals(in),
		Deposit: report.Deposit{Amount: decimal.Zero}, Status: report.StatusApproved,
		CreatedBy: "usr_u-admin", CreatedAt: now, UpdatedAt: now,
	}))
}

func TestOpenCarriesPreviousClosingBalance(t *testing.T) {
	ctx := context.Background()
	s, svc := setup(t)

	// GIVEN: March with an approved report and two entries
	approvedReport(t, s, 3, report.RawInputs{Tithes: d("900"), Offerings: d("100")})
	march, err := svc.Open(ctx, treasurer, "", 2025, 3)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(march.OpeningBalance))

	_, err = svc.AddEntry(ctx, treasurer, closing.EntryInput{
		Date: "2025-03-10", Kind: closing.EntryIncome, Account: "Venta de libros", Debit: d("500"),
	})
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, treasurer, closing.EntryInput{
		Date: "2025-03-12", Kind: closing.EntryExpense, Account: "Papelería", Credit: d("200"),
	})
	require.NoError(t, err)

	// WHEN
	closed, err := svc.Close(ctx, treasurer, march.ID, "sin novedades")
	require.NoError(t, err)

	// THEN: 0 + (1000 + 500) - (1000 + 200)
	assert.Equal(t, closing.StatusClosed, closed.Status)
	assert.True(t, d("1500").Equal(closed.TotalIncome))
	assert.True(t, d("1200").Equal(closed.TotalExpenses))
	assert.True(t, d("300").Equal(closed.ClosingBalance))

	april, err := svc.Open(ctx, treasurer, "c-1", 2025, 4)
	require.NoError(t, err)
	assert.True(t, d("300").Equal(april.OpeningBalance))
}

func TestOpenRefusedWhilePreviousIsOpen(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)
	_, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)

	_, err = svc.Open(ctx, treasurer, "c-1", 2025, 4)
	assert.ErrorIs(t, err, treasury.ErrValidation)

	_, err = svc.Open(ctx, treasurer, "c-1", 2025, 3)
	assert.ErrorIs(t, err, treasury.ErrConflict)
}

func TestOpenRequiresTreasurer(t *testing.T) {
	_, svc := setup(t)

	_, err := svc.Open(context.Background(), pastor, "c-1", 2025, 3)

	assert.ErrorIs(t, err, treasury.ErrAuthorization)
}

func TestUnapprovedReportIsNotSummarized(t *testing.T) {
	ctx := context.Background()
	s, svc := setup(t)
	now := time.Now()
	in := report.RawInputs{Tithes: d("900")}
	require.NoError(t, s.InsertReport(ctx, report.Report{
		ID: "r-1", ChurchID: "c-1", Period: treasury.NewPeriod(2025, 3),
		Inputs: in, Totals: report.CalculateTotals(in), Deposit: report.Deposit{Amount: decimal.Zero},
		Status: report.StatusSubmitted, CreatedBy: "usr_u-pas", CreatedAt: now, UpdatedAt: now,
	}))
	l, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)

	closed, err := svc.Close(ctx, treasurer, l.ID, "")

	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(closed.TotalIncome))
}

func TestCloseIsOneWay(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)
	l, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)
	_, err = svc.Close(ctx, treasurer, l.ID, "")
	require.NoError(t, err)

	_, err = svc.Close(ctx, treasurer, l.ID, "")
	assert.ErrorIs(t, err, treasury.ErrValidation)

	_, err = svc.AddEntry(ctx, treasurer, closing.EntryInput{
		Date: "2025-03-20", Kind: closing.EntryIncome, Account: "Ofrenda", Debit: d("1"),
	})
	assert.ErrorIs(t, err, treasury.ErrValidation, "closed month takes no entries")
}

func TestConcurrentClosesSucceedOnce(t *testing.T) {
	ctx := context.Background()
	s, svc := setup(t)
	l, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)

	// WHEN: five closes race
	errs := make([]error, 5)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = svc.Close(ctx, treasurer, l.ID, fmt.Sprintf("cierre %d", i))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: one wins, the rest see the ledger already closed
	winner, wins := -1, 0
	for i, err := range errs {
		if err == nil {
			winner, wins = i, wins+1
			continue
		}
		assert.ErrorIs(t, err, treasury.ErrValidation)
	}
	require.Equal(t, 1, wins)

	got, err := s.GetLedger(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.StatusClosed, got.Status)
	assert.Equal(t, fmt.Sprintf("cierre %d", winner), got.Notes)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)
	l, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)

	_, err = svc.Reconcile(ctx, admin, l.ID)
	assert.ErrorIs(t, err, treasury.ErrValidation, "open ledgers cannot be reconciled")

	_, err = svc.Close(ctx, treasurer, l.ID, "")
	require.NoError(t, err)

	_, err = svc.Reconcile(ctx, treasurer, l.ID)
	assert.ErrorIs(t, err, treasury.ErrAuthorization)

	reconciled, err := svc.Reconcile(ctx, admin, l.ID)
	require.NoError(t, err)
	assert.Equal(t, closing.StatusReconciled, reconciled.Status)
	assert.Equal(t, "usr_u-admin", reconciled.ReconciledBy)
}

func TestAddEntryValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)

	tests := []struct {
		name  string
		in    closing.EntryInput
		field string
	}{
		{"both sides", closing.EntryInput{Date: "2025-03-01", Kind: closing.EntryIncome, Account: "x", Debit: d("1"), Credit: d("1")}, "amount"},
		{"no side", closing.EntryInput{Date: "2025-03-01", Kind: closing.EntryIncome, Account: "x"}, "amount"},
		{"bad kind", closing.EntryInput{Date: "2025-03-01", Kind: "otro", Account: "x", Debit: d("1")}, "kind"},
		{"bad date", closing.EntryInput{Date: "marzo", Kind: closing.EntryIncome, Account: "x", Debit: d("1")}, "date"},
		{"no account", closing.EntryInput{Date: "2025-03-01", Kind: closing.EntryIncome, Debit: d("1")}, "account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddEntry(ctx, treasurer, tt.in)

			var te *treasury.Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, treasury.KindValidation, te.Kind)
			assert.Equal(t, tt.field, te.Field)
		})
	}
}

func TestListAndGetScopeByChurch(t *testing.T) {
	ctx := context.Background()
	_, svc := setup(t)
	l, err := svc.Open(ctx, treasurer, "c-1", 2025, 3)
	require.NoError(t, err)
	outsider := auth.Identity{UserID: "u-out", Role: auth.RoleTreasurer, ChurchID: "c-2"}

	_, err = svc.Get(ctx, outsider, l.ID)
	assert.ErrorIs(t, err, treasury.ErrNotFound)

	mine, err := svc.List(ctx, treasurer, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := svc.List(ctx, outsider, "")
	require.NoError(t, err)
	assert.Empty(t, theirs)
}
