package report_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/store/sqlite"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	admin     = auth.Identity{UserID: "u-admin", Role: auth.RoleAdmin}
	treasurer = auth.Identity{UserID: "u-tes", Role: auth.RoleTreasurer, ChurchID: "c-1"}
	pastor    = auth.Identity{UserID: "u-pas", Role: auth.RolePastor, ChurchID: "c-1"}
	secretary = auth.Identity{UserID: "u-sec", Role: auth.RoleSecretary, ChurchID: "c-1"}
	outsider  = auth.Identity{UserID: "u-out", Role: auth.RoleTreasurer, ChurchID: "c-2"}
)

type fixture struct {
	store   *sqlite.Store
	funds   *ledger.Funds
	txs     *ledger.Transactions
	reports *report.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := observability.NewMetrics()
	funds := ledger.NewFunds(s, zap.NewNop(), m)
	txs := ledger.NewTransactions(s, zap.NewNop(), m)
	gen := report.NewGenerator(funds, txs, false, zap.NewNop())

	churches := report.NewChurches(s)
	for _, id := range []treasury.ChurchID{"c-1", "c-2"} {
		_, err := churches.Create(context.Background(), admin, report.ChurchInput{ID: id, Name: "Iglesia " + string(id)})
		require.NoError(t, err)
	}

	return fixture{
		store:   s,
		funds:   funds,
		txs:     txs,
		reports: report.NewService(s, gen, report.Config{}, zap.NewNop(), m),
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// marchReport is 900000 tithes + 100000 offerings with a matching deposit.
func marchReport() report.CreateInput {
	return report.CreateInput{
		ChurchID: "c-1",
		Year:     2025,
		Month:    3,
		Inputs:   report.RawInputs{Tithes: d("900000"), Offerings: d("100000")},
		Deposit:  report.DepositInput{Date: "2025-03-31", Amount: d("100000"), PhotoRef: "deposito.jpg"},
	}
}

func (f fixture) create(t *testing.T, caller auth.Identity, in report.CreateInput) *report.Report {
	t.Helper()
	r, err := f.reports.Create(context.Background(), caller, in)
	require.NoError(t, err)
	return r
}

func (f fixture) linked(t *testing.T, id treasury.ReportID) []treasury.Transaction {
	t.Helper()
	rows, err := f.store.ListTransactions(context.Background(), treasury.TransactionFilter{ReportID: id})
	require.NoError(t, err)
	return rows
}

func (f fixture) balanceOf(t *testing.T, name string) decimal.Decimal {
	t.Helper()
	fund, err := f.store.FindFundByName(context.Background(), name)
	require.NoError(t, err)
	if fund == nil {
		return decimal.Zero
	}
	return fund.CurrentBalance
}

func (f fixture) reload(t *testing.T, id treasury.ReportID) *report.Report {
	t.Helper()
	r, err := f.reports.Get(context.Background(), admin, id)
	require.NoError(t, err)
	return r
}

// =============================================================================
// CREATE / SUBMIT
// =============================================================================

func TestCreateStatusDependsOnRole(t *testing.T) {
	f := newFixture(t)

	byPastor := f.create(t, pastor, marchReport())
	assert.Equal(t, report.StatusPending, byPastor.Status)
	assert.True(t, d("900000").Equal(byPastor.Totals.Honorarium))

	in := marchReport()
	in.Month = 4
	byAdmin := f.create(t, admin, in)
	assert.Equal(t, report.StatusSubmitted, byAdmin.Status)
	assert.NotNil(t, byAdmin.SubmittedAt)
}

func TestCreateDuplicatePeriodIsConflict(t *testing.T) {
	f := newFixture(t)
	f.create(t, pastor, marchReport())

	_, err := f.reports.Create(context.Background(), admin, marchReport())

	assert.ErrorIs(t, err, treasury.ErrConflict)
}

func TestCreateChecksCallerBeforeInput(t *testing.T) {
	f := newFixture(t)
	in := marchReport()
	in.Month = 13

	_, err := f.reports.Create(context.Background(), secretary, in)
	assert.ErrorIs(t, err, treasury.ErrAuthorization)

	_, err = f.reports.Create(context.Background(), outsider, in)
	assert.ErrorIs(t, err, treasury.ErrAuthorization)

	_, err = f.reports.Create(context.Background(), pastor, in)
	assert.ErrorIs(t, err, treasury.ErrValidation)
}

func TestCreateUnknownChurch(t *testing.T) {
	f := newFixture(t)
	in := marchReport()
	in.ChurchID = "c-9"

	_, err := f.reports.Create(context.Background(), admin, in)

	assert.ErrorIs(t, err, treasury.ErrNotFound)
}

func TestSubmitOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, pastor, marchReport())

	submitted, err := f.reports.Submit(context.Background(), pastor, r.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSubmitted, submitted.Status)

	_, err = f.reports.Submit(context.Background(), pastor, r.ID)
	assert.ErrorIs(t, err, treasury.ErrValidation)
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApproveGeneratesLedgerEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())

	approved, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	assert.Equal(t, report.StatusApproved, approved.Status)
	assert.True(t, approved.TransactionsGenerated)

	rows := f.linked(t, r.ID)
	require.Len(t, rows, 4) // income, national out, national in, honorarium
	for _, row := range rows {
		assert.True(t, row.CreatedBy.IsSystem())
		assert.Equal(t, "2025-03-31", row.Date.Format("2006-01-02"))
	}

	assert.True(t, d("100000").Equal(f.balanceOf(t, report.NationalFundName)))
	assert.True(t, decimal.Zero.Equal(f.balanceOf(t, report.GeneralFundName)),
		"general fund nets to the closing balance")
}

func TestApproveDepositMismatchChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := marchReport()
	in.Deposit.Amount = d("99899.99") // off by more than 100
	r := f.create(t, admin, in)

	_, err := f.reports.Approve(ctx, treasurer, r.ID)

	require.ErrorIs(t, err, treasury.ErrValidation)
	assert.Equal(t, report.StatusSubmitted, f.reload(t, r.ID).Status)
	assert.Empty(t, f.linked(t, r.ID))
}

func TestApproveWithinToleranceSucceeds(t *testing.T) {
	f := newFixture(t)
	in := marchReport()
	in.Deposit.Amount = d("99900")
	r := f.create(t, admin, in)

	_, err := f.reports.Approve(context.Background(), treasurer, r.ID)

	require.NoError(t, err)
}

func TestApproveRequiresDepositPhoto(t *testing.T) {
	f := newFixture(t)
	in := marchReport()
	in.Deposit.PhotoRef = ""
	r := f.create(t, admin, in)

	_, err := f.reports.Approve(context.Background(), treasurer, r.ID)

	var te *treasury.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "foto_deposito", te.Field)
}

func TestApproveAuthorization(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, admin, marchReport())

	_, err := f.reports.Approve(context.Background(), pastor, r.ID)
	assert.ErrorIs(t, err, treasury.ErrAuthorization)

	_, err = f.reports.Approve(context.Background(), outsider, r.ID)
	assert.ErrorIs(t, err, treasury.ErrAuthorization)
}

func TestApproveTwiceGeneratesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())

	_, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)
	again, err := f.reports.Approve(ctx, admin, r.ID)
	require.NoError(t, err)

	assert.Equal(t, report.StatusApproved, again.Status)
	assert.Len(t, f.linked(t, r.ID), 4)
	assert.True(t, d("100000").Equal(f.balanceOf(t, report.NationalFundName)))
}

func TestConcurrentApprovalsGenerateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := f.reports.Approve(ctx, treasurer, r.ID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, f.linked(t, r.ID), 4)
	assert.True(t, d("100000").Equal(f.balanceOf(t, report.NationalFundName)))
}

func TestGenerationFailureLeavesReportApprovedWithoutEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: the Misiones fund exists but is inactive
	misiones, err := f.funds.Create(ctx, admin, ledger.CreateFundInput{Name: "Misiones", Type: treasury.FundDesignated})
	require.NoError(t, err)
	_, err = f.funds.Deactivate(ctx, admin, misiones.ID)
	require.NoError(t, err)

	in := marchReport()
	in.Inputs.Designated.Misiones = d("5000")
	in.Deposit.Amount = d("105000")
	r := f.create(t, admin, in)

	// WHEN
	_, err = f.reports.Approve(ctx, treasurer, r.ID)

	// THEN: error surfaces, report is approved, nothing half-written
	require.Error(t, err)
	got := f.reload(t, r.ID)
	assert.Equal(t, report.StatusApproved, got.Status)
	assert.False(t, got.TransactionsGenerated)
	assert.Empty(t, f.linked(t, r.ID))
	assert.True(t, decimal.Zero.Equal(f.balanceOf(t, report.NationalFundName)))

	// WHEN: the fund is fixed and approval retried
	misiones.IsActive = true
	require.NoError(t, f.store.SaveFund(ctx, *misiones))
	_, err = f.reports.Approve(ctx, treasurer, r.ID)

	// THEN: generated exactly once
	require.NoError(t, err)
	assert.Len(t, f.linked(t, r.ID), 6)
	assert.True(t, d("5000").Equal(f.balanceOf(t, "Misiones")))
}

func TestFailedApprovalKeepsPreviousGenerator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: an approved report with a legacy honorarium row under the
	// approver's actor, then rejected
	in := marchReport()
	in.Inputs.Designated.Misiones = d("5000")
	in.Deposit.Amount = d("105000")
	r := f.create(t, admin, in)
	approved, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)
	general, err := f.store.FindFundByName(ctx, report.GeneralFundName)
	require.NoError(t, err)
	legacy, err := f.txs.Record(ctx, ledger.CreateInput{
		Date: "2025-03-31", FundID: general.ID, ChurchID: "c-1", ReportID: r.ID,
		Concept: "Honorario pastoral marzo 2025", AmountIn: decimal.Zero, AmountOut: d("7"),
	}, treasury.LegacyCreator(approved.GeneratedBy))
	require.NoError(t, err)
	_, err = f.reports.Reject(ctx, treasurer, r.ID, "Falta firma")
	require.NoError(t, err)

	// WHEN: another approver fails because Misiones is inactive
	misiones, err := f.store.FindFundByName(ctx, "Misiones")
	require.NoError(t, err)
	_, err = f.funds.Deactivate(ctx, admin, misiones.ID)
	require.NoError(t, err)
	_, err = f.reports.Approve(ctx, admin, r.ID)
	require.Error(t, err)

	// THEN: the original generator is still on record
	assert.Equal(t, approved.GeneratedBy, f.reload(t, r.ID).GeneratedBy)

	// WHEN: the fund is reactivated and approval retried
	misiones, err = f.store.FindFundByName(ctx, "Misiones")
	require.NoError(t, err)
	misiones.IsActive = true
	require.NoError(t, f.store.SaveFund(ctx, *misiones))
	_, err = f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	// THEN: the legacy row was replaced, not kept alongside
	rows := f.linked(t, r.ID)
	assert.Len(t, rows, 6)
	for _, row := range rows {
		assert.NotEqual(t, legacy.ID, row.ID)
	}
	assert.True(t, d("5000").Equal(f.balanceOf(t, "Misiones")))
}

// =============================================================================
// REGENERATION
// =============================================================================

func TestAdminEditOfApprovedReportRegenerates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	_, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	edited, err := f.reports.Edit(ctx, admin, r.ID, report.EditInput{
		Amounts: map[string]decimal.Decimal{"diezmos": d("1900000")},
	})
	require.NoError(t, err)

	assert.Equal(t, report.StatusApproved, edited.Status)
	assert.True(t, d("200000").Equal(edited.Totals.NationalFund))
	assert.Len(t, f.linked(t, r.ID), 4, "old entries replaced, not duplicated")
	assert.True(t, d("200000").Equal(f.balanceOf(t, report.NationalFundName)))
	assert.True(t, decimal.Zero.Equal(f.balanceOf(t, report.GeneralFundName)))
}

func TestRejectThenReapproveReplacesEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	_, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	rejected, err := f.reports.Reject(ctx, treasurer, r.ID, "Falta firma")
	require.NoError(t, err)
	assert.Equal(t, report.StatusRejected, rejected.Status)
	assert.False(t, rejected.TransactionsGenerated)
	assert.Len(t, f.linked(t, r.ID), 4, "reject keeps entries")

	_, err = f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	assert.Len(t, f.linked(t, r.ID), 4)
	assert.True(t, d("100000").Equal(f.balanceOf(t, report.NationalFundName)))
}

func TestRegenerationKeepsManualRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	approved, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)
	general, err := f.store.FindFundByName(ctx, report.GeneralFundName)
	require.NoError(t, err)

	// GIVEN: a manual row, a legacy generated row and a legacy row with a
	// foreign concept, all linked to the report
	manual, err := f.txs.Create(ctx, treasurer, ledger.CreateInput{
		Date: "2025-03-15", FundID: general.ID, ReportID: r.ID,
		Concept: "Gastos operativos marzo 2025", AmountIn: decimal.Zero, AmountOut: d("10"),
	})
	require.NoError(t, err)
	_, err = f.txs.Record(ctx, ledger.CreateInput{
		Date: "2025-03-31", FundID: general.ID, ChurchID: "c-1", ReportID: r.ID,
		Concept: "Honorario pastoral marzo 2025", AmountIn: decimal.Zero, AmountOut: d("7"),
	}, treasury.LegacyCreator(approved.GeneratedBy))
	require.NoError(t, err)
	foreign, err := f.txs.Record(ctx, ledger.CreateInput{
		Date: "2025-03-31", FundID: general.ID, ChurchID: "c-1", ReportID: r.ID,
		Concept: "Donación especial", AmountIn: d("3"), AmountOut: decimal.Zero,
	}, treasury.LegacyCreator(approved.GeneratedBy))
	require.NoError(t, err)
	require.Len(t, f.linked(t, r.ID), 7)

	// WHEN
	_, err = f.reports.Edit(ctx, admin, r.ID, report.EditInput{
		Amounts: map[string]decimal.Decimal{"ofrendas": d("100000")},
	})
	require.NoError(t, err)

	// THEN: 4 regenerated + manual + foreign legacy
	rows := f.linked(t, r.ID)
	assert.Len(t, rows, 6)
	ids := map[treasury.TransactionID]bool{}
	for _, row := range rows {
		ids[row.ID] = true
	}
	assert.True(t, ids[manual.ID])
	assert.True(t, ids[foreign.ID])
	assert.True(t, d("-7").Equal(f.balanceOf(t, report.GeneralFundName)))
}

// =============================================================================
// EDIT / DELETE
// =============================================================================

func TestPastorEditResetsToPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	baptisms := 4

	edited, err := f.reports.Edit(ctx, pastor, r.ID, report.EditInput{
		Amounts:  map[string]decimal.Decimal{"agua": d("300")},
		Baptisms: &baptisms,
	})
	require.NoError(t, err)

	assert.Equal(t, report.StatusPending, edited.Status)
	assert.False(t, edited.TransactionsGenerated)
	assert.Equal(t, 4, edited.Baptisms)
	assert.True(t, d("300").Equal(edited.Totals.OperatingExpenses))
	assert.True(t, d("899700").Equal(edited.Totals.Honorarium))
}

func TestPastorCannotEditApprovedReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	_, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	_, err = f.reports.Edit(ctx, pastor, r.ID, report.EditInput{
		Amounts: map[string]decimal.Decimal{"agua": d("1")},
	})

	assert.ErrorIs(t, err, treasury.ErrValidation)
	assert.Equal(t, report.StatusApproved, f.reload(t, r.ID).Status)
}

func TestEditRejectsUnknownField(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, pastor, marchReport())

	_, err := f.reports.Edit(context.Background(), pastor, r.ID, report.EditInput{
		Amounts: map[string]decimal.Decimal{"propinas": d("1")},
	})

	assert.ErrorIs(t, err, treasury.ErrValidation)
}

func TestDeletePurgesGeneratedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.create(t, admin, marchReport())
	_, err := f.reports.Approve(ctx, treasurer, r.ID)
	require.NoError(t, err)

	require.NoError(t, f.reports.Delete(ctx, pastor, r.ID))

	assert.Empty(t, f.linked(t, r.ID))
	assert.True(t, decimal.Zero.Equal(f.balanceOf(t, report.NationalFundName)))
	_, err = f.reports.Get(ctx, admin, r.ID)
	assert.ErrorIs(t, err, treasury.ErrNotFound)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, admin, marchReport())

	_, err := f.reports.Reject(context.Background(), treasurer, r.ID, "  ")

	var te *treasury.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "motivo", te.Field)
}

// =============================================================================
// READ
// =============================================================================

func TestOtherChurchReportIsNotFound(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, pastor, marchReport())

	_, err := f.reports.Get(context.Background(), outsider, r.ID)

	assert.ErrorIs(t, err, treasury.ErrNotFound)
}

func TestListScopesNonAdmins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, pastor, marchReport())
	other := marchReport()
	other.ChurchID = "c-2"
	f.create(t, admin, other)

	mine, err := f.reports.List(ctx, pastor, report.Filter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, treasury.ChurchID("c-1"), mine[0].ChurchID)

	all, err := f.reports.List(ctx, admin, report.Filter{Year: 2025})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.reports.List(ctx, pastor, report.Filter{ChurchID: "c-2"})
	assert.ErrorIs(t, err, treasury.ErrAuthorization)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)

	totals, err := f.reports.Preview(report.RawInputs{Tithes: d("20"), Offerings: d("5")})

	require.NoError(t, err)
	assert.True(t, d("3").Equal(totals.NationalFund))
}
