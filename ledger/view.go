package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// LEDGER VIEW - Running balance recomputed on read
// =============================================================================

type ViewRow struct {
	Transaction    treasury.Transaction
	RunningBalance decimal.Decimal
}

// View is a fund's rows in chronological order with a running balance
// folded from zero. Opening is the folded balance before the first row
// shown, Closing the balance after the last.
type View struct {
	Fund     treasury.Fund
	Rows     []ViewRow
	Opening  decimal.Decimal
	Closing  decimal.Decimal
	TotalIn  decimal.Decimal
	TotalOut decimal.Decimal
}

// LedgerView builds the running-balance view of a fund, limited to rows
// the caller can see and to [from, to) when given.
func (t *Transactions) LedgerView(ctx context.Context, caller auth.Identity, fundID treasury.FundID, from, to *time.Time) (*View, error) {
	fund, err := t.store.GetFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, treasury.NotFound("Fondo no encontrado")
	}

	rows, err := t.List(ctx, caller, ListFilter{FundID: fundID})
	if err != nil {
		return nil, err
	}
	return Fold(*fund, rows, from, to), nil
}

// Fold computes the view over rows (already filtered to one fund). Rows
// outside [from, to) still count toward the running balance.
func Fold(fund treasury.Fund, rows []treasury.Transaction, from, to *time.Time) *View {
	sorted := make([]treasury.Transaction, len(rows))
	copy(sorted, rows)
	sortChronological(sorted)

	view := &View{
		Fund:     fund,
		Rows:     []ViewRow{},
		Opening:  decimal.Zero,
		TotalIn:  decimal.Zero,
		TotalOut: decimal.Zero,
	}
	running := decimal.Zero
	for _, tx := range sorted {
		if to != nil && !tx.Date.Before(*to) {
			break
		}
		running = running.Add(tx.Net())
		if from != nil && tx.Date.Before(*from) {
			view.Opening = running
			continue
		}
		view.Rows = append(view.Rows, ViewRow{Transaction: tx, RunningBalance: running})
		view.TotalIn = view.TotalIn.Add(tx.AmountIn)
		view.TotalOut = view.TotalOut.Add(tx.AmountOut)
	}
	view.Closing = view.Opening.Add(view.TotalIn).Sub(view.TotalOut)
	return view
}
