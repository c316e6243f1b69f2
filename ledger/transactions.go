package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// TRANSACTION SERVICE
// =============================================================================

// Transactions writes ledger rows and keeps fund balances paired with them.
type Transactions struct {
	store   treasury.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewTransactions(store treasury.Store, logger *zap.Logger, metrics *observability.Metrics) *Transactions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactions{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Bind returns a copy of t that reads and writes through s.
func (t *Transactions) Bind(s treasury.Store) *Transactions {
	c := *t
	c.store = s
	return &c
}

// CreateInput is one row to write. Date accepts YYYY-MM-DD or RFC3339.
type CreateInput struct {
	Date           string              `json:"date"`
	FundID         treasury.FundID     `json:"fund_id"`
	ChurchID       treasury.ChurchID   `json:"church_id,omitempty"`
	ReportID       treasury.ReportID   `json:"report_id,omitempty"`
	ProviderID     treasury.ProviderID `json:"provider_id,omitempty"`
	Concept        string              `json:"concept"`
	DocumentNumber string              `json:"document_number,omitempty"`
	AmountIn       decimal.Decimal     `json:"amount_in"`
	AmountOut      decimal.Decimal     `json:"amount_out"`
}

// Create writes a row on behalf of a user. Non-admin callers write rows of
// their own church only; an empty church defaults to theirs.
func (t *Transactions) Create(ctx context.Context, caller auth.Identity, in CreateInput) (*treasury.Transaction, error) {
	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		if in.ChurchID == "" {
			in.ChurchID = caller.ChurchID
		}
		if err := caller.RequireChurch(in.ChurchID); err != nil {
			return nil, err
		}
	}
	tx, err := t.Record(ctx, in, treasury.UserCreator(caller.Actor()))
	if err != nil {
		return nil, err
	}
	t.metrics.IncrTransaction("create")
	return tx, nil
}

// Record validates and writes a row without any caller checks. The report
// approval flow uses it with the System creator.
func (t *Transactions) Record(ctx context.Context, in CreateInput, by treasury.CreatedBy) (*treasury.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("fund.id", string(in.FundID)),
		attribute.String("created_by", by.String()),
	)

	date, err := treasury.ParseDate("date", in.Date)
	if err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("fund_id", string(in.FundID)); err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("concept", in.Concept); err != nil {
		return nil, err
	}
	if err := validateAmounts(in.AmountIn, in.AmountOut); err != nil {
		return nil, err
	}
	if in.AmountIn.IsZero() && in.AmountOut.IsZero() {
		return nil, treasury.Validation("amount", "Debe indicar un monto de entrada o de salida")
	}

	var created treasury.Transaction
	err = t.store.WithTx(ctx, func(s treasury.Store) error {
		fund, err := s.GetFund(ctx, in.FundID)
		if err != nil {
			return err
		}
		if fund == nil {
			return treasury.NotFound("Fondo no encontrado")
		}
		if !fund.IsActive {
			return treasury.Validation("fund_id", "El fondo %q no está activo", fund.Name)
		}

		now := t.now().UTC()
		created = treasury.Transaction{
			ID:             treasury.TransactionID(uuid.NewString()),
			Date:           date,
			FundID:         fund.ID,
			ChurchID:       in.ChurchID,
			ReportID:       in.ReportID,
			ProviderID:     in.ProviderID,
			Concept:        in.Concept,
			DocumentNumber: in.DocumentNumber,
			AmountIn:       in.AmountIn,
			AmountOut:      in.AmountOut,
			Balance:        fund.CurrentBalance.Add(in.AmountIn.Sub(in.AmountOut)),
			CreatedBy:      by,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.InsertTransaction(ctx, created); err != nil {
			return err
		}
		return applyDelta(ctx, s, fund, created.Net(), now)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func validateAmounts(in, out decimal.Decimal) error {
	if err := treasury.ValidateNonNegative("amount_in", in); err != nil {
		return err
	}
	return treasury.ValidateNonNegative("amount_out", out)
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

// UpdateInput patches a row. Nil fields are left unchanged.
type UpdateInput struct {
	Date           *string              `json:"date,omitempty"`
	Concept        *string              `json:"concept,omitempty"`
	ProviderID     *treasury.ProviderID `json:"provider_id,omitempty"`
	DocumentNumber *string              `json:"document_number,omitempty"`
	AmountIn       *decimal.Decimal     `json:"amount_in,omitempty"`
	AmountOut      *decimal.Decimal     `json:"amount_out,omitempty"`
}

// Update patches a row. An amount change moves the fund balance and this
// row's stored balance by the net difference; later rows are not touched.
func (t *Transactions) Update(ctx context.Context, caller auth.Identity, id treasury.TransactionID, in UpdateInput) (*treasury.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.Update")
	defer span.End()

	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return nil, err
	}

	var updated treasury.Transaction
	err := t.store.WithTx(ctx, func(s treasury.Store) error {
		row, err := t.loadWritable(ctx, s, caller, id)
		if err != nil {
			return err
		}
		updated = *row

		if in.Date != nil {
			date, err := treasury.ParseDate("date", *in.Date)
			if err != nil {
				return err
			}
			updated.Date = date
		}
		if in.Concept != nil {
			if err := treasury.ValidateRequired("concept", *in.Concept); err != nil {
				return err
			}
			updated.Concept = *in.Concept
		}
		if in.ProviderID != nil {
			updated.ProviderID = *in.ProviderID
		}
		if in.DocumentNumber != nil {
			updated.DocumentNumber = *in.DocumentNumber
		}
		if in.AmountIn != nil {
			updated.AmountIn = *in.AmountIn
		}
		if in.AmountOut != nil {
			updated.AmountOut = *in.AmountOut
		}
		if err := validateAmounts(updated.AmountIn, updated.AmountOut); err != nil {
			return err
		}

		now := t.now().UTC()
		diff := updated.Net().Sub(row.Net())
		if !diff.IsZero() {
			fund, err := s.GetFund(ctx, row.FundID)
			if err != nil {
				return err
			}
			if fund == nil {
				return treasury.NotFound("Fondo no encontrado")
			}
			if !fund.IsActive {
				return treasury.Validation("fund_id", "El fondo %q no está activo", fund.Name)
			}
			if err := applyDelta(ctx, s, fund, diff, now); err != nil {
				return err
			}
			updated.Balance = updated.Balance.Add(diff)
		}
		updated.UpdatedAt = now
		return s.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return nil, err
	}
	t.metrics.IncrTransaction("update")
	return &updated, nil
}

// Delete removes a row and rebuilds the fund balance from the remaining rows.
func (t *Transactions) Delete(ctx context.Context, caller auth.Identity, id treasury.TransactionID) error {
	ctx, span := tracer.Start(ctx, "ledger.Delete")
	defer span.End()

	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return err
	}
	err := t.store.WithTx(ctx, func(s treasury.Store) error {
		row, err := t.loadWritable(ctx, s, caller, id)
		if err != nil {
			return err
		}
		if err := s.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		_, err = rebuild(ctx, s, row.FundID, t.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	t.metrics.IncrTransaction("delete")
	return nil
}

// Purge deletes rows without caller checks and rebuilds each touched fund once.
func (t *Transactions) Purge(ctx context.Context, rows []treasury.Transaction) error {
	if len(rows) == 0 {
		return nil
	}
	return t.store.WithTx(ctx, func(s treasury.Store) error {
		touched := make(map[treasury.FundID]struct{})
		var order []treasury.FundID
		for _, row := range rows {
			if err := s.DeleteTransaction(ctx, row.ID); err != nil {
				return err
			}
			if _, seen := touched[row.FundID]; !seen {
				touched[row.FundID] = struct{}{}
				order = append(order, row.FundID)
			}
		}
		now := t.now().UTC()
		for _, id := range order {
			if _, err := rebuild(ctx, s, id, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadWritable fetches a row the caller may modify. Rows outside the
// caller's church read as missing; national rows need an admin.
func (t *Transactions) loadWritable(ctx context.Context, s treasury.Store, caller auth.Identity, id treasury.TransactionID) (*treasury.Transaction, error) {
	row, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil || !caller.CanSee(row.ChurchID) {
		return nil, treasury.NotFound("Movimiento no encontrado")
	}
	if row.IsNational() {
		if err := caller.RequireAdmin(); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// Get returns a row visible to the caller.
func (t *Transactions) Get(ctx context.Context, caller auth.Identity, id treasury.TransactionID) (*treasury.Transaction, error) {
	row, err := t.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil || !caller.CanSee(row.ChurchID) {
		return nil, treasury.NotFound("Movimiento no encontrado")
	}
	return row, nil
}

// =============================================================================
// BULK CREATE
// =============================================================================

type BulkError struct {
	Index   int         `json:"index"`
	Input   CreateInput `json:"input"`
	Message string      `json:"message"`
}

type BulkResult struct {
	Success bool                   `json:"success"`
	Created []treasury.Transaction `json:"created"`
	Errors  []BulkError            `json:"errors"`
}

// BulkCreate runs Create for each input independently. A failing item is
// reported by index and does not stop the batch.
func (t *Transactions) BulkCreate(ctx context.Context, caller auth.Identity, inputs []CreateInput) (BulkResult, error) {
	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{
		Created: make([]treasury.Transaction, 0, len(inputs)),
		Errors:  []BulkError{},
	}
	for i, in := range inputs {
		tx, err := t.Create(ctx, caller, in)
		if err != nil {
			if !treasury.IsClientError(err) {
				t.logger.Error("bulk transaction item failed",
					zap.Int("index", i), zap.Error(err))
			}
			t.metrics.IncrTransaction("bulk_error")
			result.Errors = append(result.Errors, BulkError{Index: i, Input: in, Message: err.Error()})
			continue
		}
		result.Created = append(result.Created, *tx)
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

// =============================================================================
// LIST
// =============================================================================

// ListFilter narrows a listing. Period, when set, overrides From/To.
type ListFilter struct {
	FundID   treasury.FundID
	ChurchID treasury.ChurchID
	ReportID treasury.ReportID
	From     *time.Time
	To       *time.Time
	Period   *treasury.Period
}

func (f ListFilter) storeFilter() treasury.TransactionFilter {
	out := treasury.TransactionFilter{
		FundID:   f.FundID,
		ChurchID: f.ChurchID,
		ReportID: f.ReportID,
		From:     f.From,
		To:       f.To,
	}
	if f.Period != nil {
		from := f.Period.Start()
		to := f.Period.Next().Start()
		out.From, out.To = &from, &to
	}
	return out
}

// List returns rows visible to the caller. Admins see everything the filter
// matches; everyone else sees their church's rows plus national rows.
func (t *Transactions) List(ctx context.Context, caller auth.Identity, filter ListFilter) ([]treasury.Transaction, error) {
	if filter.Period != nil {
		if err := filter.Period.Validate(); err != nil {
			return nil, err
		}
	}
	base := filter.storeFilter()
	if caller.IsAdmin() {
		return t.store.ListTransactions(ctx, base)
	}
	if filter.ChurchID != "" {
		if err := caller.RequireChurch(filter.ChurchID); err != nil {
			return nil, err
		}
	}
	return t.listScoped(ctx, caller.ChurchID, base)
}

// listScoped runs "church = X" and "no church" as two queries and merges
// them, since the store has no OR.
func (t *Transactions) listScoped(ctx context.Context, church treasury.ChurchID, base treasury.TransactionFilter) ([]treasury.Transaction, error) {
	own := base
	own.ChurchID = church
	national := base
	national.ChurchID = ""
	national.NationalOnly = true

	var ownRows, nationalRows []treasury.Transaction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if church == "" {
			return nil
		}
		var err error
		ownRows, err = t.store.ListTransactions(gctx, own)
		return err
	})
	g.Go(func() error {
		var err error
		nationalRows, err = t.store.ListTransactions(gctx, national)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeRows(ownRows, nationalRows), nil
}

// mergeRows concatenates, drops duplicate ids and restores chronological order.
func mergeRows(sets ...[]treasury.Transaction) []treasury.Transaction {
	seen := make(map[treasury.TransactionID]struct{})
	var out []treasury.Transaction
	for _, set := range sets {
		for _, tx := range set {
			if _, dup := seen[tx.ID]; dup {
				continue
			}
			seen[tx.ID] = struct{}{}
			out = append(out, tx)
		}
	}
	sortChronological(out)
	return out
}

func sortChronological(rows []treasury.Transaction) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
