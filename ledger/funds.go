/*
Package ledger keeps funds and their transactions consistent.

PURPOSE:
  Every money movement in the treasury is a Transaction against a Fund.
  This package is the only writer of both, so the pairing "insert row +
  move fund balance" always happens inside one store transaction.

CRITICAL INVARIANT:
  fund.CurrentBalance == sum(amount_in - amount_out) over the fund's rows

  - create: balance moves by the row's net amount
  - update: balance moves by the difference between new and old net
  - delete: balance is rebuilt from the remaining rows (full replay)
  - reconcile: same full replay, on demand or from the scheduler

RUNNING BALANCE:
  Each row stores the fund balance right after it was written. Edits to an
  older row do not cascade into later rows, so the stored value is a cache.
  LedgerView never trusts it and folds from zero instead.

SEE ALSO:
  - transactions.go: Transaction service (create, update, delete, bulk, list)
  - view.go: Running-balance ledger view
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/treasury"
)

var tracer = otel.Tracer("github.com/warp/church-treasury/ledger")

// =============================================================================
// FUND LEDGER
// =============================================================================

// Funds manages fund rows and their balances.
type Funds struct {
	store   treasury.Store
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewFunds(store treasury.Store, logger *zap.Logger, metrics *observability.Metrics) *Funds {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Funds{store: store, logger: logger, metrics: metrics, now: time.Now}
}

// Bind returns a copy of f that reads and writes through s. Used to run
// fund operations inside a caller's store transaction.
func (f *Funds) Bind(s treasury.Store) *Funds {
	c := *f
	c.store = s
	return &c
}

// GetOrCreate returns the fund with the given name, creating it active with
// a zero balance when missing. Repeat calls return the same fund.
func (f *Funds) GetOrCreate(ctx context.Context, name string, typ treasury.FundType, description string) (*treasury.Fund, error) {
	name = treasury.NormalizeFundName(name)
	if err := treasury.ValidateRequired("name", name); err != nil {
		return nil, err
	}

	var result *treasury.Fund
	err := f.store.WithTx(ctx, func(s treasury.Store) error {
		existing, err := s.FindFundByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		fund := f.newFund(name, typ, description)
		if err := s.SaveFund(ctx, fund); err != nil {
			return err
		}
		f.logger.Info("fund created",
			zap.String("fund_id", string(fund.ID)),
			zap.String("name", fund.Name),
			zap.String("type", string(fund.Type)))
		result = &fund
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Funds) newFund(name string, typ treasury.FundType, description string) treasury.Fund {
	now := f.now().UTC()
	return treasury.Fund{
		ID:             treasury.FundID(uuid.NewString()),
		Name:           name,
		Type:           typ,
		Description:    description,
		CurrentBalance: decimal.Zero,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// applyDelta moves the fund balance by delta and persists it through s.
// Callers run it in the same store transaction as the row write.
func applyDelta(ctx context.Context, s treasury.Store, fund *treasury.Fund, delta decimal.Decimal, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	fund.CurrentBalance = fund.CurrentBalance.Add(delta)
	fund.UpdatedAt = at
	return s.SaveFund(ctx, *fund)
}

// replayBalance sums amount_in - amount_out over every row of the fund.
func replayBalance(ctx context.Context, s treasury.Store, id treasury.FundID) (decimal.Decimal, error) {
	rows, err := s.ListTransactions(ctx, treasury.TransactionFilter{FundID: id})
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, tx := range rows {
		balance = balance.Add(tx.Net())
	}
	return balance, nil
}

// rebuild replaces the stored balance of fund id with the replayed one.
func rebuild(ctx context.Context, s treasury.Store, id treasury.FundID, at time.Time) (ReconcileResult, error) {
	fund, err := s.GetFund(ctx, id)
	if err != nil {
		return ReconcileResult{}, err
	}
	if fund == nil {
		return ReconcileResult{}, treasury.NotFound("Fondo no encontrado")
	}

	computed, err := replayBalance(ctx, s, id)
	if err != nil {
		return ReconcileResult{}, err
	}

	result := ReconcileResult{
		FundID:   id,
		FundName: fund.Name,
		Stored:   fund.CurrentBalance,
		Computed: computed,
	}
	if !fund.CurrentBalance.Equal(computed) {
		fund.CurrentBalance = computed
		fund.UpdatedAt = at
		if err := s.SaveFund(ctx, *fund); err != nil {
			return ReconcileResult{}, err
		}
	}
	return result, nil
}

// =============================================================================
// RECONCILE
// =============================================================================

type ReconcileResult struct {
	FundID   treasury.FundID
	FundName string
	Stored   decimal.Decimal
	Computed decimal.Decimal
}

// Drifted reports whether the stored balance disagreed with the replay.
func (r ReconcileResult) Drifted() bool { return !r.Stored.Equal(r.Computed) }

// Reconcile recomputes the fund's balance from all of its transactions.
func (f *Funds) Reconcile(ctx context.Context, id treasury.FundID) (ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("fund.id", string(id)))

	var result ReconcileResult
	err := f.store.WithTx(ctx, func(s treasury.Store) error {
		var err error
		result, err = rebuild(ctx, s, id, f.now().UTC())
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	f.metrics.IncrReconcile(result.Drifted())
	if result.Drifted() {
		f.logger.Warn("fund balance drift repaired",
			zap.String("fund_id", string(id)),
			zap.String("fund", result.FundName),
			zap.String("stored", result.Stored.String()),
			zap.String("computed", result.Computed.String()))
	}
	return result, nil
}

// ReconcileAll reconciles every fund, active or not.
func (f *Funds) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	funds, err := f.store.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ReconcileResult, 0, len(funds))
	for _, fund := range funds {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r, err := f.Reconcile(ctx, fund.ID)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

type CreateFundInput struct {
	Name        string
	Type        treasury.FundType
	Description string
}

// Create adds a fund explicitly. Names are unique after trimming.
func (f *Funds) Create(ctx context.Context, caller auth.Identity, in CreateFundInput) (*treasury.Fund, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	name := treasury.NormalizeFundName(in.Name)
	if err := treasury.ValidateRequired("name", name); err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("type", string(in.Type)); err != nil {
		return nil, err
	}

	var created treasury.Fund
	err := f.store.WithTx(ctx, func(s treasury.Store) error {
		existing, err := s.FindFundByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return treasury.Conflict("Ya existe un fondo con el nombre %q", name)
		}
		created = f.newFund(name, in.Type, in.Description)
		return s.SaveFund(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Deactivate stops new transactions against the fund. Existing rows stay.
func (f *Funds) Deactivate(ctx context.Context, caller auth.Identity, id treasury.FundID) (*treasury.Fund, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	var fund *treasury.Fund
	err := f.store.WithTx(ctx, func(s treasury.Store) error {
		var err error
		fund, err = s.GetFund(ctx, id)
		if err != nil {
			return err
		}
		if fund == nil {
			return treasury.NotFound("Fondo no encontrado")
		}
		if !fund.IsActive {
			return nil
		}
		fund.IsActive = false
		fund.UpdatedAt = f.now().UTC()
		return s.SaveFund(ctx, *fund)
	})
	if err != nil {
		return nil, err
	}
	return fund, nil
}

// Delete removes a fund that has never been used.
func (f *Funds) Delete(ctx context.Context, caller auth.Identity, id treasury.FundID) error {
	if err := caller.RequireAdmin(); err != nil {
		return err
	}
	return f.store.WithTx(ctx, func(s treasury.Store) error {
		fund, err := s.GetFund(ctx, id)
		if err != nil {
			return err
		}
		if fund == nil {
			return treasury.NotFound("Fondo no encontrado")
		}
		n, err := s.CountTransactions(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return treasury.Validation("fund_id",
				"El fondo %q tiene %d movimientos y no puede eliminarse; desactívelo en su lugar", fund.Name, n)
		}
		return s.DeleteFund(ctx, id)
	})
}

func (f *Funds) Get(ctx context.Context, id treasury.FundID) (*treasury.Fund, error) {
	fund, err := f.store.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, treasury.NotFound("Fondo no encontrado")
	}
	return fund, nil
}

// List returns funds ordered by name. Inactive funds are skipped unless asked for.
func (f *Funds) List(ctx context.Context, includeInactive bool) ([]treasury.Fund, error) {
	all, err := f.store.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return all, nil
	}
	active := make([]treasury.Fund, 0, len(all))
	for _, fund := range all {
		if fund.IsActive {
			active = append(active, fund)
		}
	}
	return active, nil
}
