package closing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

func loadLedger(ctx context.Context, s Store, id LedgerID) (*MonthlyLedger, error) {
	l, err := s.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, treasury.NotFound("Libro mensual no encontrado")
	}
	return l, nil
}

// =============================================================================
// OPEN / CLOSE / RECONCILE
// =============================================================================

// Open starts the ledger of a church-month with the closing balance of the
// latest earlier ledger as its opening balance.
func (s *Service) Open(ctx context.Context, caller auth.Identity, church treasury.ChurchID, year, month int) (*MonthlyLedger, error) {
	if church == "" && !caller.IsAdmin() {
		church = caller.ChurchID
	}
	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(church); err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("church_id", string(church)); err != nil {
		return nil, err
	}
	period := treasury.NewPeriod(year, month)
	if err := period.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var opened MonthlyLedger
	err := s.store.WithClosingTx(ctx, func(tx Store) error {
		c, err := tx.GetChurch(ctx, church)
		if err != nil {
			return err
		}
		if c == nil {
			return treasury.NotFound("Iglesia no encontrada")
		}
		existing, err := tx.FindLedger(ctx, church, period)
		if err != nil {
			return err
		}
		if existing != nil {
			return treasury.Conflict("Ya existe un libro para %s", period.Label())
		}

		opening := decimal.Zero
		prev, err := tx.LatestLedgerBefore(ctx, church, period)
		if err != nil {
			return err
		}
		if prev != nil {
			if prev.Status == StatusOpen {
				return treasury.Validation("period",
					"Debe cerrar el libro de %s antes de abrir %s", prev.Period.Label(), period.Label())
			}
			opening = prev.ClosingBalance
		}

		opened = MonthlyLedger{
			ID:             LedgerID(uuid.NewString()),
			ChurchID:       church,
			Period:         period,
			OpeningBalance: opening,
			TotalIncome:    decimal.Zero,
			TotalExpenses:  decimal.Zero,
			ClosingBalance: opening,
			Status:         StatusOpen,
			CreatedBy:      caller.Actor(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertLedger(ctx, opened)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("monthly ledger opened",
		zap.String("ledger_id", string(opened.ID)),
		zap.String("church_id", string(church)),
		zap.String("period", period.String()),
		zap.String("opening", opened.OpeningBalance.String()))
	return &opened, nil
}

// Summary is what Close snapshots into a ledger.
type Summary struct {
	ReportIncome   decimal.Decimal
	ReportExpenses decimal.Decimal
	EntryIncome    decimal.Decimal
	EntryExpenses  decimal.Decimal
	ReportIncluded bool
}

func (s Summary) Income() decimal.Decimal   { return s.ReportIncome.Add(s.EntryIncome) }
func (s Summary) Expenses() decimal.Decimal { return s.ReportExpenses.Add(s.EntryExpenses) }

// summarize adds the approved report totals and the accounting entries of
// the church-month.
func summarize(ctx context.Context, s Store, church treasury.ChurchID, period treasury.Period) (Summary, error) {
	sum := Summary{
		ReportIncome:   decimal.Zero,
		ReportExpenses: decimal.Zero,
		EntryIncome:    decimal.Zero,
		EntryExpenses:  decimal.Zero,
	}
	r, err := s.FindReport(ctx, church, period)
	if err != nil {
		return Summary{}, err
	}
	if r != nil && r.Status == report.StatusApproved {
		sum.ReportIncome = r.Totals.TotalIncome
		sum.ReportExpenses = r.Totals.TotalExpenses
		sum.ReportIncluded = true
	}

	entries, err := s.ListEntries(ctx, church, period)
	if err != nil {
		return Summary{}, err
	}
	for _, e := range entries {
		switch e.Kind {
		case EntryIncome:
			sum.EntryIncome = sum.EntryIncome.Add(e.Amount())
		case EntryExpense:
			sum.EntryExpenses = sum.EntryExpenses.Add(e.Amount())
		}
	}
	return sum, nil
}

// Close snapshots the month's income and expenses. One way.
func (s *Service) Close(ctx context.Context, caller auth.Identity, id LedgerID, notes string) (*MonthlyLedger, error) {
	l, err := loadLedger(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(l.ChurchID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.store.WithClosingTx(ctx, func(tx Store) error {
		cur, err := loadLedger(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusOpen {
			return treasury.Validation("status", "El libro de %s ya está cerrado", cur.Period.Label())
		}
		l = cur
		sum, err := summarize(ctx, tx, l.ChurchID, l.Period)
		if err != nil {
			return err
		}
		l.TotalIncome = sum.Income()
		l.TotalExpenses = sum.Expenses()
		l.ClosingBalance = l.OpeningBalance.Add(l.TotalIncome).Sub(l.TotalExpenses)
		l.Status = StatusClosed
		l.Notes = strings.TrimSpace(notes)
		l.ClosedBy = caller.Actor()
		l.ClosedAt = &now
		l.UpdatedAt = now
		return tx.UpdateLedger(ctx, *l)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("monthly ledger closed",
		zap.String("ledger_id", string(l.ID)),
		zap.String("period", l.Period.String()),
		zap.String("closing", l.ClosingBalance.String()))
	return l, nil
}

// Reconcile is the admin sign-off of a closed ledger.
func (s *Service) Reconcile(ctx context.Context, caller auth.Identity, id LedgerID) (*MonthlyLedger, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, err
	}
	var l *MonthlyLedger
	now := s.now().UTC()
	err := s.store.WithClosingTx(ctx, func(tx Store) error {
		var err error
		l, err = loadLedger(ctx, tx, id)
		if err != nil {
			return err
		}
		if l.Status != StatusClosed {
			return treasury.Validation("status", "Solo se pueden conciliar libros cerrados")
		}
		l.Status = StatusReconciled
		l.ReconciledBy = caller.Actor()
		l.ReconciledAt = &now
		l.UpdatedAt = now
		return tx.UpdateLedger(ctx, *l)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, caller auth.Identity, id LedgerID) (*MonthlyLedger, error) {
	l, err := loadLedger(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && l.ChurchID != caller.ChurchID {
		return nil, treasury.NotFound("Libro mensual no encontrado")
	}
	return l, nil
}

// List returns the ledgers of a church, oldest first.
func (s *Service) List(ctx context.Context, caller auth.Identity, church treasury.ChurchID) ([]MonthlyLedger, error) {
	if church == "" && !caller.IsAdmin() {
		church = caller.ChurchID
	}
	if err := caller.RequireChurch(church); err != nil {
		return nil, err
	}
	return s.store.ListLedgers(ctx, church)
}

// =============================================================================
// ENTRIES
// =============================================================================

type EntryInput struct {
	ChurchID    treasury.ChurchID
	Date        string
	Kind        EntryKind
	Account     string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// AddEntry records an accounting entry. The month's ledger, if it exists,
// must still be open.
func (s *Service) AddEntry(ctx context.Context, caller auth.Identity, in EntryInput) (*Entry, error) {
	if in.ChurchID == "" && !caller.IsAdmin() {
		in.ChurchID = caller.ChurchID
	}
	if err := caller.RequireMinRole(auth.RoleTreasurer); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(in.ChurchID); err != nil {
		return nil, err
	}

	if err := treasury.ValidateRequired("church_id", string(in.ChurchID)); err != nil {
		return nil, err
	}
	date, err := treasury.ParseDate("date", in.Date)
	if err != nil {
		return nil, err
	}
	if in.Kind != EntryIncome && in.Kind != EntryExpense {
		return nil, treasury.Validation("kind", "Tipo de asiento inválido: %q", in.Kind)
	}
	if err := treasury.ValidateRequired("account", in.Account); err != nil {
		return nil, err
	}
	if err := treasury.ValidateNonNegative("debit", in.Debit); err != nil {
		return nil, err
	}
	if err := treasury.ValidateNonNegative("credit", in.Credit); err != nil {
		return nil, err
	}
	if in.Debit.IsZero() == in.Credit.IsZero() {
		return nil, treasury.Validation("amount", "Debe indicar un monto en el debe o en el haber, no en ambos")
	}

	entry := Entry{
		ID:          EntryID(uuid.NewString()),
		ChurchID:    in.ChurchID,
		Date:        date,
		Kind:        in.Kind,
		Account:     strings.TrimSpace(in.Account),
		Description: strings.TrimSpace(in.Description),
		Debit:       in.Debit,
		Credit:      in.Credit,
		CreatedBy:   caller.Actor(),
		CreatedAt:   s.now().UTC(),
	}
	err = s.store.WithClosingTx(ctx, func(tx Store) error {
		l, err := tx.FindLedger(ctx, entry.ChurchID, entry.Period())
		if err != nil {
			return err
		}
		if l != nil && l.Status != StatusOpen {
			return treasury.Validation("date", "El libro de %s está cerrado", l.Period.Label())
		}
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) ListEntries(ctx context.Context, caller auth.Identity, church treasury.ChurchID, year, month int) ([]Entry, error) {
	if church == "" && !caller.IsAdmin() {
		church = caller.ChurchID
	}
	if err := caller.RequireChurch(church); err != nil {
		return nil, err
	}
	period := treasury.NewPeriod(year, month)
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, church, period)
}
