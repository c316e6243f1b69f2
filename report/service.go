package report

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/observability"
	"github.com/warp/church-treasury/treasury"
)

// DefaultDepositTolerance is the absolute difference allowed between the
// deposited amount and nationalFund + totalDesignated.
var DefaultDepositTolerance = decimal.NewFromInt(100)

type Config struct {
	DepositTolerance decimal.Decimal
}

// =============================================================================
// SERVICE
// =============================================================================

// Service runs the report lifecycle. Every operation checks the caller
// first, then the input, then the business rules.
type Service struct {
	store     Store
	generator *Generator
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewService(store Store, generator *Generator, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DepositTolerance.IsZero() {
		cfg.DepositTolerance = DefaultDepositTolerance
	}
	return &Service{
		store:     store,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// DepositInput carries bank-deposit metadata. Date may be empty.
type DepositInput struct {
	Date     string
	Amount   decimal.Decimal
	PhotoRef string
}

func (d DepositInput) toDeposit() (Deposit, error) {
	out := Deposit{Amount: d.Amount, PhotoRef: strings.TrimSpace(d.PhotoRef)}
	if err := treasury.ValidateNonNegative("monto_deposito", d.Amount); err != nil {
		return Deposit{}, err
	}
	if strings.TrimSpace(d.Date) != "" {
		date, err := treasury.ParseDate("fecha_deposito", d.Date)
		if err != nil {
			return Deposit{}, err
		}
		out.Date = &date
	}
	return out, nil
}

func validateCounters(attendance, baptisms int) error {
	if attendance < 0 {
		return treasury.Validation("asistencia", "La asistencia no puede ser negativa")
	}
	if baptisms < 0 {
		return treasury.Validation("bautismos", "Los bautismos no pueden ser negativos")
	}
	return nil
}

func load(ctx context.Context, s Reports, id treasury.ReportID) (*Report, error) {
	r, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, treasury.NotFound("Informe no encontrado")
	}
	return r, nil
}

func (s *Service) logTransition(action string, r *Report, caller auth.Identity) {
	s.metrics.IncrReportTransition(action)
	s.logger.Info("report "+action,
		zap.String("report_id", string(r.ID)),
		zap.String("church_id", string(r.ChurchID)),
		zap.String("period", r.Period.String()),
		zap.String("status", string(r.Status)),
		zap.String("actor", caller.Actor()))
}

// =============================================================================
// CREATE / SUBMIT
// =============================================================================

type CreateInput struct {
	ChurchID     treasury.ChurchID
	Year         int
	Month        int
	Inputs       RawInputs
	Deposit      DepositInput
	Attendance   int
	Baptisms     int
	Observations string
}

// Create files a report. Admin-created reports start in enviado, all
// others in pendiente. One report per church and period.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (*Report, error) {
	if in.ChurchID == "" && !caller.IsAdmin() {
		in.ChurchID = caller.ChurchID
	}
	if err := caller.RequireMinRole(auth.RolePastor); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(in.ChurchID); err != nil {
		return nil, err
	}

	if err := treasury.ValidateRequired("church_id", string(in.ChurchID)); err != nil {
		return nil, err
	}
	period := treasury.NewPeriod(in.Year, in.Month)
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateInputs(in.Inputs); err != nil {
		return nil, err
	}
	deposit, err := in.Deposit.toDeposit()
	if err != nil {
		return nil, err
	}
	if err := validateCounters(in.Attendance, in.Baptisms); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := Report{
		ID:           treasury.ReportID(uuid.NewString()),
		ChurchID:     in.ChurchID,
		Period:       period,
		Inputs:       in.Inputs,
		Totals:       CalculateTotals(in.Inputs),
		Deposit:      deposit,
		Attendance:   in.Attendance,
		Baptisms:     in.Baptisms,
		Observations: in.Observations,
		Status:       StatusPending,
		CreatedBy:    caller.Actor(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if caller.IsAdmin() {
		r.Status = StatusSubmitted
		r.SubmittedBy = caller.Actor()
		r.SubmittedAt = &now
	}

	err = s.store.WithReportTx(ctx, func(tx Store) error {
		church, err := tx.GetChurch(ctx, in.ChurchID)
		if err != nil {
			return err
		}
		if church == nil {
			return treasury.NotFound("Iglesia no encontrada")
		}
		existing, err := tx.FindReport(ctx, r.ChurchID, r.Period)
		if err != nil {
			return err
		}
		if existing != nil {
			return treasury.Conflict("Ya existe un informe para %s", r.Period.Label())
		}
		return tx.InsertReport(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition("create", &r, caller)
	return &r, nil
}

// Submit moves a pendiente report to enviado.
func (s *Service) Submit(ctx context.Context, caller auth.Identity, id treasury.ReportID) (*Report, error) {
	r, err := load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := caller.RequireMinRole(auth.RolePastor); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(r.ChurchID); err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, treasury.Validation("status", "Solo se pueden enviar informes pendientes (estado actual: %s)", r.Status)
	}

	now := s.now().UTC()
	r.Status = StatusSubmitted
	r.SubmittedBy = caller.Actor()
	r.SubmittedAt = &now
	r.UpdatedAt = now
	if err := s.store.UpdateReport(ctx, *r); err != nil {
		return nil, err
	}
	s.logTransition("submit", r, caller)
	return r, nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditInput patches a report. Amounts is keyed by raw field name
// ("diezmos", "misiones", "agua", ...). Nil fields are left unchanged.
type EditInput struct {
	Amounts      map[string]decimal.Decimal
	Deposit      *DepositInput
	Attendance   *int
	Baptisms     *int
	Observations *string
}

// Edit merges the patch, recomputes every total and applies the status
// side effects: non-admin edits send the report back to pendiente and clear
// the generation flag; an admin edit of an approved, generated report
// regenerates its ledger entries.
func (s *Service) Edit(ctx context.Context, caller auth.Identity, id treasury.ReportID, in EditInput) (*Report, error) {
	ctx, span := tracer.Start(ctx, "report.Edit")
	defer span.End()

	r, err := load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := caller.RequireMinRole(auth.RolePastor); err != nil {
		return nil, err
	}
	if err := caller.RequireChurch(r.ChurchID); err != nil {
		return nil, err
	}

	if r.Status == StatusProcessed {
		return nil, treasury.Validation("status", "El informe ya fue procesado y no puede modificarse")
	}
	if r.Status == StatusApproved && !caller.IsAdmin() {
		return nil, treasury.Validation("status", "Solo un administrador puede modificar un informe aprobado")
	}

	merged, err := r.Inputs.Merge(in.Amounts)
	if err != nil {
		return nil, err
	}
	if err := ValidateInputs(merged); err != nil {
		return nil, err
	}
	if in.Deposit != nil {
		deposit, err := in.Deposit.toDeposit()
		if err != nil {
			return nil, err
		}
		r.Deposit = deposit
	}
	if in.Attendance != nil {
		r.Attendance = *in.Attendance
	}
	if in.Baptisms != nil {
		r.Baptisms = *in.Baptisms
	}
	if err := validateCounters(r.Attendance, r.Baptisms); err != nil {
		return nil, err
	}
	if in.Observations != nil {
		r.Observations = *in.Observations
	}

	now := s.now().UTC()
	r.Inputs = merged
	r.Totals = CalculateTotals(merged)
	r.UpdatedAt = now

	regenerate := false
	previousActor := r.GeneratedBy
	switch {
	case !caller.IsAdmin():
		r.Status = StatusPending
		r.TransactionsGenerated = false
		r.GeneratedAt = nil
	case r.Status == StatusApproved && r.TransactionsGenerated:
		regenerate = true
		r.GeneratedBy = caller.Actor()
		r.GeneratedAt = &now
	}
	span.SetAttributes(attribute.Bool("report.regenerate", regenerate))

	err = s.store.WithReportTx(ctx, func(tx Store) error {
		if err := tx.UpdateReport(ctx, *r); err != nil {
			return err
		}
		if !regenerate {
			return nil
		}
		old := *r
		old.GeneratedBy = previousActor
		_, err := s.generator.Generate(ctx, tx, old)
		return err
	})
	if err != nil {
		if regenerate {
			s.metrics.IncrGeneration("failure")
			s.logger.Error("ledger regeneration failed",
				zap.String("report_id", string(r.ID)),
				zap.String("period", r.Period.String()),
				zap.String("actor", caller.Actor()),
				zap.Error(err))
		}
		return nil, err
	}
	if regenerate {
		s.metrics.IncrGeneration("regenerated")
	}
	s.logTransition("edit", r, caller)
	return r, nil
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func (s *Service) checkDeposit(r Report) error {
	if r.Deposit.PhotoRef == "" {
		return treasury.Validation("foto_deposito", "Debe adjuntar la foto del depósito antes de aprobar el informe")
	}
	expected := r.Totals.ExpectedDeposit()
	if r.Deposit.Amount.Sub(expected).Abs().GreaterThan(s.cfg.DepositTolerance) {
		return treasury.Validation("monto_deposito",
			"El monto depositado (%s) no coincide con el fondo nacional más los fondos designados (%s)",
			r.Deposit.Amount.String(), expected.String())
	}
	return nil
}

// Approve marks the report aprobado and, unless entries were already
// generated, writes its ledger entries. The generation flag is claimed
// before any entry is written; if generation fails the flag is released
// and the report stays aprobado.
func (s *Service) Approve(ctx context.Context, caller auth.Identity, id treasury.ReportID) (*Report, error) {
	ctx, span := tracer.Start(ctx, "report.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("report.id", string(id)))

	r, err := load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := caller.RequireReportApproval(r.ChurchID); err != nil {
		return nil, err
	}
	if r.Status == StatusProcessed {
		return nil, treasury.Validation("status", "El informe ya fue procesado")
	}
	if err := s.checkDeposit(*r); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	actor := caller.Actor()
	var claimed bool
	var previousActor string
	err = s.store.WithReportTx(ctx, func(tx Store) error {
		cur, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		previousActor = cur.GeneratedBy
		if cur.Status != StatusApproved {
			cur.Status = StatusApproved
			cur.ApprovedBy = actor
			cur.ApprovedAt = &now
			cur.UpdatedAt = now
			if err := tx.UpdateReport(ctx, *cur); err != nil {
				return err
			}
		}
		claimed, err = tx.ClaimGeneration(ctx, id, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	r, err = load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	s.logTransition("approve", r, caller)
	if !claimed {
		s.metrics.IncrGeneration("skipped")
		return r, nil
	}

	purgeView := *r
	purgeView.GeneratedBy = previousActor
	if _, err := s.generator.Generate(ctx, s.store, purgeView); err != nil {
		s.metrics.IncrGeneration("failure")
		s.logger.Error("ledger generation failed",
			zap.String("report_id", string(id)),
			zap.String("period", r.Period.String()),
			zap.String("actor", actor),
			zap.Error(err))
		if rerr := s.store.ReleaseGeneration(ctx, id, previousActor); rerr != nil {
			s.logger.Error("release generation flag", zap.String("report_id", string(id)), zap.Error(rerr))
		}
		return nil, err
	}
	s.metrics.IncrGeneration("success")
	return r, nil
}

// Reject marks the report rechazado and clears the generation flag.
// Previously generated entries stay until the next approval replaces them.
func (s *Service) Reject(ctx context.Context, caller auth.Identity, id treasury.ReportID, reason string) (*Report, error) {
	r, err := load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if err := caller.RequireReportApproval(r.ChurchID); err != nil {
		return nil, err
	}
	if err := treasury.ValidateRequired("motivo", reason); err != nil {
		return nil, err
	}
	if r.Status == StatusProcessed {
		return nil, treasury.Validation("status", "El informe ya fue procesado")
	}

	now := s.now().UTC()
	r.Status = StatusRejected
	r.RejectedBy = caller.Actor()
	r.RejectedAt = &now
	r.RejectionReason = strings.TrimSpace(reason)
	r.TransactionsGenerated = false
	r.GeneratedAt = nil
	r.UpdatedAt = now
	if err := s.store.UpdateReport(ctx, *r); err != nil {
		return nil, err
	}
	s.logTransition("reject", r, caller)
	return r, nil
}

// =============================================================================
// DELETE / READ
// =============================================================================

// Delete removes the report in any status together with its generated
// ledger entries.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, id treasury.ReportID) error {
	r, err := load(ctx, s.store, id)
	if err != nil {
		return err
	}
	if err := caller.RequireMinRole(auth.RolePastor); err != nil {
		return err
	}
	if err := caller.RequireChurch(r.ChurchID); err != nil {
		return err
	}
	err = s.store.WithReportTx(ctx, func(tx Store) error {
		if _, err := s.generator.Purge(ctx, tx, *r); err != nil {
			return err
		}
		return tx.DeleteReport(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logTransition("delete", r, caller)
	return nil
}

// Get returns a report of the caller's church (any church for admins).
func (s *Service) Get(ctx context.Context, caller auth.Identity, id treasury.ReportID) (*Report, error) {
	r, err := load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && r.ChurchID != caller.ChurchID {
		return nil, treasury.NotFound("Informe no encontrado")
	}
	return r, nil
}

// List returns reports; non-admin callers only see their own church.
func (s *Service) List(ctx context.Context, caller auth.Identity, filter Filter) ([]Report, error) {
	if !caller.IsAdmin() {
		if filter.ChurchID != "" && filter.ChurchID != caller.ChurchID {
			return nil, treasury.Unauthorized("No tiene acceso a esta iglesia")
		}
		filter.ChurchID = caller.ChurchID
	}
	if filter.Month != 0 {
		if err := treasury.ValidateMonth(filter.Month); err != nil {
			return nil, err
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, treasury.Validation("status", "Estado inválido: %s", filter.Status)
	}
	return s.store.ListReports(ctx, filter)
}

// Preview computes totals without persisting anything.
func (s *Service) Preview(in RawInputs) (Totals, error) {
	if err := ValidateInputs(in); err != nil {
		return Totals{}, err
	}
	return CalculateTotals(in), nil
}
