/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Struct tags (go-playground/validator) only bound the shape of a request:
  sizes, enums, list lengths. Business rules stay in the services, which
  check the caller first, so a tag must never reject input a service would
  treat as an authorization failure.

MONEY:
  decimal.Decimal encodes as a JSON string ("1234.50") and decodes from
  either a string or a number.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/closing"
	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/report"
	"github.com/warp/church-treasury/treasury"
)

const dateLayout = "2006-01-02"

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTimestamp(*t)
}

// =============================================================================
// CHURCHES
// =============================================================================

type ChurchDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	City       string `json:"city,omitempty"`
	PastorName string `json:"pastor_name,omitempty"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  string `json:"created_at"`
}

type CreateChurchRequest struct {
	ID         string `json:"id" validate:"max=64"`
	Name       string `json:"name" validate:"max=200"`
	City       string `json:"city" validate:"max=120"`
	PastorName string `json:"pastor_name" validate:"max=200"`
}

func toChurchDTO(c treasury.Church) ChurchDTO {
	return ChurchDTO{
		ID:         string(c.ID),
		Name:       c.Name,
		City:       c.City,
		PastorName: c.PastorName,
		IsActive:   c.IsActive,
		CreatedAt:  formatTimestamp(c.CreatedAt),
	}
}

// =============================================================================
// FUNDS
// =============================================================================

type FundDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Description    string          `json:"description,omitempty"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type CreateFundRequest struct {
	Name        string `json:"name" validate:"max=120"`
	Type        string `json:"type" validate:"max=40"`
	Description string `json:"description" validate:"max=500"`
}

func toFundDTO(f treasury.Fund) FundDTO {
	return FundDTO{
		ID:             string(f.ID),
		Name:           f.Name,
		Type:           string(f.Type),
		Description:    f.Description,
		CurrentBalance: f.CurrentBalance,
		IsActive:       f.IsActive,
		CreatedAt:      formatTimestamp(f.CreatedAt),
		UpdatedAt:      formatTimestamp(f.UpdatedAt),
	}
}

type ReconcileDTO struct {
	FundID   string          `json:"fund_id"`
	FundName string          `json:"fund_name"`
	Stored   decimal.Decimal `json:"stored_balance"`
	Computed decimal.Decimal `json:"computed_balance"`
	Drifted  bool            `json:"drifted"`
}

func toReconcileDTO(r ledger.ReconcileResult) ReconcileDTO {
	return ReconcileDTO{
		FundID:   string(r.FundID),
		FundName: r.FundName,
		Stored:   r.Stored,
		Computed: r.Computed,
		Drifted:  r.Drifted(),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID             string          `json:"id"`
	Date           string          `json:"date"`
	FundID         string          `json:"fund_id"`
	ChurchID       string          `json:"church_id,omitempty"`
	ReportID       string          `json:"report_id,omitempty"`
	ProviderID     string          `json:"provider_id,omitempty"`
	Concept        string          `json:"concept"`
	DocumentNumber string          `json:"document_number,omitempty"`
	AmountIn       decimal.Decimal `json:"amount_in"`
	AmountOut      decimal.Decimal `json:"amount_out"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

func toTransactionDTO(tx treasury.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             string(tx.ID),
		Date:           tx.Date.UTC().Format(dateLayout),
		FundID:         string(tx.FundID),
		ChurchID:       string(tx.ChurchID),
		ReportID:       string(tx.ReportID),
		ProviderID:     string(tx.ProviderID),
		Concept:        tx.Concept,
		DocumentNumber: tx.DocumentNumber,
		AmountIn:       tx.AmountIn,
		AmountOut:      tx.AmountOut,
		Balance:        tx.Balance,
		CreatedBy:      tx.CreatedBy.String(),
		CreatedAt:      formatTimestamp(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []treasury.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

// TransactionRequest is the body of POST /transactions and one item of a
// bulk request.
type TransactionRequest struct {
	Date           string          `json:"date" validate:"max=40"`
	FundID         string          `json:"fund_id" validate:"max=64"`
	ChurchID       string          `json:"church_id" validate:"max=64"`
	ReportID       string          `json:"report_id" validate:"max=64"`
	ProviderID     string          `json:"provider_id" validate:"max=64"`
	Concept        string          `json:"concept" validate:"max=300"`
	DocumentNumber string          `json:"document_number" validate:"max=60"`
	AmountIn       decimal.Decimal `json:"amount_in"`
	AmountOut      decimal.Decimal `json:"amount_out"`
}

func (r TransactionRequest) input() ledger.CreateInput {
	return ledger.CreateInput{
		Date:           r.Date,
		FundID:         treasury.FundID(r.FundID),
		ChurchID:       treasury.ChurchID(r.ChurchID),
		ReportID:       treasury.ReportID(r.ReportID),
		ProviderID:     treasury.ProviderID(r.ProviderID),
		Concept:        r.Concept,
		DocumentNumber: r.DocumentNumber,
		AmountIn:       r.AmountIn,
		AmountOut:      r.AmountOut,
	}
}

type BulkTransactionRequest struct {
	Items []TransactionRequest `json:"items" validate:"max=500,dive"`
}

// UpdateTransactionRequest patches a transaction; absent fields are kept.
type UpdateTransactionRequest struct {
	Date           *string          `json:"date" validate:"omitempty,max=40"`
	Concept        *string          `json:"concept" validate:"omitempty,max=300"`
	ProviderID     *string          `json:"provider_id" validate:"omitempty,max=64"`
	DocumentNumber *string          `json:"document_number" validate:"omitempty,max=60"`
	AmountIn       *decimal.Decimal `json:"amount_in"`
	AmountOut      *decimal.Decimal `json:"amount_out"`
}

func (r UpdateTransactionRequest) input() ledger.UpdateInput {
	in := ledger.UpdateInput{
		Date:           r.Date,
		Concept:        r.Concept,
		DocumentNumber: r.DocumentNumber,
		AmountIn:       r.AmountIn,
		AmountOut:      r.AmountOut,
	}
	if r.ProviderID != nil {
		p := treasury.ProviderID(*r.ProviderID)
		in.ProviderID = &p
	}
	return in
}

type BulkErrorDTO struct {
	Index int                `json:"index"`
	Input TransactionRequest `json:"input"`
	Error string             `json:"error"`
}

type BulkResultDTO struct {
	Success bool             `json:"success"`
	Created []TransactionDTO `json:"created"`
	Errors  []BulkErrorDTO   `json:"errors"`
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

type LedgerRowDTO struct {
	TransactionDTO
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type LedgerViewDTO struct {
	Fund     FundDTO         `json:"fund"`
	Rows     []LedgerRowDTO  `json:"rows"`
	Opening  decimal.Decimal `json:"opening_balance"`
	Closing  decimal.Decimal `json:"closing_balance"`
	TotalIn  decimal.Decimal `json:"total_in"`
	TotalOut decimal.Decimal `json:"total_out"`
}

func toLedgerViewDTO(v *ledger.View) LedgerViewDTO {
	rows := make([]LedgerRowDTO, len(v.Rows))
	for i, r := range v.Rows {
		rows[i] = LedgerRowDTO{TransactionDTO: toTransactionDTO(r.Transaction), RunningBalance: r.RunningBalance}
	}
	return LedgerViewDTO{
		Fund:     toFundDTO(v.Fund),
		Rows:     rows,
		Opening:  v.Opening,
		Closing:  v.Closing,
		TotalIn:  v.TotalIn,
		TotalOut: v.TotalOut,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

type DepositRequest struct {
	Date     string          `json:"fecha" validate:"max=40"`
	Amount   decimal.Decimal `json:"monto"`
	PhotoRef string          `json:"foto" validate:"max=500"`
}

func (d DepositRequest) input() report.DepositInput {
	return report.DepositInput{Date: d.Date, Amount: d.Amount, PhotoRef: d.PhotoRef}
}

type CreateReportRequest struct {
	ChurchID     string           `json:"church_id" validate:"max=64"`
	Year         int              `json:"year"`
	Month        int              `json:"month"`
	Inputs       report.RawInputs `json:"inputs"`
	Deposit      DepositRequest   `json:"deposito"`
	Attendance   int              `json:"asistencia"`
	Baptisms     int              `json:"bautismos"`
	Observations string           `json:"observaciones" validate:"max=2000"`
}

func (r CreateReportRequest) input() report.CreateInput {
	return report.CreateInput{
		ChurchID:     treasury.ChurchID(r.ChurchID),
		Year:         r.Year,
		Month:        r.Month,
		Inputs:       r.Inputs,
		Deposit:      r.Deposit.input(),
		Attendance:   r.Attendance,
		Baptisms:     r.Baptisms,
		Observations: r.Observations,
	}
}

// EditReportRequest patches a report. Amounts is keyed by raw field name.
type EditReportRequest struct {
	Amounts      map[string]decimal.Decimal `json:"amounts" validate:"max=20"`
	Deposit      *DepositRequest            `json:"deposito"`
	Attendance   *int                       `json:"asistencia"`
	Baptisms     *int                       `json:"bautismos"`
	Observations *string                    `json:"observaciones" validate:"omitempty,max=2000"`
}

func (r EditReportRequest) input() report.EditInput {
	in := report.EditInput{
		Amounts:      r.Amounts,
		Attendance:   r.Attendance,
		Baptisms:     r.Baptisms,
		Observations: r.Observations,
	}
	if r.Deposit != nil {
		d := r.Deposit.input()
		in.Deposit = &d
	}
	return in
}

type RejectReportRequest struct {
	Reason string `json:"motivo" validate:"max=1000"`
}

type DepositDTO struct {
	Date   string          `json:"fecha,omitempty"`
	Amount decimal.Decimal `json:"monto"`
	Photo  string          `json:"foto,omitempty"`
}

type ReportDTO struct {
	ID           string           `json:"id"`
	ChurchID     string           `json:"church_id"`
	Year         int              `json:"year"`
	Month        int              `json:"month"`
	Period       string           `json:"period"`
	Inputs       report.RawInputs `json:"inputs"`
	Totals       report.Totals    `json:"totals"`
	Deposit      DepositDTO       `json:"deposito"`
	Attendance   int              `json:"asistencia"`
	Baptisms     int              `json:"bautismos"`
	Observations string           `json:"observaciones,omitempty"`

	Status          string `json:"status"`
	SubmittedBy     string `json:"submitted_by,omitempty"`
	SubmittedAt     string `json:"submitted_at,omitempty"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	ApprovedAt      string `json:"approved_at,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectedAt      string `json:"rejected_at,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	TransactionsGenerated bool   `json:"transactions_generated"`
	GeneratedAt           string `json:"generated_at,omitempty"`

	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toReportDTO(r report.Report) ReportDTO {
	dto := ReportDTO{
		ID:           string(r.ID),
		ChurchID:     string(r.ChurchID),
		Year:         r.Period.Year,
		Month:        int(r.Period.Month),
		Period:       r.Period.Label(),
		Inputs:       r.Inputs,
		Totals:       r.Totals,
		Deposit:      DepositDTO{Amount: r.Deposit.Amount, Photo: r.Deposit.PhotoRef},
		Attendance:   r.Attendance,
		Baptisms:     r.Baptisms,
		Observations: r.Observations,

		Status:          string(r.Status),
		SubmittedBy:     r.SubmittedBy,
		SubmittedAt:     formatOptional(r.SubmittedAt),
		ApprovedBy:      r.ApprovedBy,
		ApprovedAt:      formatOptional(r.ApprovedAt),
		RejectedBy:      r.RejectedBy,
		RejectedAt:      formatOptional(r.RejectedAt),
		RejectionReason: r.RejectionReason,

		TransactionsGenerated: r.TransactionsGenerated,
		GeneratedAt:           formatOptional(r.GeneratedAt),

		CreatedBy: r.CreatedBy,
		CreatedAt: formatTimestamp(r.CreatedAt),
		UpdatedAt: formatTimestamp(r.UpdatedAt),
	}
	if r.Deposit.Date != nil {
		dto.Deposit.Date = r.Deposit.Date.UTC().Format(dateLayout)
	}
	return dto
}

// =============================================================================
// MONTHLY LEDGERS
// =============================================================================

type OpenLedgerRequest struct {
	ChurchID string `json:"church_id" validate:"max=64"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
}

type CloseLedgerRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type MonthlyLedgerDTO struct {
	ID             string          `json:"id"`
	ChurchID       string          `json:"church_id"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	TotalIncome    decimal.Decimal `json:"total_income"`
	TotalExpenses  decimal.Decimal `json:"total_expenses"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Status         string          `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	ClosedBy       string          `json:"closed_by,omitempty"`
	ClosedAt       string          `json:"closed_at,omitempty"`
	ReconciledBy   string          `json:"reconciled_by,omitempty"`
	ReconciledAt   string          `json:"reconciled_at,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toLedgerDTO(l closing.MonthlyLedger) MonthlyLedgerDTO {
	return MonthlyLedgerDTO{
		ID:             string(l.ID),
		ChurchID:       string(l.ChurchID),
		Year:           l.Period.Year,
		Month:          int(l.Period.Month),
		OpeningBalance: l.OpeningBalance,
		TotalIncome:    l.TotalIncome,
		TotalExpenses:  l.TotalExpenses,
		ClosingBalance: l.ClosingBalance,
		Status:         string(l.Status),
		Notes:          l.Notes,
		ClosedBy:       l.ClosedBy,
		ClosedAt:       formatOptional(l.ClosedAt),
		ReconciledBy:   l.ReconciledBy,
		ReconciledAt:   formatOptional(l.ReconciledAt),
		CreatedAt:      formatTimestamp(l.CreatedAt),
	}
}

type EntryRequest struct {
	ChurchID    string          `json:"church_id" validate:"max=64"`
	Date        string          `json:"date" validate:"max=40"`
	Kind        string          `json:"kind" validate:"omitempty,oneof=income expense"`
	Account     string          `json:"account" validate:"max=120"`
	Description string          `json:"description" validate:"max=500"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

func (r EntryRequest) input() closing.EntryInput {
	return closing.EntryInput{
		ChurchID:    treasury.ChurchID(r.ChurchID),
		Date:        r.Date,
		Kind:        closing.EntryKind(r.Kind),
		Account:     r.Account,
		Description: r.Description,
		Debit:       r.Debit,
		Credit:      r.Credit,
	}
}

type EntryDTO struct {
	ID          string          `json:"id"`
	ChurchID    string          `json:"church_id"`
	Date        string          `json:"date"`
	Kind        string          `json:"kind"`
	Account     string          `json:"account"`
	Description string          `json:"description,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
}

func toEntryDTO(e closing.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		ChurchID:    string(e.ChurchID),
		Date:        e.Date.UTC().Format(dateLayout),
		Kind:        string(e.Kind),
		Account:     e.Account,
		Description: e.Description,
		Debit:       e.Debit,
		Credit:      e.Credit,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   formatTimestamp(e.CreatedAt),
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}
