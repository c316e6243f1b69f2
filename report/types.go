/*
Package report implements the monthly church report: its computed totals,
its approval state machine, and the ledger entries an approval generates.

PURPOSE:
  Each church files one report per month with raw income and expense
  figures. Every derived figure is a pure function of those inputs
  (CalculateTotals). Approving a report writes a fixed set of ledger
  transactions that move the money between the church's general fund,
  the national fund and the designated funds.

STATE MACHINE:
  pendiente ──submit──> enviado ──approve──> aprobado
      ^                    │                    │
      │                    └──reject──> rechazado
      └──── non-admin edit ─────────────────────┘ (not from aprobado)

  Admins create directly in enviado. procesado is a legacy terminal state
  that no operation enters.

GENERATION FLAG:
  TransactionsGenerated guards ledger generation. Approve claims it with a
  compare-and-set before writing any transaction, so repeated approvals
  generate once. Reject and pastor edits clear it.

SEE ALSO:
  - totals.go: CalculateTotals
  - service.go: Lifecycle operations
  - generator.go: Approval -> ledger entries, regeneration matching
*/
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/treasury"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "pendiente"
	StatusSubmitted Status = "enviado"
	StatusApproved  Status = "aprobado"
	StatusRejected  Status = "rechazado"
	StatusProcessed Status = "procesado" // legacy, never entered
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusApproved, StatusRejected, StatusProcessed:
		return true
	}
	return false
}

// =============================================================================
// DESIGNATED FUNDS
// =============================================================================

// Category keys the designated contributions. Each maps to a fund of type
// "designado" with a fixed display name.
type Category string

const (
	CategoryMisiones      Category = "misiones"
	CategoryLazosAmor     Category = "lazos_amor"
	CategoryMisionPosible Category = "mision_posible"
	CategoryAPY           Category = "apy"
	CategoryIBA           Category = "iba"
	CategoryCaballeros    Category = "caballeros"
	CategoryDamas         Category = "damas"
	CategoryJovenes       Category = "jovenes"
	CategoryNinos         Category = "ninos"
)

// Categories lists designated categories in generation order.
var Categories = []Category{
	CategoryMisiones,
	CategoryLazosAmor,
	CategoryMisionPosible,
	CategoryAPY,
	CategoryIBA,
	CategoryCaballeros,
	CategoryDamas,
	CategoryJovenes,
	CategoryNinos,
}

var categoryFunds = map[Category]string{
	CategoryMisiones:      "Misiones",
	CategoryLazosAmor:     "Lazos de Amor",
	CategoryMisionPosible: "Misión Posible",
	CategoryAPY:           "APY",
	CategoryIBA:           "IBA",
	CategoryCaballeros:    "Caballeros",
	CategoryDamas:         "Damas",
	CategoryJovenes:       "Jóvenes",
	CategoryNinos:         "Niños",
}

// FundName is the name of the fund that receives the category's money.
func (c Category) FundName() string { return categoryFunds[c] }

type DesignatedFunds struct {
	Misiones      decimal.Decimal `json:"misiones"`
	LazosAmor     decimal.Decimal `json:"lazos_amor"`
	MisionPosible decimal.Decimal `json:"mision_posible"`
	APY           decimal.Decimal `json:"apy"`
	IBA           decimal.Decimal `json:"iba"`
	Caballeros    decimal.Decimal `json:"caballeros"`
	Damas         decimal.Decimal `json:"damas"`
	Jovenes       decimal.Decimal `json:"jovenes"`
	Ninos         decimal.Decimal `json:"ninos"`
}

// Amount returns the contribution for c.
func (d DesignatedFunds) Amount(c Category) decimal.Decimal {
	switch c {
	case CategoryMisiones:
		return d.Misiones
	case CategoryLazosAmor:
		return d.LazosAmor
	case CategoryMisionPosible:
		return d.MisionPosible
	case CategoryAPY:
		return d.APY
	case CategoryIBA:
		return d.IBA
	case CategoryCaballeros:
		return d.Caballeros
	case CategoryDamas:
		return d.Damas
	case CategoryJovenes:
		return d.Jovenes
	case CategoryNinos:
		return d.Ninos
	}
	return decimal.Zero
}

func (d DesignatedFunds) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range Categories {
		total = total.Add(d.Amount(c))
	}
	return total
}

// =============================================================================
// OPERATING EXPENSES
// =============================================================================

type OperatingExpenses struct {
	EnergiaElectrica  decimal.Decimal `json:"energia_electrica"`
	Agua              decimal.Decimal `json:"agua"`
	RecoleccionBasura decimal.Decimal `json:"recoleccion_basura"`
	Servicios         decimal.Decimal `json:"servicios"`
	Mantenimiento     decimal.Decimal `json:"mantenimiento"`
	Materiales        decimal.Decimal `json:"materiales"`
	OtrosGastos       decimal.Decimal `json:"otros_gastos"`
}

func (o OperatingExpenses) Total() decimal.Decimal {
	return treasury.Sum(o.EnergiaElectrica, o.Agua, o.RecoleccionBasura,
		o.Servicios, o.Mantenimiento, o.Materiales, o.OtrosGastos)
}

// =============================================================================
// RAW INPUTS / TOTALS
// =============================================================================

// RawInputs are the figures a church enters. Everything in Totals derives
// from them.
type RawInputs struct {
	Tithes      decimal.Decimal   `json:"diezmos"`
	Offerings   decimal.Decimal   `json:"ofrendas"`
	Annexes     decimal.Decimal   `json:"anexos"`
	OtherIncome decimal.Decimal   `json:"otros_ingresos"`
	Designated  DesignatedFunds   `json:"fondos_designados"`
	Operating   OperatingExpenses `json:"gastos_operativos"`
}

// fields addresses every raw figure by its wire name.
func (in *RawInputs) fields() map[string]*decimal.Decimal {
	return map[string]*decimal.Decimal{
		"diezmos":            &in.Tithes,
		"ofrendas":           &in.Offerings,
		"anexos":             &in.Annexes,
		"otros_ingresos":     &in.OtherIncome,
		"misiones":           &in.Designated.Misiones,
		"lazos_amor":         &in.Designated.LazosAmor,
		"mision_posible":     &in.Designated.MisionPosible,
		"apy":                &in.Designated.APY,
		"iba":                &in.Designated.IBA,
		"caballeros":         &in.Designated.Caballeros,
		"damas":              &in.Designated.Damas,
		"jovenes":            &in.Designated.Jovenes,
		"ninos":              &in.Designated.Ninos,
		"energia_electrica":  &in.Operating.EnergiaElectrica,
		"agua":               &in.Operating.Agua,
		"recoleccion_basura": &in.Operating.RecoleccionBasura,
		"servicios":          &in.Operating.Servicios,
		"mantenimiento":      &in.Operating.Mantenimiento,
		"materiales":         &in.Operating.Materiales,
		"otros_gastos":       &in.Operating.OtrosGastos,
	}
}

// Merge returns a copy of in with the named fields replaced.
func (in RawInputs) Merge(patch map[string]decimal.Decimal) (RawInputs, error) {
	out := in
	fields := out.fields()
	for name, v := range patch {
		ptr, ok := fields[name]
		if !ok {
			return RawInputs{}, treasury.Validation(name, "Campo desconocido: %s", name)
		}
		*ptr = v
	}
	return out, nil
}

type Totals struct {
	CongregationalBase decimal.Decimal `json:"base_congregacional"`
	TotalDesignated    decimal.Decimal `json:"total_designado"`
	OperatingExpenses  decimal.Decimal `json:"gastos_operativos"`
	TotalIncome        decimal.Decimal `json:"total_ingresos"`
	NationalFund       decimal.Decimal `json:"fondo_nacional"`
	Honorarium         decimal.Decimal `json:"honorario_pastoral"`
	TotalExpenses      decimal.Decimal `json:"total_egresos"`
	ClosingBalance     decimal.Decimal `json:"saldo_final"`
}

// ExpectedDeposit is what the church must deposit to the national office.
func (t Totals) ExpectedDeposit() decimal.Decimal {
	return t.NationalFund.Add(t.TotalDesignated)
}

// =============================================================================
// REPORT
// =============================================================================

type Deposit struct {
	Date     *time.Time
	Amount   decimal.Decimal
	PhotoRef string
}

type Report struct {
	ID       treasury.ReportID
	ChurchID treasury.ChurchID
	Period   treasury.Period

	Inputs  RawInputs
	Totals  Totals
	Deposit Deposit

	Attendance   int
	Baptisms     int
	Observations string

	Status          Status
	SubmittedBy     string
	SubmittedAt     *time.Time
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string

	// Ledger generation bookkeeping. GeneratedBy survives a reset of the
	// flag so legacy rows can still be matched on regeneration.
	TransactionsGenerated bool
	GeneratedAt           *time.Time
	GeneratedBy           string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionDate anchors generated entries: the deposit date when known,
// otherwise the last day of the period.
func (r Report) TransactionDate() time.Time {
	if r.Deposit.Date != nil {
		return r.Deposit.Date.UTC()
	}
	return r.Period.End()
}

// Filter narrows ListReports. Zero fields do not filter.
type Filter struct {
	ChurchID treasury.ChurchID
	Year     int
	Month    int
	Status   Status
}
