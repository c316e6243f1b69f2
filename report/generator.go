/*
generator.go - Approved report -> ledger transactions

PURPOSE:
  Turns an approved report into ledger rows, in a fixed order:

    1. income          IN  church general fund   (total income)
    2. national fund   OUT church general fund / IN Fondo Nacional (national row)
    3. designated x9   OUT church general fund / IN category fund (national row)
    4. honorarium      OUT church general fund
    5. operating       OUT church general fund

  Entries with a zero amount are skipped. Every row is tagged System and
  linked to the report. All rows are dated Report.TransactionDate().

REGENERATION:
  Before writing, Generate deletes the report's previously generated rows.
  A row counts as generated when:
    - it is tagged System, or
    - it is tagged Legacy with the report's GeneratedBy actor AND its concept
      starts with one of the period's expected prefixes

  Manually entered rows linked to the report match neither and survive.

ATOMICITY:
  Generate runs purge + all creates through one store transaction. A failure
  anywhere leaves the ledger as it was, so a retry never duplicates rows.
*/
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/treasury"
)

var tracer = otel.Tracer("github.com/warp/church-treasury/report")

const (
	GeneralFundName  = "Fondo General"
	NationalFundName = "Fondo Nacional"
)

// =============================================================================
// PLAN - What an approval writes (pure)
// =============================================================================

// PlannedEntry is one ledger row before fund resolution.
type PlannedEntry struct {
	FundName  string
	FundType  treasury.FundType
	ChurchID  treasury.ChurchID // empty for national rows
	Concept   string
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
}

func incomeConcept(label string) string   { return "Ingresos del informe " + label }
func nationalConcept(label string) string { return "Aporte Fondo Nacional " + label }
func transferConcept(fund, label string) string {
	return fmt.Sprintf("Transferencia a %s %s", fund, label)
}
func designatedConcept(fund, label string) string {
	return fmt.Sprintf("Ingreso %s %s", fund, label)
}
func honorariumConcept(label string) string { return "Honorario pastoral " + label }
func operatingConcept(label string) string  { return "Gastos operativos " + label }

// ExpectedPrefixes lists the concept prefixes generated for period.
func ExpectedPrefixes(period treasury.Period) []string {
	label := period.Label()
	prefixes := []string{
		incomeConcept(label),
		nationalConcept(label),
		honorariumConcept(label),
		operatingConcept(label),
	}
	for _, c := range Categories {
		prefixes = append(prefixes,
			transferConcept(c.FundName(), label),
			designatedConcept(c.FundName(), label))
	}
	return prefixes
}

// GeneralFundFor names the general fund used for church. With perChurch
// false every church shares one fund.
func GeneralFundFor(church treasury.ChurchID, perChurch bool) string {
	if perChurch {
		return fmt.Sprintf("%s - %s", GeneralFundName, church)
	}
	return GeneralFundName
}

// Plan lists the rows an approval of r writes, in order.
func Plan(r Report, generalFund string) []PlannedEntry {
	t := r.Totals
	label := r.Period.Label()
	church := r.ChurchID

	var plan []PlannedEntry
	out := func(concept string, amount decimal.Decimal) {
		plan = append(plan, PlannedEntry{
			FundName: generalFund, FundType: treasury.FundGeneral, ChurchID: church,
			Concept: concept, AmountIn: decimal.Zero, AmountOut: amount,
		})
	}

	if t.TotalIncome.IsPositive() {
		plan = append(plan, PlannedEntry{
			FundName: generalFund, FundType: treasury.FundGeneral, ChurchID: church,
			Concept: fmt.Sprintf("%s (diezmos %s, ofrendas %s)",
				incomeConcept(label), r.Inputs.Tithes.String(), r.Inputs.Offerings.String()),
			AmountIn: t.TotalIncome, AmountOut: decimal.Zero,
		})
	}

	if t.NationalFund.IsPositive() {
		out(nationalConcept(label), t.NationalFund)
		plan = append(plan, PlannedEntry{
			FundName: NationalFundName, FundType: treasury.FundNational,
			Concept:  nationalConcept(label),
			AmountIn: t.NationalFund, AmountOut: decimal.Zero,
		})
	}

	for _, c := range Categories {
		amount := r.Inputs.Designated.Amount(c)
		if !amount.IsPositive() {
			continue
		}
		fund := c.FundName()
		out(transferConcept(fund, label), amount)
		plan = append(plan, PlannedEntry{
			FundName: fund, FundType: treasury.FundDesignated,
			Concept:  designatedConcept(fund, label),
			AmountIn: amount, AmountOut: decimal.Zero,
		})
	}

	if t.Honorarium.IsPositive() {
		out(honorariumConcept(label), t.Honorarium)
	}
	if t.OperatingExpenses.IsPositive() {
		out(operatingConcept(label), t.OperatingExpenses)
	}
	return plan
}

// IsGenerated reports whether row was written by an approval of r.
func IsGenerated(row treasury.Transaction, r Report) bool {
	if row.ReportID != r.ID {
		return false
	}
	if row.CreatedBy.IsSystem() {
		return true
	}
	if row.CreatedBy.Kind != treasury.CreatorLegacy || r.GeneratedBy == "" || row.CreatedBy.Actor != r.GeneratedBy {
		return false
	}
	for _, prefix := range ExpectedPrefixes(r.Period) {
		if strings.HasPrefix(row.Concept, prefix) {
			return true
		}
	}
	return false
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	funds     *ledger.Funds
	txs       *ledger.Transactions
	perChurch bool
	logger    *zap.Logger
}

func NewGenerator(funds *ledger.Funds, txs *ledger.Transactions, perChurch bool, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{funds: funds, txs: txs, perChurch: perChurch, logger: logger}
}

type GenerationResult struct {
	Purged  int
	Created []treasury.Transaction
}

// Generate purges r's previously generated rows and writes the plan, all
// through one transaction on s.
func (g *Generator) Generate(ctx context.Context, s treasury.Store, r Report) (GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "report.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.id", string(r.ID)),
		attribute.String("report.period", r.Period.String()),
	)

	var result GenerationResult
	err := s.WithTx(ctx, func(tx treasury.Store) error {
		funds := g.funds.Bind(tx)
		txs := g.txs.Bind(tx)

		purged, err := purgeGenerated(ctx, tx, txs, r)
		if err != nil {
			return err
		}
		result.Purged = purged

		date := r.TransactionDate().Format("2006-01-02")
		resolved := make(map[string]treasury.FundID)
		for _, entry := range Plan(r, GeneralFundFor(r.ChurchID, g.perChurch)) {
			fundID, ok := resolved[entry.FundName]
			if !ok {
				fund, err := funds.GetOrCreate(ctx, entry.FundName, entry.FundType, "")
				if err != nil {
					return err
				}
				fundID = fund.ID
				resolved[entry.FundName] = fundID
			}

			row, err := txs.Record(ctx, ledger.CreateInput{
				Date:      date,
				FundID:    fundID,
				ChurchID:  entry.ChurchID,
				ReportID:  r.ID,
				Concept:   entry.Concept,
				AmountIn:  entry.AmountIn,
				AmountOut: entry.AmountOut,
			}, treasury.SystemCreator())
			if err != nil {
				return fmt.Errorf("generate %q: %w", entry.Concept, err)
			}
			result.Created = append(result.Created, *row)
		}
		return nil
	})
	if err != nil {
		return GenerationResult{}, err
	}
	g.logger.Debug("ledger entries generated",
		zap.String("report_id", string(r.ID)),
		zap.String("period", r.Period.String()),
		zap.Int("purged", result.Purged),
		zap.Int("created", len(result.Created)))
	return result, nil
}

// Purge removes r's generated rows outside of a regeneration.
func (g *Generator) Purge(ctx context.Context, s treasury.Store, r Report) (int, error) {
	var n int
	err := s.WithTx(ctx, func(tx treasury.Store) error {
		var err error
		n, err = purgeGenerated(ctx, tx, g.txs.Bind(tx), r)
		return err
	})
	return n, err
}

func purgeGenerated(ctx context.Context, s treasury.Store, txs *ledger.Transactions, r Report) (int, error) {
	linked, err := s.ListTransactions(ctx, treasury.TransactionFilter{ReportID: r.ID})
	if err != nil {
		return 0, err
	}
	var doomed []treasury.Transaction
	for _, row := range linked {
		if IsGenerated(row, r) {
			doomed = append(doomed, row)
		}
	}
	if err := txs.Purge(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}
