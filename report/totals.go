package report

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/church-treasury/treasury"
)

// NationalFundRate is the share of tithes + offerings owed to the national fund.
var NationalFundRate = decimal.RequireFromString("0.10")

// CalculateTotals derives every computed field from the raw inputs.
//
//	base          = tithes + offerings
//	income        = base + annexes + other + designated
//	nationalFund  = round(base * 0.10), half away from zero
//	honorarium    = max(0, income - (designated + operating + nationalFund))
//	expenses      = designated + operating + nationalFund + honorarium
//	closing       = income - expenses
//
// The honorarium absorbs the residual, so closing is zero unless the
// honorarium was floored.
func CalculateTotals(in RawInputs) Totals {
	base := in.Tithes.Add(in.Offerings)
	designated := in.Designated.Total()
	operating := in.Operating.Total()
	income := treasury.Sum(base, in.Annexes, in.OtherIncome, designated)
	national := base.Mul(NationalFundRate).Round(0)

	committed := treasury.Sum(designated, operating, national)
	honorarium := income.Sub(committed)
	if honorarium.IsNegative() {
		honorarium = decimal.Zero
	}
	expenses := committed.Add(honorarium)

	return Totals{
		CongregationalBase: base,
		TotalDesignated:    designated,
		OperatingExpenses:  operating,
		TotalIncome:        income,
		NationalFund:       national,
		Honorarium:         honorarium,
		TotalExpenses:      expenses,
		ClosingBalance:     income.Sub(expenses),
	}
}

// ValidateInputs rejects negative raw figures.
func ValidateInputs(in RawInputs) error {
	fields := in.fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := treasury.ValidateNonNegative(name, *fields[name]); err != nil {
			return err
		}
	}
	return nil
}
