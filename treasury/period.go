package treasury

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One calendar month for one church
// =============================================================================

// Period is a reporting month. Reports and monthly ledgers are keyed by
// (church, Period).
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year, month int) Period {
	return Period{Year: year, Month: time.Month(month)}
}

// Validate checks the month and year ranges.
func (p Period) Validate() error {
	if err := ValidateMonth(int(p.Month)); err != nil {
		return err
	}
	return ValidateYear(p.Year)
}

// Start is the first day of the month, UTC midnight.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last calendar day of the month, UTC midnight.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Next is the following month.
func (p Period) Next() Period {
	t := p.Start().AddDate(0, 1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Previous is the preceding month.
func (p Period) Previous() Period {
	t := p.Start().AddDate(0, -1, 0)
	return Period{Year: t.Year(), Month: t.Month()}
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// Label is the Spanish display name, e.g. "marzo 2025". Generated ledger
// concepts embed it, so changing it changes regeneration matching.
func (p Period) Label() string {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Sprintf("%02d/%d", int(p.Month), p.Year)
	}
	return fmt.Sprintf("%s %d", monthNames[p.Month-1], p.Year)
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }
