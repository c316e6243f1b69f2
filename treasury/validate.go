package treasury

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinYear = 2000
	MaxYear = 2100
)

// ValidateRequired fails when value is blank.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Validation(field, "El campo %s es obligatorio", field)
	}
	return nil
}

// ValidateMonth accepts 1-12.
func ValidateMonth(month int) error {
	if month < 1 || month > 12 {
		return Validation("month", "Mes inválido: %d (debe estar entre 1 y 12)", month)
	}
	return nil
}

// ValidateYear accepts MinYear-MaxYear.
func ValidateYear(year int) error {
	if year < MinYear || year > MaxYear {
		return Validation("year", "Año inválido: %d", year)
	}
	return nil
}

// ValidateNonNegative fails for values below zero.
func ValidateNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return Validation(field, "El campo %s no puede ser negativo", field)
	}
	return nil
}

// ValidatePositive fails for zero and negative values.
func ValidatePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return Validation(field, "El campo %s debe ser mayor a cero", field)
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// ParseDate accepts YYYY-MM-DD or RFC3339. The result is UTC.
func ParseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, Validation(field, "El campo %s es obligatorio", field)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Validation(field, "Fecha inválida en %s: %q", field, s)
}
