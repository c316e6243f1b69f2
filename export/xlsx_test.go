package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/church-treasury/ledger"
	"github.com/warp/church-treasury/treasury"
)

func row(date string, in, out int64, church treasury.ChurchID, concept string) treasury.Transaction {
	t, _ := time.Parse("2006-01-02", date)
	return treasury.Transaction{
		Date: t, ChurchID: church, Concept: concept,
		AmountIn: decimal.NewFromInt(in), AmountOut: decimal.NewFromInt(out),
	}
}

func TestLedgerXLSX(t *testing.T) {
	// GIVEN: a fund with three rows
	view := ledger.Fold(treasury.Fund{Name: "Fondo General"}, []treasury.Transaction{
		row("2025-03-01", 200, 0, "c-1", "Ingresos"),
		row("2025-03-05", 0, 40, "c-1", "Agua"),
		row("2025-03-09", 15, 0, "", "Aporte"),
	}, nil, nil)

	// WHEN
	var buf bytes.Buffer
	require.NoError(t, LedgerXLSX(&buf, view))

	// THEN
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	get := func(cell string) string {
		v, err := f.GetCellValue(sheetName, cell)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Fondo General", get("B1"))
	assert.Equal(t, "Saldo", get("G4"))
	assert.Equal(t, "2025-03-01", get("A5"))
	assert.Equal(t, "200", get("G5"))
	assert.Equal(t, "160", get("G6"))
	assert.Equal(t, "Nacional", get("D7"))
	assert.Equal(t, "175", get("G7"))
	assert.Equal(t, "Totales", get("B8"))
	assert.Equal(t, "215", get("E8"))
	assert.Equal(t, "40", get("F8"))
}

func TestLedgerXLSXEmptyView(t *testing.T) {
	view := ledger.Fold(treasury.Fund{Name: "Misiones"}, nil, nil, nil)

	f, err := LedgerWorkbook(view)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue(sheetName, "B5")
	require.NoError(t, err)
	assert.Equal(t, "Totales", v)
}
