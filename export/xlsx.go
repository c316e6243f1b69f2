/*
xlsx.go - Fund ledger export

PURPOSE:
  Renders a ledger.View as a single-sheet workbook: a header block with the
  fund and the opening balance, one line per transaction with its folded
  running balance, and a totals line.

  Amounts are written as numbers so spreadsheets can sum them; the decimal
  values are converted at the last moment with InexactFloat64.
*/
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/church-treasury/ledger"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const sheetName = "Libro"

var headers = []string{"Fecha", "Concepto", "Documento", "Iglesia", "Ingreso", "Egreso", "Saldo"}

// headerRow is the row holding the column titles; transactions start below it.
const headerRow = 4

// LedgerXLSX writes view as an .xlsx workbook to w.
func LedgerXLSX(w io.Writer, view *ledger.View) error {
	f, err := LedgerWorkbook(view)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// LedgerWorkbook builds the workbook without writing it.
func LedgerWorkbook(view *ledger.View) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	set := func(col, row int, value any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		f.SetCellValue(sheetName, cell, value)
	}

	set(1, 1, "Fondo")
	set(2, 1, view.Fund.Name)
	set(1, 2, "Saldo inicial")
	set(7, 2, view.Opening.InexactFloat64())

	for i, h := range headers {
		set(i+1, headerRow, h)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		first, _ := excelize.CoordinatesToCellName(1, headerRow)
		last, _ := excelize.CoordinatesToCellName(len(headers), headerRow)
		f.SetCellStyle(sheetName, first, last, bold)
	}

	row := headerRow + 1
	for _, r := range view.Rows {
		tx := r.Transaction
		church := string(tx.ChurchID)
		if tx.IsNational() {
			church = "Nacional"
		}
		set(1, row, tx.Date.Format("2006-01-02"))
		set(2, row, tx.Concept)
		set(3, row, tx.DocumentNumber)
		set(4, row, church)
		set(5, row, tx.AmountIn.InexactFloat64())
		set(6, row, tx.AmountOut.InexactFloat64())
		set(7, row, r.RunningBalance.InexactFloat64())
		row++
	}

	set(2, row, "Totales")
	set(5, row, view.TotalIn.InexactFloat64())
	set(6, row, view.TotalOut.InexactFloat64())
	set(7, row, view.Closing.InexactFloat64())

	f.SetColWidth(sheetName, "A", "A", 12)
	f.SetColWidth(sheetName, "B", "B", 45)
	f.SetColWidth(sheetName, "C", "D", 15)
	f.SetColWidth(sheetName, "E", "G", 14)

	return f, nil
}
