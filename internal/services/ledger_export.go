package services

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/example/gymledger/internal/models"
)

const (
	exportSheet    = "Payments"
	exportPageSize = 200
)

var exportHeaders = []string{
	"No", "Date", "Time", "Reference", "Identification", "Name",
	"Method", "Status", "Amount", "Currency", "Card",
}

var exportColumnWidths = []struct {
	from, to string
	width    float64
}{
	{"A", "A", 6},
	{"B", "C", 12},
	{"D", "D", 34},
	{"E", "F", 24},
	{"G", "K", 12},
}

// ExportLedger writes every entry matching filter to w as an xlsx workbook,
// newest first.
func (s *SettlementService) ExportLedger(ctx context.Context, filter LedgerFilter, w io.Writer) error {
	if err := filter.Validate(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return err
		}
	}

	styleHeader, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#9333EA"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	if err := f.SetCellStyle(exportSheet, "A1", lastHeader, styleHeader); err != nil {
		return err
	}

	row := 2
	for page := 1; ; page++ {
		records, err := s.ledger.List(ctx, filter, page, exportPageSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := writeExportRow(f, row, rec); err != nil {
				return err
			}
			row++
		}
		if len(records) < exportPageSize {
			break
		}
	}

	for _, col := range exportColumnWidths {
		if err := f.SetColWidth(exportSheet, col.from, col.to, col.width); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func writeExportRow(f *excelize.File, row int, rec models.PaymentRecord) error {
	amount, _ := rec.Amount.Float64()
	values := []any{
		row - 1,
		rec.CreatedAt.Format("2006-01-02"),
		rec.CreatedAt.Format("15:04"),
		rec.ExternalPaymentID,
		rec.PayerIdentification,
		rec.PayerName,
		rec.Method,
		rec.Status,
		amount,
		rec.Currency,
		rec.LastFourDigits,
	}
	for i, v := range values {
		if err := f.SetCellValue(exportSheet, fmt.Sprintf("%s%d", columnName(i+1), row), v); err != nil {
			return err
		}
	}
	return nil
}

func columnName(col int) string {
	name, _ := excelize.ColumnNumberToName(col)
	return name
}
