package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/gymledger/internal/models"
)

func TestExportLedger(t *testing.T) {
	f := newSettlementFixture(t)
	store := NewLedgerStore(f.db)
	base := time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		seedPayment(t, store, fmt.Sprintf("TRANSFER-%d", i), "V-1", models.PaymentStatusPending, models.PaymentMethodTransfer, base.Add(time.Duration(i)*time.Hour))
	}
	seedPayment(t, store, "pi_9", "V-2", models.PaymentStatusCompleted, models.PaymentMethodCard, base.Add(5*time.Hour))

	var buf bytes.Buffer
	if err := f.svc.ExportLedger(context.Background(), LedgerFilter{Method: models.PaymentMethodTransfer}, &buf); err != nil {
		t.Fatalf("ExportLedger: %v", err)
	}

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows("Payments")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "No" || rows[0][3] != "Reference" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][3] != "TRANSFER-2" || rows[3][3] != "TRANSFER-0" {
		t.Fatalf("rows not newest first: %v / %v", rows[1], rows[3])
	}
	if rows[1][1] != "2026-05-10" || rows[1][2] != "10:30" {
		t.Fatalf("date columns = %v", rows[1][1:3])
	}

	if width, err := book.GetColWidth("Payments", "D"); err != nil || width != 34 {
		t.Fatalf("reference column width = %v, %v", width, err)
	}
}

func TestExportLedgerReportsColumnWidthErrors(t *testing.T) {
	f := newSettlementFixture(t)

	saved := exportColumnWidths
	t.Cleanup(func() { exportColumnWidths = saved })
	exportColumnWidths = append(exportColumnWidths[:0:0], exportColumnWidths...)
	exportColumnWidths[2].width = 300

	var buf bytes.Buffer
	err := f.svc.ExportLedger(context.Background(), LedgerFilter{}, &buf)
	if !errors.Is(err, excelize.ErrColumnWidth) {
		t.Fatalf("expected column width error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %d bytes after a failed export", buf.Len())
	}
}

func TestExportLedgerRejectsInvalidFilter(t *testing.T) {
	f := newSettlementFixture(t)

	var buf bytes.Buffer
	err := f.svc.ExportLedger(context.Background(), LedgerFilter{Status: "bogus"}, &buf)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("wrote %d bytes for an invalid filter", buf.Len())
	}
}
