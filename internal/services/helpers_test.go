package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/gymledger/internal/models"
)

var (
	pngProof = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfProof = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	txtProof = []byte("this is definitely not a bank receipt\n")
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.PaymentRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name, identification, email string) models.User {
	t.Helper()
	user := models.User{
		Name:  name,
		Email: email,
		Role:  models.RoleClient,
	}
	if identification != "" {
		user.Identification = &identification
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.PaymentRecord{}).Count(&n).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	return n
}

// fakeGateway settles every confirmation with charge. Intents created with
// a repeated idempotency key are returned again; the payer each intent was
// opened for is reported back on its charge.
type fakeGateway struct {
	mu sync.Mutex

	intentID   string
	charge     *Charge
	createErr  error
	confirmErr error
	lookupErr  error
	onConfirm  func()

	intentPayers map[string]string
	intentKeys   map[string]string

	createCalls    int
	confirmCalls   int
	lookupCalls    int
	lastAmount     int64
	lastCurrency   string
	lastEmail      string
	lastIntentKey  string
	lastConfirmKey string
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastAmount = req.AmountMinorUnits
	g.lastCurrency = req.Currency
	g.lastIntentKey = req.IdempotencyKey
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.intentPayers == nil {
		g.intentPayers = map[string]string{}
		g.intentKeys = map[string]string{}
	}

	id, replayed := g.intentKeys[req.IdempotencyKey]
	if !replayed || req.IdempotencyKey == "" {
		id = g.intentID
		if id == "" {
			id = "pi_123"
		}
		g.intentPayers[id] = req.PayerID
		if req.IdempotencyKey != "" {
			g.intentKeys[req.IdempotencyKey] = id
		}
	}
	return &Intent{ID: id, ClientSecret: id + "_secret_test"}, nil
}

func (g *fakeGateway) Confirm(ctx context.Context, clientSecret string, card CardDetails, billingEmail, idempotencyKey string) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmCalls++
	g.lastEmail = billingEmail
	g.lastConfirmKey = idempotencyKey
	if g.onConfirm != nil {
		g.onConfirm()
	}
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	return g.settled(), nil
}

func (g *fakeGateway) Lookup(ctx context.Context, intentID string) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookupCalls++
	if g.lookupErr != nil {
		return nil, g.lookupErr
	}
	if g.charge == nil {
		return nil, &GatewayError{Code: "resource_missing", Message: "no such payment intent"}
	}
	return g.settled(), nil
}

func (g *fakeGateway) settled() *Charge {
	c := *g.charge
	if c.PayerID == "" {
		c.PayerID = g.intentPayers[c.TransactionID]
	}
	return &c
}

type fakeStorage struct {
	calls int
	err   error
}

func (s *fakeStorage) Store(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "/uploads/" + filename, nil
}

type countingDirectory struct {
	next  PayerDirectory
	calls int
}

func (d *countingDirectory) Resolve(ctx context.Context, id uuid.UUID) (*Payer, error) {
	d.calls++
	return d.next.Resolve(ctx, id)
}

func (d *countingDirectory) FindByEmail(ctx context.Context, email string) (*Payer, error) {
	d.calls++
	return d.next.FindByEmail(ctx, email)
}

func (d *countingDirectory) FindByIdentification(ctx context.Context, identification string) (*Payer, error) {
	d.calls++
	return d.next.FindByIdentification(ctx, identification)
}

type recordingNotifier struct {
	records []models.PaymentRecord
	err     error
}

func (n *recordingNotifier) NotifySettlement(ctx context.Context, rec *models.PaymentRecord) error {
	n.records = append(n.records, *rec)
	return n.err
}

var errBoom = errors.New("boom")
