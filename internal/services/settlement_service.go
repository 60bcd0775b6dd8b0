package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/gymledger/internal/models"
)

// SupportedCurrencies is the fixed set of ledger currencies.
var SupportedCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
	"CAD": true,
	"MXN": true,
	"COP": true,
	"PEN": true,
}

const (
	maxTransferIDAttempts = 3
	maxIdempotencyKeyLen  = 128
)

// Notifier is told about every committed ledger write. Failures are logged
// and never affect the settlement result.
type Notifier interface {
	NotifySettlement(ctx context.Context, rec *models.PaymentRecord) error
}

// CardPaymentRequest is one card payment attempt. Retries of the same
// attempt must reuse IdempotencyKey so the gateway charges once.
type CardPaymentRequest struct {
	PayerID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Card           CardDetails
	BillingEmail   string
	IdempotencyKey string
}

type TransferPaymentRequest struct {
	PayerID  uuid.UUID
	Amount   decimal.Decimal
	Currency string
	Proof    ProofFile
}

// SettlementResult carries the ledger entry produced by an attempt.
// AlreadyRecorded is set when the payment had been written by an earlier
// attempt and this one resolved to that record.
type SettlementResult struct {
	Record          *models.PaymentRecord
	AlreadyRecorded bool
}

// SettlementService drives a payment attempt to exactly one ledger entry,
// or none on failure.
type SettlementService struct {
	ledger    *LedgerStore
	gateway   Gateway
	intake    *TransferIntake
	payers    PayerDirectory
	notifiers []Notifier
	now       func() time.Time

	newTransferID func() string
}

func NewSettlementService(ledger *LedgerStore, gateway Gateway, intake *TransferIntake, payers PayerDirectory, notifiers ...Notifier) *SettlementService {
	s := &SettlementService{
		ledger:    ledger,
		gateway:   gateway,
		intake:    intake,
		payers:    payers,
		notifiers: notifiers,
		now:       time.Now,
	}
	s.newTransferID = s.timestampTransferID
	return s
}

// SettleCardPayment creates a gateway intent for the amount, confirms it with
// the card and records a completed entry on success.
func (s *SettlementService) SettleCardPayment(ctx context.Context, req CardPaymentRequest) (*SettlementResult, error) {
	currency, minor, err := normalizeCharge(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Card.PaymentMethodID) == "" {
		return nil, validationErr("card", "card details are required")
	}
	key, err := normalizeIdempotencyKey(req.IdempotencyKey, true)
	if err != nil {
		return nil, err
	}

	payer, err := s.resolvePayer(ctx, req.PayerID)
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, req.PayerID, req.Amount, err)
	}

	intent, err := s.gateway.CreateIntent(ctx, IntentRequest{
		AmountMinorUnits: minor,
		Currency:         currency,
		PayerID:          payer.ID.String(),
		IdempotencyKey:   gatewayKey(payer.ID, key, "intent"),
	})
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, req.PayerID, req.Amount, err)
	}

	email := req.BillingEmail
	if email == "" {
		email = payer.Email
	}

	// The card is part of the key so a retry with another card is a new
	// confirmation, while a double submit replays the first one.
	confirmKey := gatewayKey(payer.ID, key, "confirm:"+req.Card.PaymentMethodID)
	charge, err := s.gateway.Confirm(ctx, intent.ClientSecret, req.Card, email, confirmKey)
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) || !gwErr.Timeout || ctx.Err() != nil {
			return nil, s.fail(models.PaymentMethodCard, req.PayerID, req.Amount, err)
		}

		log.Printf("[Settlement] confirmation of %s timed out, checking status", intent.ID)
		charge, err = s.gateway.Lookup(ctx, intent.ID)
		if err != nil {
			return nil, s.fail(models.PaymentMethodCard, req.PayerID, req.Amount, &GatewayError{
				Code:    "timeout",
				Message: "payment confirmation timed out, please try again",
				Timeout: true,
				Err:     err,
			})
		}
	}

	return s.recordCharge(ctx, payer, charge)
}

// CreateCardIntent opens a gateway intent for clients that confirm the card
// with the gateway's browser SDK. The result is recorded later through
// VerifyCardPayment. idempotencyKey is optional here.
func (s *SettlementService) CreateCardIntent(ctx context.Context, payerID uuid.UUID, amount decimal.Decimal, currency, idempotencyKey string) (*Intent, error) {
	currency, minor, err := normalizeCharge(amount, currency)
	if err != nil {
		return nil, err
	}
	key, err := normalizeIdempotencyKey(idempotencyKey, false)
	if err != nil {
		return nil, err
	}
	payer, err := s.resolvePayer(ctx, payerID)
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, payerID, amount, err)
	}

	req := IntentRequest{AmountMinorUnits: minor, Currency: currency, PayerID: payer.ID.String()}
	if key != "" {
		req.IdempotencyKey = gatewayKey(payer.ID, key, "intent")
	}
	intent, err := s.gateway.CreateIntent(ctx, req)
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, payerID, amount, err)
	}
	return intent, nil
}

// VerifyCardPayment asks the gateway for the intent's state and records it
// only if the gateway reports it settled for this payer. Client-reported
// success is never trusted on its own.
func (s *SettlementService) VerifyCardPayment(ctx context.Context, payerID uuid.UUID, intentID string) (*SettlementResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, validationErr("intent_id", "payment intent id is required")
	}

	payer, err := s.resolvePayer(ctx, payerID)
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, payerID, decimal.Zero, err)
	}

	charge, err := s.gateway.Lookup(ctx, intentID)
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, payerID, decimal.Zero, err)
	}

	return s.recordCharge(ctx, payer, charge)
}

// SettleTransferPayment validates and stores the proof, then records a
// pending transfer entry for staff review.
func (s *SettlementService) SettleTransferPayment(ctx context.Context, req TransferPaymentRequest) (*SettlementResult, error) {
	contentType, err := s.intake.Validate(req.Proof)
	if err != nil {
		return nil, err
	}
	currency, _, err := normalizeCharge(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	payer, err := s.resolvePayer(ctx, req.PayerID)
	if err != nil {
		return nil, s.fail(models.PaymentMethodTransfer, req.PayerID, req.Amount, err)
	}

	proofRef, err := s.intake.Accept(ctx, req.Proof, contentType)
	if err != nil {
		return nil, s.fail(models.PaymentMethodTransfer, req.PayerID, req.Amount, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxTransferIDAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(models.PaymentMethodTransfer, req.PayerID, req.Amount, err)
		}

		rec := &models.PaymentRecord{
			ExternalPaymentID:   s.newTransferID(),
			PayerID:             payer.ID,
			PayerIdentification: payer.Identification,
			PayerName:           payer.Name,
			Status:              models.PaymentStatusPending,
			Amount:              req.Amount.Round(2),
			Currency:            currency,
			Method:              models.PaymentMethodTransfer,
			ProofURL:            proofRef,
		}

		err := s.ledger.Insert(ctx, rec)
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, s.fail(models.PaymentMethodTransfer, req.PayerID, req.Amount, err)
		}

		s.notify(ctx, rec)
		return &SettlementResult{Record: rec}, nil
	}

	return nil, s.fail(models.PaymentMethodTransfer, req.PayerID, req.Amount, lastErr)
}

// TransitionStatus applies a staff reconciliation decision to a pending
// entry.
func (s *SettlementService) TransitionStatus(ctx context.Context, id uuid.UUID, status string) (*models.PaymentRecord, error) {
	rec, err := s.ledger.TransitionStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	log.Printf("[Settlement] payment %s moved to %s", rec.ExternalPaymentID, rec.Status)
	s.notify(ctx, rec)
	return rec, nil
}

// ListPayments returns one page of the ledger, newest first.
func (s *SettlementService) ListPayments(ctx context.Context, filter LedgerFilter, page, pageSize int) ([]models.PaymentRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.ledger.List(ctx, filter, page, pageSize)
}

// CountPayments returns how many entries match filter.
func (s *SettlementService) CountPayments(ctx context.Context, filter LedgerFilter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	return s.ledger.Count(ctx, filter)
}

func (s *SettlementService) recordCharge(ctx context.Context, payer *Payer, charge *Charge) (*SettlementResult, error) {
	if charge.PayerID != payer.ID.String() {
		return nil, s.fail(models.PaymentMethodCard, payer.ID, decimal.Zero, &ValidationError{
			Field:   "intent_id",
			Message: "payment intent was not opened for this payer",
		})
	}

	currency := strings.ToUpper(charge.Currency)
	if !SupportedCurrencies[currency] {
		return nil, s.fail(models.PaymentMethodCard, payer.ID, decimal.Zero, &GatewayError{
			Code:    "unexpected_response",
			Message: "gateway settled in unsupported currency " + currency,
		})
	}

	amount := decimal.New(charge.SettledAmountMinorUnits, -2)
	rec := &models.PaymentRecord{
		ExternalPaymentID:   charge.TransactionID,
		PayerID:             payer.ID,
		PayerIdentification: payer.Identification,
		PayerName:           payer.Name,
		Status:              models.PaymentStatusCompleted,
		Amount:              amount,
		Currency:            currency,
		Method:              models.PaymentMethodCard,
		LastFourDigits:      charge.LastFourDigits,
		ReceiptURL:          charge.ReceiptURL,
	}

	if err := ctx.Err(); err != nil {
		return nil, s.fail(models.PaymentMethodCard, payer.ID, amount, err)
	}

	err := s.ledger.Insert(ctx, rec)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		existing, findErr := s.ledger.FindByExternalID(ctx, rec.ExternalPaymentID)
		if findErr != nil || existing.PayerID != payer.ID {
			return nil, s.fail(models.PaymentMethodCard, payer.ID, amount, err)
		}
		log.Printf("[Settlement] payment %s already recorded, returning existing entry", rec.ExternalPaymentID)
		return &SettlementResult{Record: existing, AlreadyRecorded: true}, nil
	}
	if err != nil {
		return nil, s.fail(models.PaymentMethodCard, payer.ID, amount, err)
	}

	s.notify(ctx, rec)
	return &SettlementResult{Record: rec}, nil
}

func (s *SettlementService) resolvePayer(ctx context.Context, payerID uuid.UUID) (*Payer, error) {
	if payerID == uuid.Nil {
		return nil, validationErr("payer_id", "payer is required")
	}
	payer, err := s.payers.Resolve(ctx, payerID)
	if err != nil {
		if errors.Is(err, ErrPayerNotFound) {
			return nil, &ValidationError{Field: "payer_id", Message: "payer not found", Err: err}
		}
		return nil, &StorageError{Op: "resolve payer", Err: err}
	}
	if payer.Identification == "" {
		return nil, validationErr("payer_id", "payer has no identification on file")
	}
	return payer, nil
}

// notify runs after the ledger write has committed, so it must not observe
// the caller's cancellation.
func (s *SettlementService) notify(ctx context.Context, rec *models.PaymentRecord) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range s.notifiers {
		if err := n.NotifySettlement(ctx, rec); err != nil {
			log.Printf("[Settlement] notification for %s failed: %v", rec.ExternalPaymentID, err)
		}
	}
}

func (s *SettlementService) fail(method string, payerID uuid.UUID, amount decimal.Decimal, err error) error {
	log.Printf("[Settlement] %s payment for payer %s (%s) failed: %v", method, payerID, amount.StringFixed(2), err)
	return fmt.Errorf("settle %s payment payer=%s amount=%s: %w", method, payerID, amount.StringFixed(2), err)
}

// timestampTransferID builds TRANSFER-<unix millis>-<random suffix>.
func (s *SettlementService) timestampTransferID() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TRANSFER-%d-%s", s.now().UnixMilli(), suffix)
}

// normalizeIdempotencyKey trims key and enforces its length.
func normalizeIdempotencyKey(key string, required bool) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" && required {
		return "", validationErr("idempotency_key", "idempotency key is required")
	}
	if len(key) > maxIdempotencyKeyLen {
		return "", validationErr("idempotency_key", fmt.Sprintf("idempotency key exceeds %d characters", maxIdempotencyKeyLen))
	}
	return key, nil
}

// gatewayKey scopes a client key to the payer and the gateway call, so two
// members can never replay each other's requests.
func gatewayKey(payerID uuid.UUID, key, call string) string {
	return "gymledger:" + payerID.String() + ":" + key + ":" + call
}

// normalizeCharge upper-cases the currency and converts amount to minor
// units, rejecting non-positive amounts and sub-cent precision.
func normalizeCharge(amount decimal.Decimal, currency string) (string, int64, error) {
	if !amount.IsPositive() {
		return "", 0, validationErr("amount", "amount must be greater than zero")
	}
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return "", 0, validationErr("amount", "amount must have at most two decimal places")
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !SupportedCurrencies[currency] {
		return "", 0, validationErr("currency", "unsupported currency "+currency)
	}
	return currency, minor.IntPart(), nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
