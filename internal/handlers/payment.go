package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/gymledger/internal/middleware"
	"github.com/example/gymledger/internal/models"
	"github.com/example/gymledger/internal/services"
	"github.com/example/gymledger/internal/utils"
)

// PaymentHandler exposes settlement and ledger endpoints.
type PaymentHandler struct {
	settlement      *services.SettlementService
	transferFee     decimal.Decimal
	defaultCurrency string
	publicKey       string
	proofMaxBytes   int64
	validate        *validator.Validate
}

// PaymentHandlerConfig carries the billing settings the handler needs.
type PaymentHandlerConfig struct {
	TransferFee     decimal.Decimal
	DefaultCurrency string
	PublicKey       string
	ProofMaxBytes   int64
}

func NewPaymentHandler(settlement *services.SettlementService, cfg PaymentHandlerConfig) *PaymentHandler {
	return &PaymentHandler{
		settlement:      settlement,
		transferFee:     cfg.TransferFee,
		defaultCurrency: cfg.DefaultCurrency,
		publicKey:       cfg.PublicKey,
		proofMaxBytes:   cfg.ProofMaxBytes,
		validate:        validator.New(),
	}
}

type cardPaymentRequest struct {
	PayerID        string          `json:"payer_id" validate:"omitempty,uuid"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,alpha"`
	PaymentMethod  string          `json:"payment_method" validate:"required,startswith=pm_"`
	BillingEmail   string          `json:"billing_email" validate:"omitempty,email"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

type cardIntentRequest struct {
	PayerID        string          `json:"payer_id" validate:"omitempty,uuid"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"omitempty,len=3,alpha"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

type cardVerifyRequest struct {
	PayerID  string `json:"payer_id" validate:"omitempty,uuid"`
	IntentID string `json:"intent_id" validate:"required,startswith=pi_"`
}

type statusTransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=completed declined"`
}

// SettleCard charges a tokenized card and records the payment.
func (h *PaymentHandler) SettleCard(c *fiber.Ctx) error {
	var req cardPaymentRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	payerID, err := h.payerFor(c, req.PayerID)
	if err != nil {
		return err
	}

	result, err := h.settlement.SettleCardPayment(c.UserContext(), services.CardPaymentRequest{
		PayerID:        payerID,
		Amount:         req.Amount,
		Currency:       h.currencyOrDefault(req.Currency),
		Card:           services.CardDetails{PaymentMethodID: req.PaymentMethod},
		BillingEmail:   req.BillingEmail,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		return writeSettlementError(c, err)
	}
	return writeSettlementResult(c, result)
}

// CreateCardIntent opens an intent for browser-side card confirmation.
func (h *PaymentHandler) CreateCardIntent(c *fiber.Ctx) error {
	var req cardIntentRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	payerID, err := h.payerFor(c, req.PayerID)
	if err != nil {
		return err
	}

	intent, err := h.settlement.CreateCardIntent(c.UserContext(), payerID, req.Amount, h.currencyOrDefault(req.Currency), idempotencyKey(c, req.IdempotencyKey))
	if err != nil {
		return writeSettlementError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":       true,
		"intent_id":     intent.ID,
		"client_secret": intent.ClientSecret,
		"public_key":    h.publicKey,
	})
}

// VerifyCard records a browser-confirmed intent after checking it with the
// gateway.
func (h *PaymentHandler) VerifyCard(c *fiber.Ctx) error {
	var req cardVerifyRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	payerID, err := h.payerFor(c, req.PayerID)
	if err != nil {
		return err
	}

	result, err := h.settlement.VerifyCardPayment(c.UserContext(), payerID, req.IntentID)
	if err != nil {
		return writeSettlementError(c, err)
	}
	return writeSettlementResult(c, result)
}

// SettleTransfer accepts a multipart proof upload and records a pending
// transfer for the configured fee.
func (h *PaymentHandler) SettleTransfer(c *fiber.Ctx) error {
	payerID, err := h.payerFor(c, c.FormValue("payer_id"))
	if err != nil {
		return err
	}

	fh, err := c.FormFile("proof")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "proof file is required")
	}
	if h.proofMaxBytes > 0 && fh.Size > h.proofMaxBytes {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("proof file exceeds %d bytes", h.proofMaxBytes))
	}

	file, err := fh.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not read proof file")
	}
	defer file.Close()

	reader := io.Reader(file)
	if h.proofMaxBytes > 0 {
		reader = io.LimitReader(file, h.proofMaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not read proof file")
	}

	result, err := h.settlement.SettleTransferPayment(c.UserContext(), services.TransferPaymentRequest{
		PayerID:  payerID,
		Amount:   h.transferFee,
		Currency: h.defaultCurrency,
		Proof:    services.ProofFile{Filename: fh.Filename, Data: data},
	})
	if err != nil {
		return writeSettlementError(c, err)
	}
	return writeSettlementResult(c, result)
}

// ListPayments returns the filtered ledger, newest first.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	filter := ledgerFilterFromQuery(c)

	payments, err := h.settlement.ListPayments(c.UserContext(), filter, pg.Page, pg.Limit)
	if err != nil {
		return writeSettlementError(c, err)
	}

	total, err := h.settlement.CountPayments(c.UserContext(), filter)
	if err != nil {
		return writeSettlementError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    payments,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
			"has_next":       int64(pg.Page*pg.Limit) < total,
		},
	})
}

// ExportPayments streams the filtered ledger as an xlsx workbook.
func (h *PaymentHandler) ExportPayments(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := h.settlement.ExportLedger(c.UserContext(), ledgerFilterFromQuery(c), &buf); err != nil {
		return writeSettlementError(c, err)
	}

	fileName := fmt.Sprintf("payments_%s.xlsx", time.Now().Format("20060102"))
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", fileName))
	return c.Send(buf.Bytes())
}

// TransitionStatus applies a staff decision to a pending payment.
func (h *PaymentHandler) TransitionStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	var req statusTransitionRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	rec, err := h.settlement.TransitionStatus(c.UserContext(), id, req.Status)
	if err != nil {
		return writeSettlementError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": rec})
}

func (h *PaymentHandler) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

// payerFor returns the payer for this request. Clients always pay for
// themselves; staff may settle on behalf of a member.
func (h *PaymentHandler) payerFor(c *fiber.Ctx, requested string) (uuid.UUID, error) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	requested = strings.TrimSpace(requested)
	if requested == "" || requested == identity.UserID.String() {
		return identity.UserID, nil
	}
	if identity.Role != models.RoleAdmin && identity.Role != models.RoleCoach {
		return uuid.Nil, fiber.NewError(fiber.StatusForbidden, "cannot pay on behalf of another member")
	}

	id, err := uuid.Parse(requested)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid payer_id")
	}
	return id, nil
}

// idempotencyKey prefers the body field and falls back to the
// Idempotency-Key header.
func idempotencyKey(c *fiber.Ctx, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return strings.TrimSpace(c.Get("Idempotency-Key"))
}

func (h *PaymentHandler) currencyOrDefault(currency string) string {
	if strings.TrimSpace(currency) == "" {
		return h.defaultCurrency
	}
	return currency
}

func ledgerFilterFromQuery(c *fiber.Ctx) services.LedgerFilter {
	return services.LedgerFilter{
		Status:                 strings.TrimSpace(c.Query("status")),
		Method:                 strings.TrimSpace(c.Query("method")),
		IdentificationContains: strings.TrimSpace(c.Query("identification")),
	}
}

func writeSettlementResult(c *fiber.Ctx, result *services.SettlementResult) error {
	status := fiber.StatusCreated
	if result.AlreadyRecorded {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"success":          true,
		"already_recorded": result.AlreadyRecorded,
		"data":             result.Record,
	})
}

func writeSettlementError(c *fiber.Ctx, err error) error {
	var (
		validationErr *services.ValidationError
		gatewayErr    *services.GatewayError
		conflictErr   *services.ConflictError
		storageErr    *services.StorageError
	)

	switch {
	case errors.Is(err, services.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "payment not found"})
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   validationErr.Message,
			"field":   validationErr.Field,
		})
	case errors.As(err, &gatewayErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"success": false,
			"error":   gatewayErr.Message,
			"code":    gatewayErr.Code,
			"retry":   true,
		})
	case errors.As(err, &conflictErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":             false,
			"error":               "payment already recorded",
			"external_payment_id": conflictErr.ExternalPaymentID,
		})
	case errors.As(err, &storageErr):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"error":   "payment could not be saved, please try again",
			"retry":   true,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{
			"success": false,
			"error":   "request cancelled before the payment was recorded",
			"retry":   true,
		})
	}
	return err
}
