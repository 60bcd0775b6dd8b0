package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment statuses.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusDeclined  = "declined"
)

// Payment methods.
const (
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodCash     = "cash"
)

// PaymentRecord is one ledger entry. Payer fields are a snapshot taken at
// write time. Only Status may change after creation.
type PaymentRecord struct {
	BaseModel
	ExternalPaymentID   string          `gorm:"column:external_payment_id;uniqueIndex;not null" json:"external_payment_id"`
	PayerID             uuid.UUID       `gorm:"type:uuid;index" json:"payer_id"`
	PayerIdentification string          `gorm:"index" json:"payer_identification"`
	PayerName           string          `json:"payer_name"`
	Status              string          `gorm:"index;not null" json:"status"`
	Amount              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency            string          `gorm:"type:char(3);not null" json:"currency"`
	Method              string          `gorm:"index;not null" json:"method"`
	LastFourDigits      string          `json:"last_four_digits,omitempty"`
	ReceiptURL          string          `json:"receipt_url,omitempty"`
	ProofURL            string          `json:"proof_url,omitempty"`
}

// TableName keeps the ledger table name stable for reconciliation scripts.
func (PaymentRecord) TableName() string { return "payments" }

// IsValidPaymentStatus reports whether s is a known status.
func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusDeclined:
		return true
	}
	return false
}

// IsValidPaymentMethod reports whether m is a known method.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCard, PaymentMethodTransfer, PaymentMethodCash:
		return true
	}
	return false
}
