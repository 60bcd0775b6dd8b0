package services

import (
	"errors"
	"fmt"
)

var (
	ErrPayerNotFound     = errors.New("payer not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError is a caller-correctable rejection. It never follows a
// ledger write.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// GatewayError covers every card processor failure: declines, unreachable
// processor, invalid or expired secrets and malformed responses.
type GatewayError struct {
	Code    string
	Message string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Code)
	}
	return "gateway: " + e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// StorageError reports a failed artifact upload or ledger write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConflictError reports a duplicate external payment id.
type ConflictError struct {
	ExternalPaymentID string
	Err               error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: payment %s already recorded", e.ExternalPaymentID)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func validationErr(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
