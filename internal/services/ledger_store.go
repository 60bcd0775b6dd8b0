package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/gymledger/internal/models"
)

// LedgerFilter narrows a ledger listing. Empty fields are ignored.
type LedgerFilter struct {
	Status                 string
	Method                 string
	IdentificationContains string
	PayerID                uuid.UUID
}

// Validate rejects unknown status or method values.
func (f LedgerFilter) Validate() error {
	if f.Status != "" && !models.IsValidPaymentStatus(f.Status) {
		return validationErr("status", "unknown payment status "+f.Status)
	}
	if f.Method != "" && !models.IsValidPaymentMethod(f.Method) {
		return validationErr("method", "unknown payment method "+f.Method)
	}
	return nil
}

// LedgerStore persists payment records. The unique index on
// external_payment_id is the only guard against duplicate settlement.
type LedgerStore struct {
	db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Insert writes a new ledger entry. A duplicate external id yields a
// *ConflictError and leaves the existing row untouched.
func (s *LedgerStore) Insert(ctx context.Context, rec *models.PaymentRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return &ConflictError{ExternalPaymentID: rec.ExternalPaymentID, Err: err}
		}
		return &StorageError{Op: "insert payment", Err: err}
	}
	return nil
}

// FindByExternalID returns the record with the given gateway or transfer id.
func (s *LedgerStore) FindByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := s.db.WithContext(ctx).
		Where("external_payment_id = ?", externalID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, &StorageError{Op: "find payment", Err: err}
	}
	return &rec, nil
}

func (s *LedgerStore) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, &StorageError{Op: "find payment", Err: err}
	}
	return &rec, nil
}

// TransitionStatus moves a pending record to completed or declined. The
// update is conditional on the current status so concurrent reconcilers
// cannot both win.
func (s *LedgerStore) TransitionStatus(ctx context.Context, id uuid.UUID, status string) (*models.PaymentRecord, error) {
	if status != models.PaymentStatusCompleted && status != models.PaymentStatusDeclined {
		return nil, &ValidationError{Field: "status", Message: "target must be completed or declined", Err: ErrInvalidTransition}
	}

	res := s.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Update("status", status)
	if res.Error != nil {
		return nil, &StorageError{Op: "update payment status", Err: res.Error}
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, &ValidationError{
			Field:   "status",
			Message: "payment is " + rec.Status + ", only pending payments can change status",
			Err:     ErrInvalidTransition,
		}
	}
	return rec, nil
}

// List returns one page of records, newest first.
func (s *LedgerStore) List(ctx context.Context, filter LedgerFilter, page, pageSize int) ([]models.PaymentRecord, error) {
	records := make([]models.PaymentRecord, 0, pageSize)
	if err := s.filtered(ctx, filter).
		Order("created_at desc").
		Order("id desc").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&records).Error; err != nil {
		return nil, &StorageError{Op: "list payments", Err: err}
	}
	return records, nil
}

// Count returns the number of records matching filter.
func (s *LedgerStore) Count(ctx context.Context, filter LedgerFilter) (int64, error) {
	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, &StorageError{Op: "count payments", Err: err}
	}
	return total, nil
}

func (s *LedgerStore) filtered(ctx context.Context, filter LedgerFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.PaymentRecord{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.PayerID != uuid.Nil {
		query = query.Where("payer_id = ?", filter.PayerID)
	}
	if needle := strings.TrimSpace(filter.IdentificationContains); needle != "" {
		query = query.Where("LOWER(payer_identification) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(needle))+"%")
	}
	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
