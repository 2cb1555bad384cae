package payments

import (
	"context"
	"errors"

	baserepo "github.com/AbeJitsu/need-this-done-backend/internal/repo"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for payment attempts. It is the only
// writer of the payment_attempts table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	Update(ctx context.Context, attempt *models.PaymentAttempt) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error)
	FindLatestByOrderID(ctx context.Context, orderID string) (*models.PaymentAttempt, error)
	ListByOrderID(ctx context.Context, orderID string) ([]models.PaymentAttempt, error)
	CountByOrderID(ctx context.Context, orderID string) (int64, error)
}

type repository struct {
	baserepo.Base
}

// NewRepository returns a payment attempt repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: baserepo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: baserepo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.DB(ctx).Create(attempt).Error
}

func (r *repository) Update(ctx context.Context, attempt *models.PaymentAttempt) error {
	// Save on a zero primary key would INSERT a duplicate row instead of
	// updating the audit record.
	if attempt.ID == uuid.Nil {
		return errors.New("payment attempt id is required")
	}
	return r.DB(ctx).Save(attempt).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.DB(ctx).
		Where("idempotency_key = ?", key).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) FindLatestByOrderID(ctx context.Context, orderID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	if err := r.DB(ctx).
		Where("order_id = ?", orderID).
		Order("attempted_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) CountByOrderID(ctx context.Context, orderID string) (int64, error) {
	var count int64
	if err := r.DB(ctx).
		Model(&models.PaymentAttempt{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
