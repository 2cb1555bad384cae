package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
)

// PaymentAttempt records one attempted charge against an order. Rows are
// never deleted; the table is the audit trail for every charge outcome.
type PaymentAttempt struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               string              `gorm:"column:order_id;not null;index"`
	AttemptNumber         int                 `gorm:"column:attempt_number;not null;default:1"`
	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null;default:'card'"`
	StripePaymentMethodID *string             `gorm:"column:stripe_payment_method_id"`
	AmountCents           int64               `gorm:"column:amount_cents;not null;default:0"`
	Status                enums.AttemptStatus `gorm:"column:status;type:attempt_status;not null;default:'processing'"`
	DeclineCode           *string             `gorm:"column:decline_code"`
	ErrorMessage          *string             `gorm:"column:error_message"`
	PaymentIntentID       *string             `gorm:"column:payment_intent_id"`
	CollectedByAdminID    *uuid.UUID          `gorm:"column:collected_by_admin_id;type:uuid"`
	IdempotencyKey        *string             `gorm:"column:idempotency_key;uniqueIndex:idx_payment_attempts_idempotency_key"`
	AttemptedAt           time.Time           `gorm:"column:attempted_at;not null"`
	SucceededAt           *time.Time          `gorm:"column:succeeded_at"`
	FailedAt              *time.Time          `gorm:"column:failed_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
