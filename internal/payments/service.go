package payments

import (
	"context"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/internal/reliability"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db/models"
	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
	pkgerrors "github.com/AbeJitsu/need-this-done-backend/pkg/errors"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
	"github.com/google/uuid"
)

const idempotencyConstraint = "idx_payment_attempts_idempotency_key"

// Service is the durable, idempotent ledger of payment attempts per order.
type Service interface {
	CreateAttempt(ctx context.Context, input CreateAttemptInput) (*models.PaymentAttempt, error)
	UpdateAttempt(ctx context.Context, orderID string, updates UpdateAttemptInput) (*models.PaymentAttempt, error)
	ListAttempts(ctx context.Context, orderID string) []models.PaymentAttempt
	GetStats(ctx context.Context, orderID string) AttemptStats
	CheckIdempotency(ctx context.Context, key string) (*models.PaymentAttempt, error)
}

// CreateAttemptInput captures a new charge attempt. AmountCents defaults to
// zero and Status always starts at processing.
type CreateAttemptInput struct {
	OrderID               string
	PaymentMethod         enums.PaymentMethod
	AmountCents           int64
	StripePaymentMethodID *string
	PaymentIntentID       *string
	CollectedByAdminID    *uuid.UUID
	IdempotencyKey        string
}

// UpdateAttemptInput carries the terminal outcome and diagnostics for the
// most recent attempt of an order.
type UpdateAttemptInput struct {
	Status          enums.AttemptStatus
	DeclineCode     *string
	ErrorMessage    *string
	PaymentIntentID *string
	At              time.Time
}

// AttemptStats summarizes the attempt history of one order.
type AttemptStats struct {
	Total       int                    `json:"total"`
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Processing  int                    `json:"processing"`
	LastAttempt *models.PaymentAttempt `json:"last_attempt,omitempty"`
}

type ServiceParams struct {
	Repo       Repository
	Logger     *logger.Logger
	MaxRetries int
	Metrics    reliability.RetryMetrics
}

type service struct {
	repo       Repository
	logg       *logger.Logger
	maxRetries int
	metrics    reliability.RetryMetrics
}

// NewService wires the payment attempt ledger with its repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	}
	return &service{
		repo:       params.Repo,
		logg:       params.Logger,
		maxRetries: params.MaxRetries,
		metrics:    params.Metrics,
	}, nil
}

// CreateAttempt inserts a new processing attempt. When an idempotency key is
// supplied and a matching record already exists, that record is returned
// unchanged. Losing the insert race on the idempotency unique index is
// handled the same way: re-fetch and return the winner's row.
func (s *service) CreateAttempt(ctx context.Context, input CreateAttemptInput) (*models.PaymentAttempt, error) {
	if input.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	if input.AmountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}

	if input.IdempotencyKey != "" {
		existing, err := s.CheckIdempotency(ctx, input.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	attemptNumber, err := db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:  "countPaymentAttempts",
		MaxRetries: s.maxRetries,
		Metrics:    s.metrics,
	}, func(ctx context.Context) (int64, error) {
		return s.repo.CountByOrderID(ctx, input.OrderID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count payment attempts")
	}

	attempt := &models.PaymentAttempt{
		ID:                    uuid.New(),
		OrderID:               input.OrderID,
		AttemptNumber:         int(attemptNumber) + 1,
		PaymentMethod:         input.PaymentMethod,
		StripePaymentMethodID: input.StripePaymentMethodID,
		AmountCents:           input.AmountCents,
		Status:                enums.AttemptStatusProcessing,
		PaymentIntentID:       input.PaymentIntentID,
		CollectedByAdminID:    input.CollectedByAdminID,
		AttemptedAt:           time.Now().UTC(),
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		attempt.IdempotencyKey = &key
	}

	_, err = db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:          "createPaymentAttempt",
		MaxRetries:         s.maxRetries,
		RetryOnlyTransient: true,
		Metrics:            s.metrics,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.Create(ctx, attempt)
	})
	if err != nil {
		if input.IdempotencyKey != "" && db.IsUniqueViolation(err, idempotencyConstraint) {
			// A concurrent creator with the same key won the insert.
			winner, lookupErr := s.CheckIdempotency(ctx, input.IdempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment attempt")
	}

	return attempt, nil
}

// UpdateAttempt applies the outcome to the most recently created attempt for
// the order. An update with no prior attempt is a programming error, not a
// recoverable condition.
func (s *service) UpdateAttempt(ctx context.Context, orderID string, updates UpdateAttemptInput) (*models.PaymentAttempt, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !updates.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid attempt status")
	}

	attempt, err := db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:  "findLatestPaymentAttempt",
		MaxRetries: s.maxRetries,
		Metrics:    s.metrics,
	}, func(ctx context.Context) (*models.PaymentAttempt, error) {
		return s.repo.FindLatestByOrderID(ctx, orderID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find latest payment attempt")
	}
	if attempt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment attempt found for order")
	}
	if attempt.Status.IsTerminal() {
		if attempt.Status != updates.Status {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment attempt already finalized")
		}
		// A redelivered outcome carries no new information; re-saving
		// would shift the recorded transition timestamp.
		return attempt, nil
	}

	at := updates.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	attempt.Status = updates.Status
	switch updates.Status {
	case enums.AttemptStatusSucceeded:
		attempt.SucceededAt = &at
		attempt.FailedAt = nil
	case enums.AttemptStatusFailed:
		attempt.FailedAt = &at
		attempt.SucceededAt = nil
	}
	if updates.DeclineCode != nil {
		attempt.DeclineCode = updates.DeclineCode
	}
	if updates.ErrorMessage != nil {
		attempt.ErrorMessage = updates.ErrorMessage
	}
	if updates.PaymentIntentID != nil {
		attempt.PaymentIntentID = updates.PaymentIntentID
	}

	_, err = db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:          "updatePaymentAttempt",
		MaxRetries:         s.maxRetries,
		RetryOnlyTransient: true,
		Metrics:            s.metrics,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.repo.Update(ctx, attempt)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment attempt")
	}

	return attempt, nil
}

// ListAttempts returns the order's attempts in chronological order. Callers
// use this for display; a failed lookup yields an empty slice, never an
// error, so "no attempts yet" and "lookup failed" need no special-casing.
func (s *service) ListAttempts(ctx context.Context, orderID string) []models.PaymentAttempt {
	attempts, err := db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:  "listPaymentAttempts",
		MaxRetries: s.maxRetries,
		Metrics:    s.metrics,
	}, func(ctx context.Context) ([]models.PaymentAttempt, error) {
		return s.repo.ListByOrderID(ctx, orderID)
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, orderID), "list payment attempts failed", err)
		}
		return []models.PaymentAttempt{}
	}
	if attempts == nil {
		return []models.PaymentAttempt{}
	}
	return attempts
}

// GetStats reduces over ListAttempts; it performs no queries of its own.
func (s *service) GetStats(ctx context.Context, orderID string) AttemptStats {
	attempts := s.ListAttempts(ctx, orderID)

	stats := AttemptStats{Total: len(attempts)}
	for i := range attempts {
		switch attempts[i].Status {
		case enums.AttemptStatusSucceeded:
			stats.Succeeded++
		case enums.AttemptStatusFailed:
			stats.Failed++
		case enums.AttemptStatusProcessing:
			stats.Processing++
		}
	}
	if len(attempts) > 0 {
		stats.LastAttempt = &attempts[len(attempts)-1]
	}
	return stats
}

// CheckIdempotency returns the attempt stored under key, or nil when no such
// attempt exists. Absence is a normal outcome, not an error.
func (s *service) CheckIdempotency(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	attempt, err := db.WithPersistenceRetry(ctx, s.logg, db.QueryConfig{
		Operation:  "checkIdempotencyKey",
		MaxRetries: s.maxRetries,
		Metrics:    s.metrics,
	}, func(ctx context.Context) (*models.PaymentAttempt, error) {
		return s.repo.FindByIdempotencyKey(ctx, key)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
	}
	return attempt, nil
}
