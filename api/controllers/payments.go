package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AbeJitsu/need-this-done-backend/api/responses"
	"github.com/AbeJitsu/need-this-done-backend/api/validators"
	"github.com/AbeJitsu/need-this-done-backend/internal/payments"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db/models"
	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
	pkgerrors "github.com/AbeJitsu/need-this-done-backend/pkg/errors"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
)

type createPaymentRequest struct {
	PaymentMethod         string     `json:"payment_method" validate:"required,oneof=card cash check other"`
	AmountCents           int64      `json:"amount_cents" validate:"min=0"`
	StripePaymentMethodID *string    `json:"stripe_payment_method_id,omitempty"`
	PaymentIntentID       *string    `json:"payment_intent_id,omitempty"`
	CollectedByAdminID    *uuid.UUID `json:"collected_by_admin_id,omitempty"`
}

type updatePaymentRequest struct {
	Status       string  `json:"status" validate:"required,oneof=processing succeeded failed"`
	DeclineCode  *string `json:"decline_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// CreatePayment records a new charge attempt for the order in the URL. The
// optional Idempotency-Key header makes retried submissions safe.
func CreatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(body.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		attempt, err := svc.CreateAttempt(r.Context(), payments.CreateAttemptInput{
			OrderID:               orderID,
			PaymentMethod:         method,
			AmountCents:           body.AmountCents,
			StripePaymentMethodID: body.StripePaymentMethodID,
			PaymentIntentID:       body.PaymentIntentID,
			CollectedByAdminID:    body.CollectedByAdminID,
			IdempotencyKey:        strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, attempt)
	}
}

// UpdatePayment records the outcome of the order's most recent attempt.
func UpdatePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body updatePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseAttemptStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid attempt status"))
			return
		}

		attempt, err := svc.UpdateAttempt(r.Context(), orderID, payments.UpdateAttemptInput{
			Status:       status,
			DeclineCode:  body.DeclineCode,
			ErrorMessage: body.ErrorMessage,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, attempt)
	}
}

// ListPayments returns the order's full attempt history, oldest first. An
// order with no attempts yields an empty list, never an error.
func ListPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attempts := svc.ListAttempts(r.Context(), orderID)
		if attempts == nil {
			attempts = []models.PaymentAttempt{}
		}
		responses.WriteSuccess(w, attempts)
	}
}

// PaymentStats summarizes the order's attempt history.
func PaymentStats(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, svc.GetStats(r.Context(), orderID))
	}
}

func parseOrderID(r *http.Request) (string, error) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return orderID, nil
}
