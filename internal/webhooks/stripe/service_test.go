package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/AbeJitsu/need-this-done-backend/internal/payments"
	"github.com/AbeJitsu/need-this-done-backend/pkg/db/models"
	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

func paymentIntentEvent(t *testing.T, eventType stripe.EventType, intent map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_1",
		Type: eventType,
		Data: &stripe.EventData{
			Raw:    raw,
			Object: intent,
		},
	}
}

func TestService_HandleSucceededEventRecordsAttempt(t *testing.T) {
	ledger := &stubLedger{}
	svc, err := NewService(ServiceParams{Ledger: ledger})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":     "pi_123",
		"amount": 2500,
		"metadata": map[string]any{
			"order_id": "order_123",
		},
	})

	if msg := svc.ValidationError(event); msg != "" {
		t.Fatalf("unexpected validation error: %q", msg)
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if len(ledger.created) != 1 {
		t.Fatalf("created = %d, want 1", len(ledger.created))
	}
	created := ledger.created[0]
	if created.OrderID != "order_123" {
		t.Fatalf("order id = %s", created.OrderID)
	}
	if created.IdempotencyKey != "evt_1" {
		t.Fatalf("idempotency key = %s, want event id", created.IdempotencyKey)
	}
	if created.AmountCents != 2500 {
		t.Fatalf("amount = %d, want 2500", created.AmountCents)
	}

	if len(ledger.updated) != 1 {
		t.Fatalf("updated = %d, want 1", len(ledger.updated))
	}
	if ledger.updated[0].Status != enums.AttemptStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", ledger.updated[0].Status)
	}
}

func TestService_HandleFailedEventCapturesDecline(t *testing.T) {
	ledger := &stubLedger{}
	svc, _ := NewService(ServiceParams{Ledger: ledger})

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
		"id": "pi_123",
		"metadata": map[string]any{
			"order_id": "order_123",
		},
		"last_payment_error": map[string]any{
			"decline_code": "insufficient_funds",
			"message":      "Your card has insufficient funds.",
		},
	})

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	update := ledger.updated[0]
	if update.Status != enums.AttemptStatusFailed {
		t.Fatalf("status = %s, want failed", update.Status)
	}
	if update.DeclineCode == nil || *update.DeclineCode != "insufficient_funds" {
		t.Fatalf("decline code = %v", update.DeclineCode)
	}
	if update.ErrorMessage == nil || *update.ErrorMessage == "" {
		t.Fatal("expected error message captured")
	}
}

func TestService_ValidationErrorOnMissingOrderID(t *testing.T) {
	ledger := &stubLedger{}
	svc, _ := NewService(ServiceParams{Ledger: ledger})

	event := paymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, map[string]any{
		"id":       "pi_123",
		"metadata": map[string]any{},
	})

	if msg := svc.ValidationError(event); msg == "" {
		t.Fatal("expected validation error for missing metadata.order_id")
	}
	// The handler must not have been invoked for a malformed event.
	if len(ledger.created) != 0 {
		t.Fatal("ledger must be untouched when validation fails")
	}
}

func TestService_UnknownEventTypeIsAcknowledged(t *testing.T) {
	ledger := &stubLedger{}
	svc, _ := NewService(ServiceParams{Ledger: ledger})

	event := paymentIntentEvent(t, stripe.EventType("customer.created"), map[string]any{"id": "cus_1"})
	if msg := svc.ValidationError(event); msg != "" {
		t.Fatalf("unknown types skip field validation, got %q", msg)
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown event should be acknowledged, got %v", err)
	}
	if len(ledger.created) != 0 {
		t.Fatal("ledger must be untouched for unknown event types")
	}
}

type stubLedger struct {
	created []payments.CreateAttemptInput
	updated []payments.UpdateAttemptInput
}

func (s *stubLedger) CreateAttempt(ctx context.Context, input payments.CreateAttemptInput) (*models.PaymentAttempt, error) {
	s.created = append(s.created, input)
	return &models.PaymentAttempt{ID: uuid.New(), OrderID: input.OrderID, Status: enums.AttemptStatusProcessing}, nil
}

func (s *stubLedger) UpdateAttempt(ctx context.Context, orderID string, updates payments.UpdateAttemptInput) (*models.PaymentAttempt, error) {
	s.updated = append(s.updated, updates)
	return &models.PaymentAttempt{OrderID: orderID, Status: updates.Status}, nil
}

func (s *stubLedger) ListAttempts(ctx context.Context, orderID string) []models.PaymentAttempt {
	return nil
}

func (s *stubLedger) GetStats(ctx context.Context, orderID string) payments.AttemptStats {
	return payments.AttemptStats{}
}

func (s *stubLedger) CheckIdempotency(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	return nil, nil
}
