package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/AbeJitsu/need-this-done-backend/internal/payments"
	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
	pkgerrors "github.com/AbeJitsu/need-this-done-backend/pkg/errors"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

// Field paths every payment intent event must carry before the handler runs.
var paymentIntentRequiredFields = []string{"id", "metadata.order_id"}

type ServiceParams struct {
	Ledger payments.Service
	Logger *logger.Logger
}

// Service reconciles Stripe payment events against the payment attempt ledger.
type Service struct {
	ledger payments.Service
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments ledger required")
	}
	return &Service{
		ledger: params.Ledger,
		logg:   params.Logger,
	}, nil
}

// ValidationError checks the event payload before any processing. A non-empty
// return means the event is malformed and must be rejected without retry.
func (s *Service) ValidationError(event *stripe.Event) string {
	if event == nil || event.Data == nil {
		return "missing event payload in stripe webhook"
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		return ValidateWebhookData(event.Data.Object, paymentIntentRequiredFields, string(event.Type))
	default:
		return ""
	}
}

// HandleEvent records the payment outcome carried by the event. The event ID
// doubles as the ledger idempotency key, so redelivery of the same event
// never creates a second attempt. Unknown event types are acknowledged
// untouched.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.recordPaymentIntentOutcome(ctx, event, enums.AttemptStatusSucceeded)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.recordPaymentIntentOutcome(ctx, event, enums.AttemptStatusFailed)
	default:
		return nil
	}
}

func (s *Service) recordPaymentIntentOutcome(ctx context.Context, event *stripe.Event, status enums.AttemptStatus) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}

	orderID := intent.Metadata["order_id"]
	if orderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id missing from payment intent metadata")
	}

	if s.logg != nil {
		ctx = s.logg.WithOrderID(s.logg.WithEventID(ctx, event.ID), orderID)
	}

	intentID := intent.ID
	if _, err := s.ledger.CreateAttempt(ctx, payments.CreateAttemptInput{
		OrderID:         orderID,
		PaymentMethod:   enums.PaymentMethodCard,
		AmountCents:     intent.Amount,
		PaymentIntentID: &intentID,
		IdempotencyKey:  event.ID,
	}); err != nil {
		return err
	}

	updates := payments.UpdateAttemptInput{
		Status:          status,
		PaymentIntentID: &intentID,
	}
	if status == enums.AttemptStatusFailed && intent.LastPaymentError != nil {
		declineCode := string(intent.LastPaymentError.DeclineCode)
		message := intent.LastPaymentError.Msg
		if declineCode != "" {
			updates.DeclineCode = &declineCode
		}
		if message != "" {
			updates.ErrorMessage = &message
		}
	}

	if _, err := s.ledger.UpdateAttempt(ctx, orderID, updates); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Info(ctx, "payment intent outcome recorded")
	}
	return nil
}
