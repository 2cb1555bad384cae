package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	stripewebhook "github.com/AbeJitsu/need-this-done-backend/internal/webhooks/stripe"
	"github.com/AbeJitsu/need-this-done-backend/pkg/config"
	pkgerrors "github.com/AbeJitsu/need-this-done-backend/pkg/errors"
	"github.com/AbeJitsu/need-this-done-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

func testWebhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		MaxRetries:   2,
		Timeout:      time.Second,
		InitialDelay: time.Millisecond,
	}
}

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, map[string]string{"order_id": "order_123"})
	service := &fakeStripeWebhookService{}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	// Replay the same event
	rec2 := serve(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, map[string]string{"order_id": "order_123"})
	service := &fakeStripeWebhookService{}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, nil)

	rec := serve(handler, payload, "t=1,v1=invalid")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_MalformedPayloadRejectedBeforeHandler(t *testing.T) {
	payload, header := buildSignedEvent(t, map[string]string{})
	service := &fakeStripeWebhookService{}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing order_id, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 0 {
		t.Fatalf("handler must not run on malformed payload, got %d calls", service.calls)
	}
}

func TestStripeWebhook_TransientFailureReturns500AndClearsGuard(t *testing.T) {
	payload, header := buildSignedEvent(t, map[string]string{"order_id": "order_123"})
	service := &fakeStripeWebhookService{
		err: fmt.Errorf("connection refused"),
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for transient failure, got %d (%s)", rec.Code, rec.Body.String())
	}
	// MaxRetries=2 budgets three attempts per delivery.
	if service.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", service.calls)
	}

	// Guard was cleared, so Stripe's redelivery reaches the handler again.
	service.err = nil
	rec2 := serve(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", rec2.Code)
	}
	if service.calls != 4 {
		t.Fatalf("redelivery should reach the handler, got %d calls", service.calls)
	}
}

func TestStripeWebhook_GuardClearFailureIsLogged(t *testing.T) {
	payload, header := buildSignedEvent(t, map[string]string{"order_id": "order_123"})
	service := &fakeStripeWebhookService{
		err: fmt.Errorf("connection refused"),
	}
	guard := &failingDeleteGuard{inner: newTestGuard(t)}
	var logBuf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &logBuf})
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, logg)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for transient failure, got %d (%s)", rec.Code, rec.Body.String())
	}

	// A guard that cannot be cleared blocks redelivery until the TTL
	// expires; the operator needs a trace of that.
	logged := logBuf.String()
	if !strings.Contains(logged, "failed to clear idempotency guard") {
		t.Fatalf("expected guard failure entry, got %q", logged)
	}
	if !strings.Contains(logged, `"level":"warn"`) {
		t.Fatalf("expected warn level, got %q", logged)
	}
}

func TestStripeWebhook_PermanentFailureAcknowledgedWith200(t *testing.T) {
	payload, header := buildSignedEvent(t, map[string]string{"order_id": "order_123"})
	service := &fakeStripeWebhookService{
		err: pkgerrors.New(pkgerrors.CodeValidation, "unknown order"),
	}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, testWebhookConfig(), nil, nil)

	rec := serve(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for permanent failure, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("permanent failures must not be retried, got %d calls", service.calls)
	}

	var result stripewebhook.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Success {
		t.Fatal("result must report the failure")
	}
	if result.Error == nil || result.Error.RetriesAttempted != 0 {
		t.Fatalf("unexpected result error: %+v", result.Error)
	}
}

func serve(handler http.HandlerFunc, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newTestGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func buildSignedEvent(t *testing.T, metadata map[string]string) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Amount:   2500,
		Metadata: metadata,
	}
	rawIntent, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawIntent,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
}

func (f *fakeStripeWebhookService) ValidationError(event *stripe.Event) string {
	return stripewebhook.ValidateWebhookData(event.Data.Object, []string{"id", "metadata.order_id"}, string(event.Type))
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	return f.err
}

type failingDeleteGuard struct {
	inner *stripewebhook.IdempotencyGuard
}

func (g *failingDeleteGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return g.inner.CheckAndMark(ctx, eventID)
}

func (g *failingDeleteGuard) Delete(ctx context.Context, eventID string) error {
	return fmt.Errorf("redis: connection reset")
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("ntd:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
