package stripewebhook

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestIdempotencyGuard_CheckAndMark(t *testing.T) {
	store := newStubStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe_webhook")
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if seen {
		t.Fatal("first delivery must not be marked as seen")
	}

	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !seen {
		t.Fatal("redelivery of the same event must report seen")
	}

	seen, err = guard.CheckAndMark(context.Background(), "evt_2")
	if err != nil {
		t.Fatalf("distinct event check: %v", err)
	}
	if seen {
		t.Fatal("a distinct event must not be marked as seen")
	}
}

func TestIdempotencyGuard_DeleteAllowsRedelivery(t *testing.T) {
	store := newStubStore()
	guard, _ := NewIdempotencyGuard(store, time.Hour, "stripe_webhook")

	if _, err := guard.CheckAndMark(context.Background(), "evt_1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := guard.Delete(context.Background(), "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("re-check: %v", err)
	}
	if seen {
		t.Fatal("a cleared event must be claimable again")
	}
}

func TestIdempotencyGuard_Validation(t *testing.T) {
	store := newStubStore()
	if _, err := NewIdempotencyGuard(nil, time.Hour, "scope"); err == nil {
		t.Fatal("nil store must be rejected")
	}
	if _, err := NewIdempotencyGuard(store, -time.Second, "scope"); err == nil {
		t.Fatal("negative ttl must be rejected")
	}
	if _, err := NewIdempotencyGuard(store, time.Hour, ""); err == nil {
		t.Fatal("empty scope must be rejected")
	}

	guard, _ := NewIdempotencyGuard(store, time.Hour, "scope")
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatal("empty event id must be rejected")
	}
	if err := guard.Delete(context.Background(), ""); err == nil {
		t.Fatal("empty event id must be rejected")
	}
}

type stubStore struct {
	data map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string]string)}
}

func (s *stubStore) Get(ctx context.Context, key string) (string, error) {
	return s.data[key], nil
}

func (s *stubStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = "1"
	return true, nil
}

func (s *stubStore) IdempotencyKey(scope, id string) string {
	return strings.Join([]string{"ntd", "idempotency", scope, id}, ":")
}

func (s *stubStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
