package payments

import (
	"context"
	"testing"
	"time"

	"github.com/AbeJitsu/need-this-done-backend/pkg/db/models"
	"github.com/AbeJitsu/need-this-done-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS payment_attempts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL DEFAULT 1,
  payment_method TEXT NOT NULL DEFAULT 'card',
  stripe_payment_method_id TEXT,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'processing',
  decline_code TEXT,
  error_message TEXT,
  payment_intent_id TEXT,
  collected_by_admin_id TEXT,
  idempotency_key TEXT,
  attempted_at DATETIME NOT NULL,
  succeeded_at DATETIME,
  failed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_attempts_idempotency_key
  ON payment_attempts (idempotency_key);`
	require.NoError(t, conn.Exec(schema).Error)

	return conn
}

func newAttempt(orderID string, number int) *models.PaymentAttempt {
	return &models.PaymentAttempt{
		ID:            uuid.New(),
		OrderID:       orderID,
		AttemptNumber: number,
		PaymentMethod: enums.PaymentMethodCard,
		Status:        enums.AttemptStatusProcessing,
		AttemptedAt:   time.Now().UTC().Add(time.Duration(number) * time.Second),
	}
}

func TestRepository_CreateAndFindByIdempotencyKey(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	attempt := newAttempt("order_123", 1)
	key := "evt_1"
	attempt.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, attempt))

	found, err := repo.FindByIdempotencyKey(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, attempt.ID, found.ID)

	missing, err := repo.FindByIdempotencyKey(ctx, "evt_other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_IdempotencyKeyUniqueIndex(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	key := "evt_dup"
	first := newAttempt("order_123", 1)
	first.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, first))

	second := newAttempt("order_123", 2)
	second.IdempotencyKey = &key
	err := repo.Create(ctx, second)
	require.Error(t, err, "duplicate idempotency key must be rejected by the index")
}

func TestRepository_FindLatestByOrderID(t *testing.T) {
	conn := setupPaymentsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	older := newAttempt("order_123", 1)
	newer := newAttempt("order_123", 2)
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))
	// created_at drives recency, not attempt_number
	require.NoError(t, conn.Exec(
		"UPDATE payment_attempts SET created_at = ? WHERE id = ?",
		time.Now().UTC().Add(-time.Hour), older.ID,
	).Error)
	require.NoError(t, conn.Exec(
		"UPDATE payment_attempts SET created_at = ? WHERE id = ?",
		time.Now().UTC(), newer.ID,
	).Error)

	latest, err := repo.FindLatestByOrderID(ctx, "order_123")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	none, err := repo.FindLatestByOrderID(ctx, "order_unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepository_ListByOrderIDChronological(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	second := newAttempt("order_123", 2)
	first := newAttempt("order_123", 1)
	other := newAttempt("order_999", 1)
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, other))

	attempts, err := repo.ListByOrderID(ctx, "order_123")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, first.ID, attempts[0].ID, "attempted_at ascending")
	assert.Equal(t, second.ID, attempts[1].ID)

	count, err := repo.CountByOrderID(ctx, "order_123")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRepository_UpdateRejectsZeroID(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	ctx := context.Background()

	attempt := newAttempt("order_123", 1)
	attempt.ID = uuid.Nil
	err := repo.Update(ctx, attempt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

// A created attempt must carry its ID so later transitions update the
// existing row instead of inserting a second one.
func TestService_CreateThenUpdateTouchesSingleRow(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.CreateAttempt(ctx, CreateAttemptInput{
		OrderID:        "order_123",
		PaymentMethod:  enums.PaymentMethodCard,
		IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	updated, err := svc.UpdateAttempt(ctx, "order_123", UpdateAttemptInput{
		Status: enums.AttemptStatusSucceeded,
		At:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	count, err := repo.CountByOrderID(ctx, "order_123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

// Full ledger pass over a real database: create, transition, inspect.
func TestService_EndToEndOverSQLite(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	svc, err := NewService(ServiceParams{Repo: repo})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.CreateAttempt(ctx, CreateAttemptInput{
		OrderID:        "order_123",
		PaymentMethod:  enums.PaymentMethodCard,
		IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AttemptStatusProcessing, created.Status)

	succeededAt := time.Now().UTC().Truncate(time.Second)
	updated, err := svc.UpdateAttempt(ctx, "order_123", UpdateAttemptInput{
		Status: enums.AttemptStatusSucceeded,
		At:     succeededAt,
	})
	require.NoError(t, err)
	require.NotNil(t, updated.SucceededAt)
	assert.Nil(t, updated.FailedAt)

	stats := svc.GetStats(ctx, "order_123")
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Processing)
}
