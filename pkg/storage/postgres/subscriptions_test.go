package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/dispatch/pkg/observability"
	"github.com/resumeforge/dispatch/pkg/webhooks"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func mockSubscriptionStore(db *sql.DB) *SubscriptionStore {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return &SubscriptionStore{cm: NewSingleConnectionManager(db, logger)}
}

var subscriptionColumns = []string{
	"id", "owner_id", "url", "description", "events", "secret", "active",
	"timeout_seconds", "max_attempts",
	"total_deliveries", "successful_deliveries", "failed_deliveries",
	"last_delivery_at", "last_success_at", "last_failure_at",
	"created_at", "updated_at",
}

// subscriptionRow builds one mock row in subscriptionColumns order. The
// events array is the wire-format literal pq.StringArray parses on scan.
func subscriptionRow(id, ownerID string) []driver.Value {
	now := time.Now().UTC()
	return []driver.Value{
		id, ownerID, "https://example.com/hook", "test hook",
		"{resume.created}", "test-secret", true,
		30, 3,
		int64(0), int64(0), int64(0),
		nil, nil, nil,
		now, now,
	}
}

func TestNewSubscriptionStore(t *testing.T) {
	t.Run("creates schema", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 0))

		logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
		store, err := NewSubscriptionStore(NewSingleConnectionManager(db, logger))
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("schema creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS webhook_subscriptions").
			WillReturnError(errors.New("permission denied"))

		logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
		store, err := NewSubscriptionStore(NewSingleConnectionManager(db, logger))
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to create webhook_subscriptions table")
	})
}

func TestSubscriptionStore_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := mockSubscriptionStore(db)
	now := time.Now().UTC()

	sub := &webhooks.WebhookSubscription{
		ID:             "11111111-1111-1111-1111-111111111111",
		OwnerID:        "user-1",
		URL:            "https://example.com/hook",
		Description:    "test hook",
		Events:         []webhooks.EventType{webhooks.EventResumeCreated},
		Secret:         "test-secret",
		Active:         true,
		TimeoutSeconds: 30,
		MaxAttempts:    3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectExec("INSERT INTO webhook_subscriptions").
		WithArgs(
			sub.ID, sub.OwnerID, sub.URL, sub.Description,
			sqlmock.AnyArg(), sub.Secret, sub.Active,
			sub.TimeoutSeconds, sub.MaxAttempts,
			int64(0), int64(0), int64(0),
			nil, nil, nil,
			sub.CreatedAt, sub.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), sub)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)
		id := "11111111-1111-1111-1111-111111111111"

		mock.ExpectQuery("FROM webhook_subscriptions WHERE id =").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(subscriptionColumns).AddRow(subscriptionRow(id, "user-1")...))

		sub, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, sub.ID)
		assert.Equal(t, "user-1", sub.OwnerID)
		assert.Equal(t, []webhooks.EventType{webhooks.EventResumeCreated}, sub.Events)
		assert.Nil(t, sub.LastDeliveryAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectQuery("FROM webhook_subscriptions WHERE id =").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		sub, err := store.Get(context.Background(), "missing")
		assert.Nil(t, sub)
		assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
	})
}

func TestSubscriptionStore_GetForOwner(t *testing.T) {
	t.Run("wrong owner", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)
		id := "11111111-1111-1111-1111-111111111111"

		mock.ExpectQuery("FROM webhook_subscriptions WHERE id = (.+) AND owner_id =").
			WithArgs(id, "user-2").
			WillReturnError(sql.ErrNoRows)

		sub, err := store.GetForOwner(context.Background(), "user-2", id)
		assert.Nil(t, sub)
		assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
	})

	t.Run("owned", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)
		id := "11111111-1111-1111-1111-111111111111"

		mock.ExpectQuery("FROM webhook_subscriptions WHERE id = (.+) AND owner_id =").
			WithArgs(id, "user-1").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns).AddRow(subscriptionRow(id, "user-1")...))

		sub, err := store.GetForOwner(context.Background(), "user-1", id)
		require.NoError(t, err)
		assert.Equal(t, "user-1", sub.OwnerID)
	})
}

func TestSubscriptionStore_Update(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		sub := &webhooks.WebhookSubscription{
			ID:             "11111111-1111-1111-1111-111111111111",
			URL:            "https://example.com/hook2",
			Events:         []webhooks.EventType{webhooks.EventResumeDeleted},
			Secret:         "test-secret",
			Active:         false,
			TimeoutSeconds: 60,
			MaxAttempts:    5,
			UpdatedAt:      time.Now().UTC(),
		}

		mock.ExpectExec("UPDATE webhook_subscriptions").
			WithArgs(
				sub.ID, sub.URL, sub.Description, sqlmock.AnyArg(), sub.Secret,
				sub.Active, sub.TimeoutSeconds, sub.MaxAttempts, sub.UpdatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Update(context.Background(), sub)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectExec("UPDATE webhook_subscriptions").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Update(context.Background(), &webhooks.WebhookSubscription{ID: "missing"})
		assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
	})
}

func TestSubscriptionStore_Delete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectExec("DELETE FROM webhook_subscriptions").
			WithArgs("sub-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Delete(context.Background(), "user-1", "sub-1")
		assert.NoError(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectExec("DELETE FROM webhook_subscriptions").
			WithArgs("sub-1", "user-2").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Delete(context.Background(), "user-2", "sub-1")
		assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
	})
}

func TestSubscriptionStore_List(t *testing.T) {
	t.Run("all", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		rows := sqlmock.NewRows(subscriptionColumns).
			AddRow(subscriptionRow("11111111-1111-1111-1111-111111111111", "user-1")...).
			AddRow(subscriptionRow("22222222-2222-2222-2222-222222222222", "user-1")...)

		mock.ExpectQuery("FROM webhook_subscriptions WHERE owner_id =").
			WithArgs("user-1").
			WillReturnRows(rows)

		subs, err := store.List(context.Background(), "user-1", false)
		require.NoError(t, err)
		assert.Len(t, subs, 2)
	})

	t.Run("active only adds filter", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectQuery("WHERE owner_id = (.+) AND active = TRUE").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns))

		subs, err := store.List(context.Background(), "user-1", true)
		require.NoError(t, err)
		assert.Empty(t, subs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSubscriptionStore_FindActiveForEvent(t *testing.T) {
	t.Run("global fan-out", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		rows := sqlmock.NewRows(subscriptionColumns).
			AddRow(subscriptionRow("11111111-1111-1111-1111-111111111111", "user-1")...)

		mock.ExpectQuery("WHERE active = TRUE AND events @>").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(rows)

		subs, err := store.FindActiveForEvent(context.Background(), webhooks.EventResumeCreated, "")
		require.NoError(t, err)
		assert.Len(t, subs, 1)
	})

	t.Run("scoped to owner", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := mockSubscriptionStore(db)

		mock.ExpectQuery("WHERE active = TRUE AND events @> (.+) AND owner_id =").
			WithArgs(sqlmock.AnyArg(), "user-1").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns))

		subs, err := store.FindActiveForEvent(context.Background(), webhooks.EventResumeCreated, "user-1")
		require.NoError(t, err)
		assert.Empty(t, subs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSubscriptionStore_ImplementsInterface(t *testing.T) {
	var _ webhooks.SubscriptionStore = (*SubscriptionStore)(nil)
}
