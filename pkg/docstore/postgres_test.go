package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreWithDB(db), mock
}

func TestPostgresInitSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS documents_data_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"data", "updated_at"}).
		AddRow([]byte(`{"status":"active","planId":"lifetime"}`), time.Now().UTC())
	mock.ExpectQuery("SELECT data, updated_at FROM documents").
		WithArgs("userSubscriptions", "user-1").
		WillReturnRows(rows)

	doc, err := store.Get(context.Background(), "userSubscriptions", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "active", doc.String("status"))
	assert.Equal(t, "lifetime", doc.String("planId"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT data, updated_at FROM documents").
		WithArgs("userSubscriptions", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"data", "updated_at"}))

	_, err := store.Get(context.Background(), "userSubscriptions", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresQueryCompilesFilters(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "data", "updated_at"}).
		AddRow("pi_1", []byte(`{"userId":"user-1","stripeCustomerId":"cus_1"}`), time.Now().UTC())
	mock.ExpectQuery(`SELECT id, data, updated_at FROM documents WHERE collection = \$1 AND data->>'userId' = \$2`).
		WithArgs("paymentHistory", "user-1").
		WillReturnRows(rows)

	docs, err := store.Query(context.Background(), "paymentHistory", Where("userId", OpEqual, "user-1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pi_1", docs[0].ID)
	assert.Equal(t, "cus_1", docs[0].String("stripeCustomerId"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryCastsTypedFilters(t *testing.T) {
	store, mock := newMockStore(t)

	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`\(data->>'expiresAt'\)::timestamptz <= \$2::timestamptz`).
		WithArgs("gracePeriods", expiry.Format(time.RFC3339Nano)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}))

	_, err := store.Query(context.Background(), "gracePeriods", Where("expiresAt", OpLessOrEqual, expiry))
	require.NoError(t, err)

	mock.ExpectQuery(`\(data->>'count'\)::numeric >= \$2`).
		WithArgs("featureUsage", int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "updated_at"}))

	_, err = store.Query(context.Background(), "featureUsage", Where("count", OpGreaterOrEqual, int64(5)))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents WHERE collection = \$1 AND data->>'userId' = \$2`).
		WithArgs("featureUsage", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := store.Count(context.Background(), "featureUsage", Where("userId", OpEqual, "user-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("users", "user-1", []byte(`{"email":"user@example.com"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Set(context.Background(), "users", "user-1", map[string]interface{}{
		"email": "user@example.com",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE documents SET data = data").
		WithArgs("users", "missing", []byte(`{"status":"premium_lifetime"}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), "users", "missing", map[string]interface{}{
		"status": "premium_lifetime",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDelete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("gracePeriods", "user-1_aiChat").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "gracePeriods", "user-1_aiChat"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchWriteCommits(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("userSubscriptions", "user-1", []byte(`{"status":"active"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET data = data").
		WithArgs("users", "user-1", []byte(`{"subscriptionStatus":"premium_lifetime"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.BatchWrite(context.Background(), []WriteOp{
		SetOp("userSubscriptions", "user-1", map[string]interface{}{"status": "active"}),
		UpdateOp("users", "user-1", map[string]interface{}{"subscriptionStatus": "premium_lifetime"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchWriteRollsBackOnMissingUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("userSubscriptions", "user-1", []byte(`{"status":"active"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET data = data").
		WithArgs("users", "user-1", []byte(`{"subscriptionStatus":"premium_lifetime"}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.BatchWrite(context.Background(), []WriteOp{
		SetOp("userSubscriptions", "user-1", map[string]interface{}{"status": "active"}),
		UpdateOp("users", "user-1", map[string]interface{}{"subscriptionStatus": "premium_lifetime"}),
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchWriteRollsBackOnExecError(t *testing.T) {
	store, mock := newMockStore(t)

	dbErr := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("userSubscriptions", "user-1", []byte(`{"status":"active"}`)).
		WillReturnError(dbErr)
	mock.ExpectRollback()

	err := store.BatchWrite(context.Background(), []WriteOp{
		SetOp("userSubscriptions", "user-1", map[string]interface{}{"status": "active"}),
	})
	require.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchWriteEmptyIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	require.NoError(t, store.BatchWrite(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
