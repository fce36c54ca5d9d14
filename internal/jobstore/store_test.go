package jobstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adhtanjung/productphoto/internal/database"
	"github.com/adhtanjung/productphoto/internal/jobs"
)

// rowColumns lists columns in the exact order selectColumns projects them,
// so AddRow calls below line up positionally with the real query.
var rowColumns = []string{
	"id", "sku", "sha256", "theme", "source_url", "status",
	"cutout_key", "mask_key", "backgrounds_json", "composites_json", "derivatives_json", "manifest_key",
	"download_ms", "segmentation_ms", "backgrounds_ms", "compositing_ms", "derivatives_ms", "manifest_ms",
	"cost_usd", "attempt",
	"error_code", "error_message", "error_stack",
	"provider_metadata",
	"created_at", "updated_at", "completed_at",
}

func newJobRow(id string, status jobs.Status) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "SKU-1", "abc123", "default", "https://example.com/a.jpg", string(status),
		nil, nil, []byte(`[]`), []byte(`[]`), []byte(`[]`), nil,
		nil, nil, nil, nil, nil, nil,
		0.0, 0,
		nil, nil, nil,
		[]byte(`{}`),
		now, now, nil,
	}
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	return New(&database.DB{DB: sqlxDB}), mock
}

func TestCreateJobInsertsWhenNoIdempotencyMatch(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + selectColumns + ` FROM jobs WHERE sku = $1 AND sha256 = $2 AND theme = $3`)).
		WithArgs("SKU-1", "abc123", "default").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO jobs (`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job, created, err := store.CreateJob(ctx, "SKU-1", "https://example.com/a.jpg", "abc123", "default")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, jobs.StatusNew, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobReturnsExistingOnIdempotencyMatch(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows(rowColumns).AddRow(newJobRow("job-1", jobs.StatusNew)...)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + selectColumns + ` FROM jobs WHERE sku = $1 AND sha256 = $2 AND theme = $3`)).
		WithArgs("SKU-1", "abc123", "default").
		WillReturnRows(rows)

	job, created, err := store.CreateJob(ctx, "SKU-1", "https://example.com/a.jpg", "abc123", "default")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", job.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + selectColumns + ` FROM jobs WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRejectsIllegalTransitionWithoutCommitting(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	rows := sqlmock.NewRows(rowColumns).AddRow(newJobRow("job-1", jobs.StatusNew)...)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`)).
		WithArgs("job-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	// NEW -> DONE skips every intermediate stage and must be rejected.
	_, err := store.UpdateStatus(ctx, "job-1", jobs.StatusDone, nil)
	var validationErr *jobs.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTimingsLeavesStatusUnchanged(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	rows := sqlmock.NewRows(rowColumns).AddRow(newJobRow("job-1", jobs.StatusNew)...)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`)).
		WithArgs("job-1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var elapsed int64 = 120
	job, err := store.UpdateTimings(ctx, "job-1", func(t *jobs.Timings) {
		t.DownloadMs = &elapsed
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusNew, job.Status)
	require.NotNil(t, job.Timings.DownloadMs)
	assert.Equal(t, int64(120), *job.Timings.DownloadMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasReachedImageLimitDisabledWhenZero(t *testing.T) {
	store, _ := newTestStore(t)
	reached, err := store.HasReachedImageLimit(context.Background(), "SKU-1", 0)
	require.NoError(t, err)
	assert.False(t, reached)
}

func TestHasReachedImageLimitTrueAtCeiling(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM jobs WHERE sku = $1 AND status != $2`)).
		WithArgs("SKU-1", string(jobs.StatusFailed)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	reached, err := store.HasReachedImageLimit(ctx, "SKU-1", 3)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.NoError(t, mock.ExpectationsWereMet())
}
