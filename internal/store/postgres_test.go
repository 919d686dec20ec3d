package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compliance-cli/internal/config"
	"github.com/sells-group/compliance-cli/internal/model"
)

func configStore(driver, url string) config.StoreConfig {
	return config.StoreConfig{Driver: driver, DatabaseURL: url}
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgres_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("run-1", "https://acme.example", "running", 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "run-1", "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("success", 0, 5, "evidence/raw.html", "reports/report.txt", nil, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.CompleteRun(context.Background(), &model.Run{
		ID:           "run-1",
		Status:       model.RunStatusSuccess,
		FieldsFound:  5,
		EvidencePath: "evidence/raw.html",
		ReportPath:   "reports/report.txt",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", 0, 0, nil, nil, pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), &model.Run{
		ID:     "missing",
		Status: model.RunStatusFailed,
		Error:  &model.StepError{Kind: model.ErrExtraction, Message: "boom"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPostgres_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, url, status`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestPostgres_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	errJSON := `{"kind":"evidence_collection_error","message":"timeout"}`
	rows := pgxmock.NewRows([]string{
		"id", "url", "status", "retry_count", "fields_found", "fields_total",
		"evidence_path", "report_path", "error", "created_at", "updated_at",
	}).AddRow("run-1", "https://acme.example", "failed", 0, 0, 5,
		(*string)(nil), (*string)(nil), &errJSON, now, now)

	mock.ExpectQuery(`SELECT id, url, status`).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, model.ErrEvidenceCollection, run.Error.Kind)
}

func TestPostgres_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "url", "status", "retry_count", "fields_found", "fields_total",
		"evidence_path", "report_path", "error", "created_at", "updated_at",
	}).
		AddRow("b", "https://b.example", "success", 0, 5, 5, (*string)(nil), (*string)(nil), (*string)(nil), now, now).
		AddRow("a", "https://a.example", "partial_extraction", 1, 3, 5, (*string)(nil), (*string)(nil), (*string)(nil), now.Add(-time.Hour), now)

	mock.ExpectQuery(`SELECT id, url, status`).
		WithArgs(100).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, 1, runs[1].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
