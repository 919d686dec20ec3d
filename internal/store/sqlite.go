package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/compliance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	fields_found  INTEGER NOT NULL DEFAULT 0,
	fields_total  INTEGER NOT NULL DEFAULT 0,
	evidence_path TEXT,
	report_path   TEXT,
	error         TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_url ON runs(url);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runID, url string) (*model.Run, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, url, status, fields_total, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, url, string(model.RunStatusRunning), len(model.FieldOrder), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          runID,
		URL:         url,
		Status:      model.RunStatusRunning,
		FieldsTotal: len(model.FieldOrder),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	errJSON, err := marshalStepError(run.Error)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, retry_count = ?, fields_found = ?, evidence_path = ?, report_path = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(run.Status), run.RetryCount, run.FieldsFound,
		run.EvidencePath, run.ReportPath, errJSON, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, status, retry_count, fields_found, fields_total, evidence_path, report_path, error, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)

	var r model.Run
	var status string
	var evidencePath, reportPath, errJSON sql.NullString
	err := row.Scan(&r.ID, &r.URL, &status, &r.RetryCount, &r.FieldsFound, &r.FieldsTotal,
		&evidencePath, &reportPath, &errJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	r.Status = model.RunStatus(status)
	r.EvidencePath = evidencePath.String
	r.ReportPath = reportPath.String
	if r.Error, err = unmarshalStepError(errJSON.String); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, url, status, retry_count, fields_found, fields_total, evidence_path, report_path, error, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var evidencePath, reportPath, errJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.URL, &status, &r.RetryCount, &r.FieldsFound, &r.FieldsTotal,
			&evidencePath, &reportPath, &errJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		r.EvidencePath = evidencePath.String
		r.ReportPath = reportPath.String
		if r.Error, err = unmarshalStepError(errJSON.String); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

func marshalStepError(se *model.StepError) (sql.NullString, error) {
	if se == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(se)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "store: marshal error")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStepError(s string) (*model.StepError, error) {
	if s == "" {
		return nil, nil
	}
	var se model.StepError
	if err := json.Unmarshal([]byte(s), &se); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal error")
	}
	return &se, nil
}
