package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/lilseedabe/FlickMV-sub003/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	project_id      TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	settings        JSONB,
	status          TEXT NOT NULL,
	progress        INT NOT NULL DEFAULT 0,
	priority        INT NOT NULL DEFAULT 0,
	current_step    TEXT NOT NULL DEFAULT '',
	retry_count     INT NOT NULL DEFAULT 0,
	max_retries     INT NOT NULL DEFAULT 3,
	error_code      TEXT,
	error_message   TEXT,
	output          JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	expires_at      TIMESTAMPTZ NOT NULL,
	download_count  INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS export_jobs_claim_idx
	ON export_jobs (priority DESC, created_at ASC) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS export_jobs_expiry_idx
	ON export_jobs (expires_at) WHERE status IN ('completed', 'failed', 'cancelled');
`

const jobColumns = `id, owner_id, project_id, name, settings, status, progress, priority,
	current_step, retry_count, max_retries, error_code, error_message, output,
	created_at, started_at, completed_at, processing_time, expires_at, download_count`

// PostgresJobStore persists jobs in a single export_jobs table. The claim is
// one conditional UPDATE over a FOR UPDATE SKIP LOCKED subselect, so it is
// safe across multiple scheduler processes sharing the database.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// EnsureSchema creates the table and indexes if missing.
func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresJobStore) Create(ctx context.Context, job *model.Job) error {
	output, err := marshalNullable(job.Output)
	if err != nil {
		return err
	}

	var errCode, errMsg sql.NullString
	if job.Error != nil {
		errCode = sql.NullString{String: job.Error.Code, Valid: true}
		errMsg = sql.NullString{String: job.Error.Message, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		job.ID, job.OwnerID, job.ProjectID, job.Name, []byte(job.Settings),
		string(job.Status), job.Progress, job.Priority, job.CurrentStep,
		job.RetryCount, job.MaxRetries, errCode, errMsg, output,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.ProcessingTime,
		job.ExpiresAt, job.DownloadCount,
	)
	return err
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *PostgresJobStore) ClaimNext(ctx context.Context, now time.Time) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE export_jobs
		SET status = 'processing', started_at = $1, progress = 0
		WHERE id = (
			SELECT id FROM export_jobs
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns+`
	`, now)

	job, err := scanJob(row)
	if err == model.ErrNotFound {
		return nil, ErrNoJob
	}
	return job, err
}

func (s *PostgresJobStore) Mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM export_jobs WHERE id = $1 FOR UPDATE
	`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := fn(job); err != nil {
		return nil, err
	}

	output, err := marshalNullable(job.Output)
	if err != nil {
		return nil, err
	}
	var errCode, errMsg sql.NullString
	if job.Error != nil {
		errCode = sql.NullString{String: job.Error.Code, Valid: true}
		errMsg = sql.NullString{String: job.Error.Message, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE export_jobs SET
			status = $2, progress = $3, priority = $4, current_step = $5,
			retry_count = $6, max_retries = $7, error_code = $8, error_message = $9,
			output = $10, started_at = $11, completed_at = $12,
			processing_time = $13, expires_at = $14, download_count = $15
		WHERE id = $1
	`,
		job.ID, string(job.Status), job.Progress, job.Priority, job.CurrentStep,
		job.RetryCount, job.MaxRetries, errCode, errMsg, output,
		job.StartedAt, job.CompletedAt, job.ProcessingTime, job.ExpiresAt,
		job.DownloadCount,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresJobStore) ListExpiredTerminal(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM export_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job       model.Job
		status    string
		settings  []byte
		output    []byte
		errCode   sql.NullString
		errMsg    sql.NullString
		startedAt sql.NullTime
		completed sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.ProjectID, &job.Name, &settings, &status,
		&job.Progress, &job.Priority, &job.CurrentStep, &job.RetryCount,
		&job.MaxRetries, &errCode, &errMsg, &output, &job.CreatedAt,
		&startedAt, &completed, &job.ProcessingTime, &job.ExpiresAt,
		&job.DownloadCount,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	if len(settings) > 0 {
		job.Settings = json.RawMessage(settings)
	}
	if len(output) > 0 {
		var out model.Output
		if err := json.Unmarshal(output, &out); err != nil {
			return nil, err
		}
		job.Output = &out
	}
	if errCode.Valid {
		job.Error = &model.JobError{Code: errCode.String, Message: errMsg.String}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if out, ok := v.(*model.Output); ok && out == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
