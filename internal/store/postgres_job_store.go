package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixeltune/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	object_key TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	adjustments JSONB NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES export_jobs (id),
	session_id TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure export schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.ExportJob) error {
	adjustmentsJSON, err := json.Marshal(job.Adjustments)
	if err != nil {
		return fmt.Errorf("marshal job adjustments: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO export_jobs (id, session_id, status, source_type, object_key, webhook_url, adjustments, output_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.SessionID,
		job.Status,
		job.SourceType,
		job.ObjectKey,
		job.WebhookURL,
		adjustmentsJSON,
		job.OutputPath,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.ExportJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, session_id, status, source_type, object_key, webhook_url, adjustments, output_path, created_at, updated_at
		 FROM export_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job             domain.ExportJob
		adjustmentsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&job.Status,
		&job.SourceType,
		&job.ObjectKey,
		&job.WebhookURL,
		&adjustmentsJSON,
		&job.OutputPath,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExportJob{}, false, nil
		}
		return domain.ExportJob{}, false, fmt.Errorf("query export job: %w", err)
	}

	if err := json.Unmarshal(adjustmentsJSON, &job.Adjustments); err != nil {
		return domain.ExportJob{}, false, fmt.Errorf("unmarshal job adjustments: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("update export job status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.ExportJob{}, err
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if !ok {
		return domain.ExportJob{}, ErrJobNotFound
	}

	return job, nil
}

func (s *PostgresJobStore) SetOutput(ctx context.Context, id, outputPath string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE export_jobs
		 SET output_path = $1, updated_at = $2
		 WHERE id = $3`,
		outputPath,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update export job output: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (job_id, session_id, pixels_processed, bytes_saved, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.JobID,
		usage.SessionID,
		usage.PixelsProcessed,
		usage.BytesSaved,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
