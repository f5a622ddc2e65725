package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

const jobColumns = `id, source, job_type, status, started_at, completed_at, products_scraped, products_new,
	products_updated, errors_count, error_details, created_at`

func scanJob(row scanner) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	var details []byte
	err := row.Scan(&j.ID, &j.Source, &j.JobType, &j.Status, &j.StartedAt, &j.CompletedAt, &j.ProductsScraped,
		&j.ProductsNew, &j.ProductsUpdated, &j.ErrorsCount, &details, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		var d models.ErrorDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return nil, fmt.Errorf("decode error_details of job %d: %w", j.ID, err)
		}
		j.ErrorDetails = &d
	}
	return &j, nil
}

func (s *Store) CreateJobIfIdle(ctx context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error) {
	query := `
		INSERT INTO pricewatch.scrape_jobs (source, job_type, status)
		VALUES ($1, $2, 'pending')
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRowContext(ctx, query, source, jobType))
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return nil, storage.ErrJobActive
		}
		return nil, fmt.Errorf("failed to create %s job for %s: %w", jobType, source, err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM pricewatch.scrape_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

// allowedFrom lists the statuses from which `to` is reachable.
func allowedFrom(to models.JobStatus) []string {
	var from []string
	for _, s := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
		if s.CanTransition(to) {
			from = append(from, string(s))
		}
	}
	return from
}

func counterArgs(c *storage.JobCounters) (scraped, created, updated, errs sql.NullInt64) {
	if c == nil {
		return
	}
	return sql.NullInt64{Int64: int64(c.Scraped), Valid: true}, sql.NullInt64{Int64: int64(c.New), Valid: true},
		sql.NullInt64{Int64: int64(c.Updated), Valid: true}, sql.NullInt64{Int64: int64(c.Errors), Valid: true}
}

// TransitionJob: условный UPDATE по текущему статусу, поэтому проверка и запись атомарны.
func (s *Store) TransitionJob(ctx context.Context, id int64, to models.JobStatus, upd storage.JobUpdate) (*models.ScrapeJob, error) {
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}
	details, err := marshalNullJSON(upd.ErrorDetails)
	if err != nil {
		return nil, fmt.Errorf("encode error details: %w", err)
	}
	scraped, created, updated, errs := counterArgs(upd.Counters)

	query := `
		UPDATE pricewatch.scrape_jobs SET
			status = $2::text,
			started_at = CASE WHEN $2::text = 'running' THEN $3 ELSE started_at END,
			completed_at = CASE WHEN $2::text <> 'running' THEN $3 ELSE completed_at END,
			products_scraped = COALESCE($4, products_scraped),
			products_new = COALESCE($5, products_new),
			products_updated = COALESCE($6, products_updated),
			errors_count = COALESCE($7, errors_count),
			error_details = COALESCE($8::jsonb, error_details)
		WHERE id = $1 AND status = ANY($9)
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, to, at, scraped, created, updated, errs, details,
		pq.Array(allowedFrom(to))))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition job %d to %s: %w", id, to, err)
	}
	existing, getErr := s.GetJob(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrInvalidTransition
}

func (s *Store) UpdateJobProgress(ctx context.Context, id int64, upd storage.JobUpdate) error {
	if upd.Counters == nil {
		return nil
	}
	scraped, created, updated, errs := counterArgs(upd.Counters)
	query := `
		UPDATE pricewatch.scrape_jobs SET
			products_scraped = $2, products_new = $3, products_updated = $4, errors_count = $5
		WHERE id = $1 AND status = 'running'
	`
	if _, err := s.db.ExecContext(ctx, query, id, scraped, created, updated, errs); err != nil {
		return fmt.Errorf("failed to update progress of job %d: %w", id, err)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.ScrapeJob, error) {
	var where []string
	var args []any
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM pricewatch.scrape_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultJobListLimit
	}
	query, args = withPaging(query, args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования jobs: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return out, nil
}

func (s *Store) JobStats(ctx context.Context) (*models.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, status, COUNT(*) FROM pricewatch.scrape_jobs GROUP BY source, status`)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения job stats: %w", err)
	}
	defer rows.Close()

	stats := &models.JobStats{
		ByStatus: make(map[models.JobStatus]int),
		BySource: make(map[models.Source]int),
	}
	for rows.Next() {
		var source models.Source
		var status models.JobStatus
		var n int
		if err := rows.Scan(&source, &status, &n); err != nil {
			return nil, fmt.Errorf("ошибка сканирования job stats: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySource[source] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return stats, nil
}
