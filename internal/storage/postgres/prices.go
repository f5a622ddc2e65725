package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gomarket_pricewatch/internal/core/models"
)

const priceColumns = `id, product_id, unit_id, source, price, original_price, currency, is_available, recorded_at, scrape_job_id`

func scanPrice(row scanner) (*models.PriceRecord, error) {
	var r models.PriceRecord
	err := row.Scan(&r.ID, &r.ProductID, &r.UnitID, &r.Source, &r.Price, &r.OriginalPrice, &r.Currency,
		&r.IsAvailable, &r.RecordedAt, &r.ScrapeJobID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestPrice(ctx context.Context, q queryRower, productID int64, unitID *int64) (*models.PriceRecord, error) {
	query := `
		SELECT ` + priceColumns + ` FROM pricewatch.price_records
		WHERE product_id = $1 AND unit_id IS NOT DISTINCT FROM $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	r, err := scanPrice(q.QueryRowContext(ctx, query, productID, unitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest price for product %d: %w", productID, err)
	}
	return r, nil
}

func (s *Store) LatestPrice(ctx context.Context, productID int64, unitID *int64) (*models.PriceRecord, error) {
	return latestPrice(ctx, s.db, productID, unitID)
}

// AppendPriceIfChanged держит advisory-lock по товару до конца транзакции,
// чтобы два прогона не записали одно и то же изменение дважды.
func (s *Store) AppendPriceIfChanged(ctx context.Context, productID int64, unitID *int64, source models.Source,
	obs models.PriceObservation, jobID *int64) (*models.PriceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin price transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, productID); err != nil {
		return nil, fmt.Errorf("failed to lock product %d prices: %w", productID, err)
	}
	latest, err := latestPrice(ctx, tx, productID, unitID)
	if err != nil {
		return nil, err
	}
	if !obs.Differs(latest) {
		return nil, nil
	}

	query := `
		INSERT INTO pricewatch.price_records (product_id, unit_id, source, price, original_price, currency, is_available, scrape_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + priceColumns
	rec, err := scanPrice(tx.QueryRowContext(ctx, query, productID, unitID, source, obs.Price, obs.OriginalPrice,
		models.DefaultCurrency, obs.IsAvailable, jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to append price for product %d: %w", productID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit price for product %d: %w", productID, err)
	}
	return rec, nil
}

func (s *Store) PriceHistory(ctx context.Context, productID int64, unitID *int64, limit int) ([]*models.PriceRecord, error) {
	query := `
		SELECT * FROM (
			SELECT ` + priceColumns + ` FROM pricewatch.price_records
			WHERE product_id = $1 AND unit_id IS NOT DISTINCT FROM $2
			ORDER BY recorded_at DESC, id DESC
			LIMIT $3
		) h ORDER BY recorded_at, id
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, query, productID, unitID, lim)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения price history: %w", err)
	}
	defer rows.Close()

	var out []*models.PriceRecord
	for rows.Next() {
		r, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования price history: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return out, nil
}

func (s *Store) DeletePricesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pricewatch.price_records WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete prices before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
