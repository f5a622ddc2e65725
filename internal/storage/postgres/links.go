package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

const linkColumns = `id, product_a_id, product_b_id, unit_a_id, unit_b_id, link_type, confidence_score,
	COALESCE(match_reason, ''), COALESCE(verified_by, ''), verified_at, is_active, created_at, updated_at`

func scanLink(row scanner) (*models.ProductLink, error) {
	var l models.ProductLink
	err := row.Scan(&l.ID, &l.ProductAID, &l.ProductBID, &l.UnitAID, &l.UnitBID, &l.LinkType, &l.ConfidenceScore,
		&l.MatchReason, &l.VerifiedBy, &l.VerifiedAt, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateLink(ctx context.Context, l *models.ProductLink) (*models.ProductLink, bool, error) {
	key := models.Canonicalize(l.ProductAID, l.ProductBID, l.UnitAID, l.UnitBID)
	unitA, unitB := key.UnitPointers()

	query := `
		INSERT INTO pricewatch.product_links (product_a_id, product_b_id, unit_a_id, unit_b_id, link_type,
			confidence_score, match_reason, verified_by, verified_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		ON CONFLICT (product_a_id, product_b_id, COALESCE(unit_a_id, 0), COALESCE(unit_b_id, 0)) DO NOTHING
		RETURNING ` + linkColumns
	created, err := scanLink(s.db.QueryRowContext(ctx, query, key.ProductAID, key.ProductBID, unitA, unitB,
		l.LinkType, l.ConfidenceScore, l.MatchReason, l.VerifiedBy, l.VerifiedAt, l.IsActive))
	switch {
	case err == nil:
		return created, true, nil
	case pqCode(err) == foreignKeyViolation:
		return nil, false, storage.ErrNotFound
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to create link %d-%d: %w", key.ProductAID, key.ProductBID, err)
	}

	existing, err := scanLink(s.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM pricewatch.product_links
		WHERE product_a_id = $1 AND product_b_id = $2
			AND COALESCE(unit_a_id, 0) = $3 AND COALESCE(unit_b_id, 0) = $4
	`, key.ProductAID, key.ProductBID, key.UnitAID, key.UnitBID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing link %d-%d: %w", key.ProductAID, key.ProductBID, err)
	}
	return existing, false, nil
}

func (s *Store) GetLink(ctx context.Context, id int64) (*models.ProductLink, error) {
	l, err := scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM pricewatch.product_links WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link %d: %w", id, err)
	}
	return l, nil
}

func (s *Store) VerifyLink(ctx context.Context, id int64, verifiedBy string, at time.Time) (*models.ProductLink, error) {
	query := `
		UPDATE pricewatch.product_links SET
			verified_by = NULLIF($2, ''),
			verified_at = $3,
			link_type = CASE WHEN link_type = 'suggested' THEN 'verified' ELSE link_type END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + linkColumns
	l, err := scanLink(s.db.QueryRowContext(ctx, query, id, verifiedBy, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to verify link %d: %w", id, err)
	}
	return l, nil
}

func (s *Store) DeleteLink(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pricewatch.product_links WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete link %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) HasActiveLink(ctx context.Context, productA, productB int64) (bool, error) {
	if productA > productB {
		productA, productB = productB, productA
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pricewatch.product_links
			WHERE product_a_id = $1 AND product_b_id = $2 AND is_active)
	`, productA, productB).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check link %d-%d: %w", productA, productB, err)
	}
	return exists, nil
}

func (s *Store) LinksForProduct(ctx context.Context, productID int64) ([]*models.ProductLink, error) {
	return s.queryLinks(ctx, `SELECT `+linkColumns+` FROM pricewatch.product_links
		WHERE is_active AND (product_a_id = $1 OR product_b_id = $1) ORDER BY id`, productID)
}

func (s *Store) ListActiveLinks(ctx context.Context) ([]*models.ProductLink, error) {
	return s.queryLinks(ctx, `SELECT `+linkColumns+` FROM pricewatch.product_links WHERE is_active ORDER BY id`)
}

func (s *Store) queryLinks(ctx context.Context, query string, args ...any) ([]*models.ProductLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения links: %w", err)
	}
	defer rows.Close()

	var out []*models.ProductLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования links: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return out, nil
}
