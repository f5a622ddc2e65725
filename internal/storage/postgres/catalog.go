package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

const productColumns = `id, source, external_id, name, COALESCE(name_ar, ''), COALESCE(description, ''),
	COALESCE(sku, ''), COALESCE(barcode, ''), COALESCE(brand, ''), category_id, COALESCE(image_url, ''),
	COALESCE(unit_type, ''), min_order_quantity, max_order_quantity, extra_data, is_active, first_seen_at, last_seen_at`

const unitColumns = `id, product_id, external_id, name, COALESCE(name_ar, ''), factor, COALESCE(barcode, ''),
	is_base_unit, min_quantity, max_quantity, is_active`

func scanProduct(row scanner) (*models.Product, error) {
	var p models.Product
	var extra []byte
	err := row.Scan(&p.ID, &p.Source, &p.ExternalID, &p.Name, &p.NameAr, &p.Description,
		&p.SKU, &p.Barcode, &p.Brand, &p.CategoryID, &p.ImageURL,
		&p.UnitType, &p.MinOrderQuantity, &p.MaxOrderQuantity, &extra, &p.IsActive, &p.FirstSeenAt, &p.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		p.ExtraData = extra
	}
	return &p, nil
}

func scanUnit(row scanner) (*models.ProductUnit, error) {
	var u models.ProductUnit
	err := row.Scan(&u.ID, &u.ProductID, &u.ExternalID, &u.Name, &u.NameAr, &u.Factor, &u.Barcode,
		&u.IsBaseUnit, &u.MinQuantity, &u.MaxQuantity, &u.IsActive)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpsertCategory(ctx context.Context, c *models.Category) (*models.Category, bool, error) {
	query := `
		INSERT INTO pricewatch.categories (source, external_id, name, name_ar, parent_external_id, image_url, sort_order, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_ar = EXCLUDED.name_ar,
			parent_external_id = EXCLUDED.parent_external_id,
			image_url = EXCLUDED.image_url,
			sort_order = EXCLUDED.sort_order,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`
	out := *c
	var inserted bool
	err := s.db.QueryRowContext(ctx, query, c.Source, c.ExternalID, c.Name, c.NameAr, c.ParentExternalID,
		c.ImageURL, c.SortOrder, c.IsActive).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert category %s/%s: %w", c.Source, c.ExternalID, err)
	}
	return &out, inserted, nil
}

func (s *Store) UpsertBrand(ctx context.Context, b *models.Brand) (*models.Brand, bool, error) {
	query := `
		INSERT INTO pricewatch.brands (source, external_id, name, name_ar, image_url)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_ar = EXCLUDED.name_ar,
			image_url = EXCLUDED.image_url,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`
	out := *b
	var inserted bool
	err := s.db.QueryRowContext(ctx, query, b.Source, b.ExternalID, b.Name, b.NameAr, b.ImageURL).
		Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert brand %s/%s: %w", b.Source, b.ExternalID, err)
	}
	return &out, inserted, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) (*models.Product, bool, error) {
	query := `
		INSERT INTO pricewatch.products (source, external_id, name, name_ar, description, sku, barcode, brand,
			category_id, image_url, unit_type, min_order_quantity, max_order_quantity, extra_data, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9, (SELECT id FROM pricewatch.categories WHERE source = $1 AND external_id = $16)),
			NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14::jsonb, $15)
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_ar = EXCLUDED.name_ar,
			description = EXCLUDED.description,
			sku = EXCLUDED.sku,
			barcode = EXCLUDED.barcode,
			brand = EXCLUDED.brand,
			category_id = COALESCE(EXCLUDED.category_id, pricewatch.products.category_id),
			image_url = EXCLUDED.image_url,
			unit_type = EXCLUDED.unit_type,
			min_order_quantity = EXCLUDED.min_order_quantity,
			max_order_quantity = EXCLUDED.max_order_quantity,
			extra_data = EXCLUDED.extra_data,
			is_active = EXCLUDED.is_active,
			last_seen_at = NOW()
		RETURNING ` + productColumns + `, (xmax = 0)
	`
	minQty := p.MinOrderQuantity
	if minQty <= 0 {
		minQty = 1
	}
	var inserted bool
	row := s.db.QueryRowContext(ctx, query, p.Source, p.ExternalID, p.Name, p.NameAr, p.Description, p.SKU,
		strings.TrimSpace(p.Barcode), p.Brand, p.CategoryID, p.ImageURL, p.UnitType, minQty, p.MaxOrderQuantity,
		nullJSON(p.ExtraData), p.IsActive, p.CategoryExternalID)
	out, err := scanProduct(rowWithTail{row, &inserted})
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert product %s/%s: %w", p.Source, p.ExternalID, err)
	}
	out.CategoryExternalID = p.CategoryExternalID
	return out, inserted, nil
}

// rowWithTail appends extra destinations after the standard column set.
type rowWithTail struct {
	row  scanner
	tail *bool
}

func (r rowWithTail) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.tail)...)
}

func (s *Store) UpsertUnit(ctx context.Context, u *models.ProductUnit) (*models.ProductUnit, bool, error) {
	query := `
		INSERT INTO pricewatch.product_units (product_id, external_id, name, name_ar, factor, barcode,
			is_base_unit, min_quantity, max_quantity, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10)
		ON CONFLICT (product_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			name_ar = EXCLUDED.name_ar,
			factor = EXCLUDED.factor,
			barcode = EXCLUDED.barcode,
			is_base_unit = EXCLUDED.is_base_unit,
			min_quantity = EXCLUDED.min_quantity,
			max_quantity = EXCLUDED.max_quantity,
			is_active = EXCLUDED.is_active
		RETURNING ` + unitColumns + `, (xmax = 0)
	`
	minQty := u.MinQuantity
	if minQty <= 0 {
		minQty = 1
	}
	var inserted bool
	row := s.db.QueryRowContext(ctx, query, u.ProductID, u.ExternalID, u.Name, u.NameAr, u.EffectiveFactor(),
		strings.TrimSpace(u.Barcode), u.IsBaseUnit, minQty, u.MaxQuantity, u.IsActive)
	out, err := scanUnit(rowWithTail{row, &inserted})
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return nil, false, storage.ErrNotFound
		}
		return nil, false, fmt.Errorf("failed to upsert unit %d/%s: %w", u.ProductID, u.ExternalID, err)
	}
	return out, inserted, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM pricewatch.products WHERE id = $1`
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []int64) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM pricewatch.products WHERE id = ANY($1) ORDER BY id`
	return s.queryProducts(ctx, query, pq.Array(ids))
}

func (s *Store) ListProducts(ctx context.Context, f storage.ProductFilter) ([]*models.Product, error) {
	var where []string
	var args []any
	if f.Source != "" {
		args = append(args, f.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if f.WithBarcode {
		where = append(where, "barcode IS NOT NULL AND barcode <> ''")
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	query := `SELECT ` + productColumns + ` FROM pricewatch.products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	query, args = withPaging(query, args, f.Limit, f.Offset)
	return s.queryProducts(ctx, query, args...)
}

func (s *Store) ListProductsByBarcode(ctx context.Context, barcode string) ([]*models.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, nil
	}
	query := `SELECT ` + productColumns + ` FROM pricewatch.products WHERE barcode = $1 ORDER BY id`
	return s.queryProducts(ctx, query, barcode)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]*models.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования products: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return out, nil
}

func (s *Store) GetUnit(ctx context.Context, id int64) (*models.ProductUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM pricewatch.product_units WHERE id = $1`
	u, err := scanUnit(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get unit %d: %w", id, err)
	}
	return u, nil
}

func (s *Store) ListUnits(ctx context.Context, productID int64) ([]*models.ProductUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM pricewatch.product_units WHERE product_id = $1 ORDER BY factor, id`
	return s.queryUnits(ctx, query, productID)
}

func (s *Store) ListUnitsWithBarcode(ctx context.Context) ([]*models.ProductUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM pricewatch.product_units
		WHERE barcode IS NOT NULL AND barcode <> '' AND is_active ORDER BY factor, id`
	return s.queryUnits(ctx, query)
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...any) ([]*models.ProductUnit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса для получения units: %w", err)
	}
	defer rows.Close()

	var out []*models.ProductUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования units: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка при итерации по строкам: %w", err)
	}
	return out, nil
}

func withPaging(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
