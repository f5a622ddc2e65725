package infrastructure

import "database/sql"

const ProductLinksMigration = "pricewatch.product_links"

// ProductLinksTable: пара хранится в каноническом порядке (product_a_id < product_b_id),
// NULL единицы сравниваются через COALESCE, чтобы уникальность работала и без единиц.
type ProductLinksTable struct{}

func (m *ProductLinksTable) UpMigration(db *sql.DB) error {
	return runOnce(db, ProductLinksMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.product_links (
			id BIGSERIAL PRIMARY KEY,
			product_a_id BIGINT NOT NULL REFERENCES pricewatch.products(id) ON DELETE CASCADE,
			product_b_id BIGINT NOT NULL REFERENCES pricewatch.products(id) ON DELETE CASCADE,
			unit_a_id BIGINT REFERENCES pricewatch.product_units(id) ON DELETE CASCADE,
			unit_b_id BIGINT REFERENCES pricewatch.product_units(id) ON DELETE CASCADE,
			link_type VARCHAR(20) NOT NULL,
			confidence_score NUMERIC(4, 3) NOT NULL DEFAULT 1.0,
			match_reason TEXT,
			verified_by VARCHAR(100),
			verified_at TIMESTAMP WITH TIME ZONE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_product_link_order CHECK (product_a_id < product_b_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_product_links_tuple ON pricewatch.product_links
			(product_a_id, product_b_id, COALESCE(unit_a_id, 0), COALESCE(unit_b_id, 0));
		CREATE INDEX IF NOT EXISTS idx_product_links_b ON pricewatch.product_links(product_b_id);
	`)
}
