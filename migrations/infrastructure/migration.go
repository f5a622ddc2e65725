package infrastructure

import (
	"database/sql"
	"fmt"
	"log"

	"gomarket_pricewatch/pkg/dbconnect/migration"
)

const (
	PricewatchSchemaMigration = "pricewatch.schema"
	CategoriesMigration       = "pricewatch.categories"
	BrandsMigration           = "pricewatch.brands"
	ProductsMigration         = "pricewatch.products"
	ProductUnitsMigration     = "pricewatch.product_units"
	ScrapeJobsMigration       = "pricewatch.scrape_jobs"
	PriceRecordsMigration     = "pricewatch.price_records"
	CredentialsMigration      = "pricewatch.credentials"
)

// All returns the migrations in dependency order.
func All() []migration.MigrationInterface {
	return []migration.MigrationInterface{
		&MigrationsSchema{},
		&PricewatchSchema{},
		&CategoriesTable{},
		&BrandsTable{},
		&ProductsTable{},
		&ProductUnitsTable{},
		&ScrapeJobsTable{},
		&PriceRecordsTable{},
		&CredentialsTable{},
		&ProductLinksTable{},
	}
}

type MigrationsSchema struct{}

func (m *MigrationsSchema) UpMigration(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS migrations;`)
	if err != nil {
		return fmt.Errorf("failed to create migrations schema: %w", err)
	}
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS migrations.migrations (
            id SERIAL PRIMARY KEY,
            time TIMESTAMP NOT NULL,
            name VARCHAR(255) UNIQUE NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

type PricewatchSchema struct{}

func (m *PricewatchSchema) UpMigration(db *sql.DB) error {
	return runOnce(db, PricewatchSchemaMigration, `CREATE SCHEMA IF NOT EXISTS pricewatch;`)
}

type CategoriesTable struct{}

func (m *CategoriesTable) UpMigration(db *sql.DB) error {
	return runOnce(db, CategoriesMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.categories (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL,
			external_id VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			name_ar VARCHAR(255),
			parent_external_id VARCHAR(100),
			image_url TEXT,
			sort_order INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_category_source_external UNIQUE (source, external_id)
		);
	`)
}

type BrandsTable struct{}

func (m *BrandsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, BrandsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.brands (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL,
			external_id VARCHAR(100) NOT NULL,
			name VARCHAR(255) NOT NULL,
			name_ar VARCHAR(255),
			image_url TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_brand_source_external UNIQUE (source, external_id)
		);
	`)
}

type ProductsTable struct{}

func (m *ProductsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, ProductsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.products (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL,
			external_id VARCHAR(100) NOT NULL,
			name VARCHAR(500) NOT NULL,
			name_ar VARCHAR(500),
			description TEXT,
			sku VARCHAR(100),
			barcode VARCHAR(100),
			brand VARCHAR(255),
			category_id BIGINT REFERENCES pricewatch.categories(id) ON DELETE SET NULL,
			image_url TEXT,
			unit_type VARCHAR(50),
			min_order_quantity INT NOT NULL DEFAULT 1,
			max_order_quantity INT,
			extra_data JSONB,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			first_seen_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_product_source_external UNIQUE (source, external_id)
		);
		CREATE INDEX IF NOT EXISTS idx_products_barcode ON pricewatch.products(barcode) WHERE barcode IS NOT NULL AND barcode <> '';
		CREATE INDEX IF NOT EXISTS idx_products_source ON pricewatch.products(source);
	`)
}

type ProductUnitsTable struct{}

func (m *ProductUnitsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, ProductUnitsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.product_units (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES pricewatch.products(id) ON DELETE CASCADE,
			external_id VARCHAR(100) NOT NULL,
			name VARCHAR(100) NOT NULL,
			name_ar VARCHAR(100),
			factor INT NOT NULL DEFAULT 1,
			barcode VARCHAR(100),
			is_base_unit BOOLEAN NOT NULL DEFAULT FALSE,
			min_quantity INT NOT NULL DEFAULT 1,
			max_quantity INT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			CONSTRAINT uq_unit_product_external UNIQUE (product_id, external_id)
		);
		CREATE INDEX IF NOT EXISTS idx_units_barcode ON pricewatch.product_units(barcode) WHERE barcode IS NOT NULL AND barcode <> '';
	`)
}

// Частичный уникальный индекс не дает создать вторую активную задачу для источника.
type ScrapeJobsTable struct{}

func (m *ScrapeJobsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, ScrapeJobsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.scrape_jobs (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL,
			job_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			products_scraped INT NOT NULL DEFAULT 0,
			products_new INT NOT NULL DEFAULT 0,
			products_updated INT NOT NULL DEFAULT 0,
			errors_count INT NOT NULL DEFAULT 0,
			error_details JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_scrape_jobs_active_source
			ON pricewatch.scrape_jobs(source) WHERE status IN ('pending', 'running');
		CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created ON pricewatch.scrape_jobs(created_at DESC);
	`)
}

type PriceRecordsTable struct{}

func (m *PriceRecordsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, PriceRecordsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.price_records (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL REFERENCES pricewatch.products(id) ON DELETE CASCADE,
			unit_id BIGINT REFERENCES pricewatch.product_units(id) ON DELETE CASCADE,
			source VARCHAR(50) NOT NULL,
			price NUMERIC(12, 2) NOT NULL,
			original_price NUMERIC(12, 2),
			currency VARCHAR(3) NOT NULL DEFAULT 'EGP',
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			scrape_job_id BIGINT REFERENCES pricewatch.scrape_jobs(id) ON DELETE SET NULL
		);
		CREATE INDEX IF NOT EXISTS idx_price_records_latest
			ON pricewatch.price_records(product_id, unit_id, recorded_at DESC);
		CREATE INDEX IF NOT EXISTS idx_price_records_recorded ON pricewatch.price_records(recorded_at);
	`)
}

type CredentialsTable struct{}

func (m *CredentialsTable) UpMigration(db *sql.DB) error {
	return runOnce(db, CredentialsMigration, `
		CREATE TABLE IF NOT EXISTS pricewatch.credentials (
			id BIGSERIAL PRIMARY KEY,
			source VARCHAR(50) NOT NULL UNIQUE,
			username VARCHAR(255),
			password_encrypted TEXT,
			access_token TEXT,
			refresh_token TEXT,
			token_expires_at TIMESTAMP WITH TIME ZONE,
			device_id VARCHAR(64),
			additional_headers JSONB,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_login_at TIMESTAMP WITH TIME ZONE,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`)
}

func runOnce(db *sql.DB, name, query string) error {
	var migrationExists bool
	err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM migrations.migrations WHERE name = $1)", name).Scan(&migrationExists)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if migrationExists {
		log.Printf("Migration '%s' already completed. Skipping.", name)
		return nil
	}
	if _, err = db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute migration '%s': %w", name, err)
	}
	_, err = db.Exec("INSERT INTO migrations.migrations (name, time) VALUES ($1, current_timestamp)", name)
	if err != nil {
		return fmt.Errorf("failed to mark '%s' migration as complete: %w", name, err)
	}
	log.Printf("Migration '%s' completed successfully.", name)
	return nil
}
