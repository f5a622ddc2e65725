package services

import (
	"context"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
)

// SourceAdapter определяет операции, которые должен поддерживать адаптер источника.
// Адаптер делает только сетевые запросы и преобразование данных, в базу каталога он не пишет.
type SourceAdapter interface {
	Source() models.Source

	// Authenticate ensures a usable token; false means the source rejected every attempt.
	Authenticate(ctx context.Context) (bool, error)

	FetchCategories(ctx context.Context) ([]RawRecord, error)
	// FetchProducts returns the raw products of one category.
	FetchProducts(ctx context.Context, categoryID string) ([]RawRecord, error)

	ParseCategory(raw RawRecord) (*models.Category, error)
	ParseProduct(raw RawRecord) (*ParsedProduct, error)
}

// CatalogFetcher is implemented by sources that page through the whole catalog
// instead of listing it per category.
type CatalogFetcher interface {
	FetchAllProducts(ctx context.Context) ([]RawRecord, error)
}

type OfferFetcher interface {
	FetchOffers(ctx context.Context) ([]RawRecord, error)
}

// BestSellerFetcher отдает список популярных товаров; offers-прогон обрабатывает его после акций.
type BestSellerFetcher interface {
	FetchBestSellers(ctx context.Context) ([]RawRecord, error)
}

type BrandFetcher interface {
	FetchBrands(ctx context.Context) ([]RawRecord, error)
	ParseBrand(raw RawRecord) (*models.Brand, error)
}

// Paced exposes the adapter's jitter so a run can pause at session start and between pages.
type Paced interface {
	Jitter() *ratelimit.Jitter
}

// ParsedUnit - единица упаковки и ее цена из одного ответа источника.
type ParsedUnit struct {
	Unit        models.ProductUnit
	Observation *models.PriceObservation
}

// ParsedProduct is a product with its packaging units. Observation is the
// product-level price used when the source has no units.
type ParsedProduct struct {
	Product     models.Product
	Units       []ParsedUnit
	Observation *models.PriceObservation
}
