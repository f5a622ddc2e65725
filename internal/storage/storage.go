package storage

import (
	"context"
	"errors"
	"time"

	"gomarket_pricewatch/internal/core/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrJobActive         = errors.New("a pending or running job already exists for this source")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

type ProductFilter struct {
	Source      models.Source
	WithBarcode bool
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// CatalogStore - upsert по естественному ключу (source, external_id): повторная запись не создает дублей.
type CatalogStore interface {
	UpsertCategory(ctx context.Context, c *models.Category) (*models.Category, bool, error)
	UpsertBrand(ctx context.Context, b *models.Brand) (*models.Brand, bool, error)
	// UpsertProduct resolves CategoryExternalID to CategoryID within the product's source.
	UpsertProduct(ctx context.Context, p *models.Product) (*models.Product, bool, error)
	UpsertUnit(ctx context.Context, u *models.ProductUnit) (*models.ProductUnit, bool, error)

	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProducts(ctx context.Context, ids []int64) ([]*models.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]*models.Product, error)
	ListProductsByBarcode(ctx context.Context, barcode string) ([]*models.Product, error)
	GetUnit(ctx context.Context, id int64) (*models.ProductUnit, error)
	ListUnits(ctx context.Context, productID int64) ([]*models.ProductUnit, error)
	ListUnitsWithBarcode(ctx context.Context) ([]*models.ProductUnit, error)
}

type PriceStore interface {
	LatestPrice(ctx context.Context, productID int64, unitID *int64) (*models.PriceRecord, error)
	// AppendPriceIfChanged appends a record only when price or availability differs
	// from the latest record of the same (product, unit). It returns nil when nothing changed.
	AppendPriceIfChanged(ctx context.Context, productID int64, unitID *int64, source models.Source,
		obs models.PriceObservation, jobID *int64) (*models.PriceRecord, error)
	// PriceHistory is ordered by recorded_at ascending.
	PriceHistory(ctx context.Context, productID int64, unitID *int64, limit int) ([]*models.PriceRecord, error)
	DeletePricesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobCounters struct {
	Scraped int
	New     int
	Updated int
	Errors  int
}

// JobUpdate carries the fields written together with a status transition.
// A nil Counters leaves the stored counters untouched.
type JobUpdate struct {
	At           time.Time
	Counters     *JobCounters
	ErrorDetails *models.ErrorDetails
}

type JobStore interface {
	// CreateJobIfIdle atomically rejects the new job with ErrJobActive when the
	// source already has a pending or running job.
	CreateJobIfIdle(ctx context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error)
	GetJob(ctx context.Context, id int64) (*models.ScrapeJob, error)
	// TransitionJob applies the transition only if it is legal from the stored status,
	// returning ErrInvalidTransition otherwise.
	TransitionJob(ctx context.Context, id int64, to models.JobStatus, upd JobUpdate) (*models.ScrapeJob, error)
	UpdateJobProgress(ctx context.Context, id int64, upd JobUpdate) error
	ListJobs(ctx context.Context, f models.JobFilter) ([]*models.ScrapeJob, error)
	JobStats(ctx context.Context) (*models.JobStats, error)
}

type CredentialStore interface {
	GetCredential(ctx context.Context, source models.Source) (*models.Credential, error)
	SaveCredential(ctx context.Context, c *models.Credential) error
}

type LinkStore interface {
	// CreateLink inserts in canonical order; on a duplicate 4-tuple it returns the
	// existing row and false.
	CreateLink(ctx context.Context, l *models.ProductLink) (*models.ProductLink, bool, error)
	GetLink(ctx context.Context, id int64) (*models.ProductLink, error)
	VerifyLink(ctx context.Context, id int64, verifiedBy string, at time.Time) (*models.ProductLink, error)
	DeleteLink(ctx context.Context, id int64) (bool, error)
	// HasActiveLink reports any active link between the two products, at any unit level.
	HasActiveLink(ctx context.Context, productA, productB int64) (bool, error)
	LinksForProduct(ctx context.Context, productID int64) ([]*models.ProductLink, error)
	ListActiveLinks(ctx context.Context) ([]*models.ProductLink, error)
}

type Store interface {
	CatalogStore
	PriceStore
	JobStore
	CredentialStore
	LinkStore
	Ping(ctx context.Context) error
}
