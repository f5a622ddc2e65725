package tagerelsaada

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
	"gomarket_pricewatch/pkg/logger"
)

const (
	DefaultPerPage = 100
	// защита от бесконечной пагинации, если meta.last_page не приходит
	maxPages = 1000

	categoriesEndpoint = "v1/categories"
	vendorsEndpoint    = "v1/attributes/vendors"
	productsEndpoint   = "v1/products"
)

var defaultHeaders = map[string]string{
	"Accept":          "application/json",
	"User-Agent":      "Dart/3.0 (dart:io)",
	"Accept-Language": "ar",
}

// Adapter работает с публичным API Тагер Эльсаада. Авторизация не нужна,
// каталог отдается постранично вместе с единицами упаковки и ценами.
type Adapter struct {
	client  *clients.BaseClient
	log     logger.Logger
	perPage int
}

func New(client *clients.BaseClient, log logger.Logger, perPage int) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	for k, v := range defaultHeaders {
		client.SetHeader(k, v)
	}
	return &Adapter{client: client, log: log, perPage: perPage}
}

func (a *Adapter) Source() models.Source {
	return models.SourceTagerElsaada
}

// Authenticate always succeeds, the API is anonymous.
func (a *Adapter) Authenticate(ctx context.Context) (bool, error) {
	return true, ctx.Err()
}

func (a *Adapter) Jitter() *ratelimit.Jitter {
	return a.client.Jitter()
}

func (a *Adapter) FetchCategories(ctx context.Context) ([]services.RawRecord, error) {
	var resp any
	if err := a.client.Get(ctx, categoriesEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	categories := services.ExtractList(resp, "data")
	a.log.Log("fetched %d categories", len(categories))
	return categories, nil
}

// FetchProducts pages through the products of one category.
func (a *Adapter) FetchProducts(ctx context.Context, categoryID string) ([]services.RawRecord, error) {
	q := url.Values{}
	if categoryID != "" {
		q.Set("category_id", categoryID)
	}
	products, err := a.paginate(ctx, productsEndpoint, q)
	if err != nil {
		return nil, fmt.Errorf("fetch products of category %s: %w", categoryID, err)
	}
	for _, p := range products {
		if categoryID != "" && !p.Has("category_id") {
			p["category_id"] = categoryID
		}
	}
	return products, nil
}

func (a *Adapter) FetchAllProducts(ctx context.Context) ([]services.RawRecord, error) {
	products, err := a.paginate(ctx, productsEndpoint, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}
	a.log.Log("fetched %d products", len(products))
	return products, nil
}

// FetchBrands returns vendors, the source's notion of a brand.
func (a *Adapter) FetchBrands(ctx context.Context) ([]services.RawRecord, error) {
	vendors, err := a.paginate(ctx, vendorsEndpoint, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetch vendors: %w", err)
	}
	a.log.Log("fetched %d vendors", len(vendors))
	return vendors, nil
}

// paginate читает data.data страница за страницей до data.meta.last_page или пустой страницы.
func (a *Adapter) paginate(ctx context.Context, endpoint string, q url.Values) ([]services.RawRecord, error) {
	var out []services.RawRecord
	q.Set("per_page", strconv.Itoa(a.perPage))
	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := a.client.Jitter().WaitPage(ctx); err != nil {
				return out, err
			}
		}
		q.Set("page", strconv.Itoa(page))
		var resp any
		if err := a.client.Get(ctx, endpoint, q, &resp); err != nil {
			return out, fmt.Errorf("page %d: %w", page, err)
		}
		items := services.ExtractList(resp, "data.data", "data")
		if len(items) == 0 {
			break
		}
		out = append(out, items...)
		if page >= lastPage(resp) {
			break
		}
	}
	return out, nil
}

func lastPage(resp any) int {
	root, ok := resp.(map[string]any)
	if !ok {
		return 1
	}
	data := services.RawRecord(root).Record("data")
	if data == nil {
		return 1
	}
	meta := data.Record("meta")
	if meta == nil {
		return 1
	}
	if last, ok := meta.Int("last_page"); ok && last > 0 {
		return last
	}
	return 1
}
