package bensoliman

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/auth"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
	"gomarket_pricewatch/pkg/logger"
)

const (
	DefaultDomainID     = 2
	DefaultImageBaseURL = "http://37.148.206.212/Icons"

	// Токен Бен Сулейман живет около 10 лет, поэтому кэшируется до явной инвалидации.
	tokenLifetime = 315360000 * time.Second

	loginEndpoint      = "customer_app/api/v2/login"
	categoriesEndpoint = "customer_app/api/v2/categories"
	itemsEndpoint      = "customer_app/api/v2/items"
	brandsEndpoint     = "customer_app/api/v2/brands"
	offersEndpoint     = "customer_app/api/v2/offers"
)

var defaultHeaders = map[string]string{
	"User-Agent":      "Dart/3.9 (dart:io)",
	"Accept-Language": "ar",
	"Accept-Encoding": "gzip",
	"os":              "android",
}

type Options struct {
	DomainID     int
	ImageBaseURL string
}

// Adapter работает с API Бен Сулейман: долгоживущий bearer-токен, товары по категориям.
type Adapter struct {
	client   *clients.BaseClient
	tokens   *auth.TokenManager
	log      logger.Logger
	domainID int
	imageURL string
}

func New(client *clients.BaseClient, tokens *auth.TokenManager, log logger.Logger, opts Options) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	if opts.DomainID <= 0 {
		opts.DomainID = DefaultDomainID
	}
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = DefaultImageBaseURL
	}
	for k, v := range defaultHeaders {
		client.SetHeader(k, v)
	}
	return &Adapter{
		client:   client,
		tokens:   tokens,
		log:      log,
		domainID: opts.DomainID,
		imageURL: opts.ImageBaseURL,
	}
}

func (a *Adapter) Source() models.Source {
	return models.SourceBenSoliman
}

// Authenticate reuses the cached token while it is valid and logs in otherwise.
func (a *Adapter) Authenticate(ctx context.Context) (bool, error) {
	lock := a.tokens.RefreshLock(a.Source())
	lock.Lock()
	defer lock.Unlock()

	cred, err := a.tokens.Credential(ctx, a.Source())
	if err != nil {
		return false, err
	}
	if cred == nil || cred.Username == "" {
		a.log.Error("no credentials stored for %s", a.Source())
		return false, nil
	}
	if cred.DeviceID != "" && a.client.Fingerprint() != nil {
		a.client.Fingerprint().SetDeviceID(cred.DeviceID)
	}

	valid, err := a.tokens.IsTokenValid(ctx, a.Source())
	if err != nil {
		return false, err
	}
	if valid {
		a.client.SetAuthToken(cred.AccessToken)
		a.log.Log("using cached authentication token")
		return true, nil
	}

	password, err := a.tokens.Password(ctx, a.Source())
	if err != nil {
		return false, fmt.Errorf("decrypt %s password: %w", a.Source(), err)
	}

	var resp services.RawRecord
	err = a.client.Do(ctx, clients.Request{
		Method:     http.MethodPost,
		Endpoint:   loginEndpoint,
		Query:      url.Values{"is_reset_password": {"false"}},
		JSON:       map[string]string{"Mob": cred.Username, "Password": password},
		SkipJitter: true,
	}, &resp)
	if err != nil {
		var authErr *clients.AuthenticationError
		if errors.As(err, &authErr) {
			a.log.Error("login rejected: %v", err)
			return false, nil
		}
		return false, fmt.Errorf("login: %w", err)
	}

	token := resp.First("token", "access_token")
	if token == "" {
		if data := resp.Record("data"); data != nil {
			token = data.String("token")
		}
	}
	if token == "" {
		a.log.Error("no token in authentication response")
		return false, nil
	}

	expiresAt := auth.TokenExpiry(token)
	if expiresAt != nil {
		err = a.tokens.StoreTokensUntil(ctx, a.Source(), token, "", expiresAt)
	} else {
		err = a.tokens.StoreTokens(ctx, a.Source(), token, "", tokenLifetime)
	}
	if err != nil {
		return false, err
	}
	if fp := a.client.Fingerprint(); fp != nil && cred.DeviceID != fp.DeviceID() {
		if err := a.tokens.SetDeviceID(ctx, a.Source(), fp.DeviceID()); err != nil {
			return false, err
		}
	}
	a.client.SetAuthToken(token)
	a.log.Log("successfully authenticated")
	return true, nil
}

func (a *Adapter) Jitter() *ratelimit.Jitter {
	return a.client.Jitter()
}

func (a *Adapter) FetchCategories(ctx context.Context) ([]services.RawRecord, error) {
	var resp any
	if err := a.get(ctx, categoriesEndpoint, a.query(), &resp); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	categories := services.ExtractList(resp, "categories")
	a.log.Log("fetched %d categories", len(categories))
	return categories, nil
}

func (a *Adapter) FetchProducts(ctx context.Context, categoryID string) ([]services.RawRecord, error) {
	q := a.query()
	if categoryID != "" {
		q.Set("category_id", categoryID)
	}
	var resp any
	if err := a.get(ctx, itemsEndpoint, q, &resp); err != nil {
		return nil, fmt.Errorf("fetch products of category %s: %w", categoryID, err)
	}
	products := services.ExtractList(resp, "data")
	// Ответ не всегда несет код категории, проставляем запрошенный.
	for _, p := range products {
		if categoryID != "" && !p.Has("CategoryCode") {
			p["CategoryCode"] = categoryID
		}
	}
	a.log.Log("fetched %d products for category %s", len(products), categoryID)
	return products, nil
}

func (a *Adapter) FetchBrands(ctx context.Context) ([]services.RawRecord, error) {
	var resp any
	if err := a.get(ctx, brandsEndpoint, a.query(), &resp); err != nil {
		return nil, fmt.Errorf("fetch brands: %w", err)
	}
	return services.ExtractList(resp, "Brands", "data"), nil
}

func (a *Adapter) FetchOffers(ctx context.Context) ([]services.RawRecord, error) {
	var resp any
	if err := a.get(ctx, offersEndpoint, a.query(), &resp); err != nil {
		return nil, fmt.Errorf("fetch offers: %w", err)
	}
	return services.ExtractList(resp, "data", "Offers"), nil
}

// get drops the cached token on 401 so the next run logs in again.
func (a *Adapter) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	err := a.client.Get(ctx, endpoint, q, out)
	var authErr *clients.AuthenticationError
	if errors.As(err, &authErr) && authErr.Expired {
		if invErr := a.tokens.InvalidateToken(ctx, a.Source()); invErr != nil {
			a.log.Warn("failed to invalidate token: %v", invErr)
		}
	}
	return err
}

func (a *Adapter) query() url.Values {
	return url.Values{"domain_id": {strconv.Itoa(a.domainID)}}
}

func (a *Adapter) image(name string) string {
	if name == "" {
		return ""
	}
	return a.imageURL + "/" + name
}
