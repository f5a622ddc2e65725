package zahcode

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/auth"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
	"gomarket_pricewatch/pkg/business/service"
	"gomarket_pricewatch/pkg/logger"
)

const (
	loginEndpoint      = "auth/login"
	registerEndpoint   = "auth/register"
	categoriesEndpoint = "category/all"
	byCategoryEndpoint = "products/category_id"
	allEndpoint        = "products/all"
	offersEndpoint     = "products/offers"
	bestSellerEndpoint = "products/best_seller"

	registrationPassword = "scraper123456"

	shortTokenTTL = 10 * time.Minute
)

// Поля анкеты одноразового аккаунта. mobile и email генерируются на каждую регистрацию.
var registrationForm = url.Values{
	"password":  {registrationPassword},
	"name":      {"Scraper Bot"},
	"city":      {"Cairo"},
	"address":   {"Test Address"},
	"location":  {"Cairo, Egypt"},
	"balance":   {"0"},
	"longitude": {"31.2357"},
	"latitude":  {"30.0444"},
	"type":      {"user"},
}

type Options struct {
	Source models.Source
	// ProductsMethod is GET for most ZAH CODE apps; Gomla Shoaib wants POST.
	ProductsMethod string
}

// Adapter обслуживает приложения на платформе ZAH CODE (Эль Рабие, Гомла Шоаиб).
// Токены живут минуты, поэтому свежий токен берется перед каждой пачкой запросов.
type Adapter struct {
	client *clients.BaseClient
	tokens *auth.TokenManager
	log    logger.Logger
	text   service.ITextService
	source models.Source
	method string
	randN  func(n int) int
}

func New(client *clients.BaseClient, tokens *auth.TokenManager, log logger.Logger, opts Options) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	method := strings.ToUpper(opts.ProductsMethod)
	if method != http.MethodPost {
		method = http.MethodGet
	}
	return &Adapter{
		client: client,
		tokens: tokens,
		log:    log,
		text:   service.NewTextService(),
		source: opts.Source,
		method: method,
		randN:  rand.IntN,
	}
}

func (a *Adapter) Source() models.Source {
	return a.source
}

func (a *Adapter) Authenticate(ctx context.Context) (bool, error) {
	token, err := a.refresh(ctx)
	if err != nil {
		return false, err
	}
	return token != "", nil
}

// refresh gets a fresh token: login with the stored account, otherwise register a new one.
func (a *Adapter) refresh(ctx context.Context) (string, error) {
	lock := a.tokens.RefreshLock(a.source)
	lock.Lock()
	defer lock.Unlock()

	token, err := a.login(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		if token, err = a.register(ctx); err != nil {
			return "", err
		}
	}
	if token == "" {
		a.log.Error("failed to obtain a token")
		return "", nil
	}

	if exp := auth.TokenExpiry(token); exp != nil {
		err = a.tokens.StoreTokensUntil(ctx, a.source, token, "", exp)
	} else {
		err = a.tokens.StoreTokens(ctx, a.source, token, "", shortTokenTTL)
	}
	if err != nil {
		return "", err
	}
	a.client.SetAuthToken(token)
	return token, nil
}

func (a *Adapter) login(ctx context.Context) (string, error) {
	cred, err := a.tokens.Credential(ctx, a.source)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.Username == "" {
		return "", nil
	}
	if cred.DeviceID != "" && a.client.Fingerprint() != nil {
		a.client.Fingerprint().SetDeviceID(cred.DeviceID)
	}
	password, err := a.tokens.Password(ctx, a.source)
	if err != nil {
		return "", fmt.Errorf("decrypt %s password: %w", a.source, err)
	}

	var resp services.RawRecord
	err = a.client.Do(ctx, clients.Request{
		Method:     http.MethodPost,
		Endpoint:   loginEndpoint,
		Form:       url.Values{"mobile": {cred.Username}, "password": {password}},
		SkipJitter: true,
	}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		a.log.Warn("login failed, will try to register: %v", err)
		return "", nil
	}
	return resp.String("access_token"), nil
}

func (a *Adapter) register(ctx context.Context) (string, error) {
	phone := fmt.Sprintf("010%08d", a.randN(100000000))
	email := fmt.Sprintf("scraper%04d@scraper.local", a.randN(10000))

	form := url.Values{}
	for k, v := range registrationForm {
		form[k] = v
	}
	form.Set("mobile", phone)
	form.Set("email", email)

	var resp services.RawRecord
	err := a.client.Do(ctx, clients.Request{
		Method:     http.MethodPost,
		Endpoint:   registerEndpoint,
		Form:       form,
		SkipJitter: true,
	}, &resp)
	if err != nil {
		var authErr *clients.AuthenticationError
		if errors.As(err, &authErr) {
			a.log.Error("registration rejected: %v", err)
			return "", nil
		}
		return "", fmt.Errorf("register: %w", err)
	}
	token := resp.String("access_token")
	if token == "" {
		a.log.Error("registration returned no token")
		return "", nil
	}

	deviceID := ""
	if fp := a.client.Fingerprint(); fp != nil {
		deviceID = fp.DeviceID()
	}
	if err := a.tokens.StoreCredential(ctx, a.source, phone, registrationPassword, deviceID); err != nil {
		return "", err
	}
	a.log.Log("registered new account %s", phone)
	return token, nil
}

// batch refreshes the token before a group of calls.
func (a *Adapter) batch(ctx context.Context) error {
	token, err := a.refresh(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return &clients.AuthenticationError{Message: fmt.Sprintf("no token for %s", a.source)}
	}
	return nil
}

func (a *Adapter) Jitter() *ratelimit.Jitter {
	return a.client.Jitter()
}

func (a *Adapter) FetchCategories(ctx context.Context) ([]services.RawRecord, error) {
	if err := a.batch(ctx); err != nil {
		return nil, err
	}
	var resp any
	if err := a.client.Get(ctx, categoriesEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	categories := services.ExtractList(resp, "data")
	a.log.Log("fetched %d categories", len(categories))
	return categories, nil
}

func (a *Adapter) FetchProducts(ctx context.Context, categoryID string) ([]services.RawRecord, error) {
	if err := a.batch(ctx); err != nil {
		return nil, err
	}
	endpoint, query := allEndpoint, url.Values(nil)
	if categoryID != "" {
		endpoint, query = byCategoryEndpoint, url.Values{"category_id": {categoryID}}
	}
	products, err := a.products(ctx, endpoint, query)
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

func (a *Adapter) FetchOffers(ctx context.Context) ([]services.RawRecord, error) {
	if err := a.batch(ctx); err != nil {
		return nil, err
	}
	products, err := a.products(ctx, offersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch offers: %w", err)
	}
	return products, nil
}

func (a *Adapter) FetchBestSellers(ctx context.Context) ([]services.RawRecord, error) {
	if err := a.batch(ctx); err != nil {
		return nil, err
	}
	var resp any
	if err := a.client.Get(ctx, bestSellerEndpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch best sellers: %w", err)
	}
	return services.ExtractList(resp, "data"), nil
}

func (a *Adapter) products(ctx context.Context, endpoint string, query url.Values) ([]services.RawRecord, error) {
	var resp any
	err := a.client.Do(ctx, clients.Request{Method: a.method, Endpoint: endpoint, Query: query}, &resp)
	if err != nil {
		return nil, err
	}
	return services.ExtractList(resp, "data"), nil
}

var (
	_ services.SourceAdapter     = (*Adapter)(nil)
	_ services.Paced             = (*Adapter)(nil)
	_ services.OfferFetcher      = (*Adapter)(nil)
	_ services.BestSellerFetcher = (*Adapter)(nil)
)
