package clients

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/scraper/pkg/fingerprint"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
	"gomarket_pricewatch/pkg/logger"
	"gomarket_pricewatch/pkg/middleware"
)

const maxResponseBytes = 32 << 20

type Config struct {
	Source      models.Source
	BaseURL     string
	Timeout     time.Duration
	Limiter     *ratelimit.Limiter
	Jitter      *ratelimit.Jitter
	Fingerprint *fingerprint.Fingerprint
	Retry       RetryPolicy
	// Transport is the innermost round tripper; nil means http.DefaultTransport.
	Transport http.RoundTripper
	Log       logger.Logger
}

// Request describes one call. Exactly one of JSON or Form may be set.
type Request struct {
	Method     string
	Endpoint   string
	Query      url.Values
	JSON       interface{}
	Form       url.Values
	Headers    map[string]string
	SkipJitter bool
}

// BaseClient выполняет запросы к API источника: лимит, паузы, отпечаток устройства,
// повторы и типизированные ошибки.
type BaseClient struct {
	ApiURL  string
	source  models.Source
	log     logger.Logger
	client  *http.Client
	limiter *ratelimit.Limiter
	jitter  *ratelimit.Jitter
	fp      *fingerprint.Fingerprint
	retry   RetryPolicy

	mu      sync.RWMutex
	auth    AuthEngine
	headers http.Header
}

func NewBaseClient(cfg Config) *BaseClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	jitter := cfg.Jitter
	if jitter == nil {
		jitter = ratelimit.NoJitter()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.Source, 0, 1)
	}
	return &BaseClient{
		ApiURL:  strings.TrimRight(cfg.BaseURL, "/"),
		source:  cfg.Source,
		log:     log,
		client:  &http.Client{Timeout: timeout, Transport: middleware.Chain(cfg.Transport, middleware.PrometheusTransport(string(cfg.Source)))},
		limiter: limiter,
		jitter:  jitter,
		fp:      cfg.Fingerprint,
		retry:   cfg.Retry,
		headers: make(http.Header),
	}
}

func (c *BaseClient) Source() models.Source {
	return c.source
}

func (c *BaseClient) Fingerprint() *fingerprint.Fingerprint {
	return c.fp
}

func (c *BaseClient) Jitter() *ratelimit.Jitter {
	return c.jitter
}

func (c *BaseClient) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auth := NewBearerAuth(token); auth != nil {
		c.auth = auth
		return
	}
	c.auth = nil
}

func (c *BaseClient) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.auth == nil {
		return ""
	}
	return c.auth.GetApiKey()
}

// SetHeader adds a source-specific header sent with every request.
func (c *BaseClient) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Set(key, value)
}

func (c *BaseClient) Get(ctx context.Context, endpoint string, query url.Values, response interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Query: query}, response)
}

func (c *BaseClient) PostJSON(ctx context.Context, endpoint string, body, response interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, JSON: body}, response)
}

func (c *BaseClient) PostForm(ctx context.Context, endpoint string, form url.Values, response interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Form: form}, response)
}

// Do runs the request under the retry policy and decodes a JSON body into response.
func (c *BaseClient) Do(ctx context.Context, req Request, response interface{}) error {
	return c.retry.Run(ctx, c.log, func() error {
		return c.doRequest(ctx, req, response)
	})
}

func (c *BaseClient) doRequest(ctx context.Context, r Request, response interface{}) error {
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return err
	}
	if !r.SkipJitter {
		if err := c.jitter.WaitRequest(ctx); err != nil {
			return fmt.Errorf("request was cancelled: %w", err)
		}
	}

	req, err := c.buildRequest(ctx, r)
	if err != nil {
		return err
	}
	c.log.Log("%s %s", r.Method, r.Endpoint)

	resp, err := c.client.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request was cancelled: %w", ctx.Err())
		default:
			return &NetworkError{Err: err}
		}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorForStatus(resp, body, c.retry.DefaultRetryAfter)
	}
	if response == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, response); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "failed to unmarshal response: " + err.Error(), Body: truncate(string(body), 512)}
	}
	return nil
}

func (c *BaseClient) buildRequest(ctx context.Context, r Request) (*http.Request, error) {
	target := c.ApiURL + "/" + strings.TrimLeft(r.Endpoint, "/")
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case r.JSON != nil && r.Form != nil:
		return nil, fmt.Errorf("request to %s has both JSON and form bodies", r.Endpoint)
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case r.Form != nil:
		body, contentType = strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.fp != nil {
		for k, v := range c.fp.Headers() {
			req.Header[k] = v
		}
	}
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if c.auth != nil {
		c.auth.SetApiKey(req)
	}
	c.mu.RUnlock()
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// readBody undoes Content-Encoding ourselves: the fingerprint sets Accept-Encoding
// explicitly, which turns off net/http transparent decompression.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(io.LimitReader(reader, maxResponseBytes))
}
