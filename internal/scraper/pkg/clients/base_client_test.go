package clients

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/scraper/pkg/fingerprint"
)

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Delay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.DefaultRetryAfter = time.Millisecond
	return p
}

func newTestClient(t *testing.T, h http.HandlerFunc) *BaseClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBaseClient(Config{
		Source:      models.SourceElRabie,
		BaseURL:     srv.URL + "/api/",
		Fingerprint: fingerprint.New("ElRabie", "1.0.0"),
		Retry:       fastPolicy(),
	})
}

func TestClientSendsFingerprintAuthAndDecodes(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "0101", r.PostForm.Get("mobile"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "abc"})
	})
	c.SetAuthToken("tok")
	c.SetHeader("os", "android")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.PostForm(context.Background(), "auth/login", url.Values{"mobile": {"0101"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.AccessToken)

	got := <-reqs
	assert.Equal(t, "/api/auth/login", got.URL.Path)
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Equal(t, "android", got.Header.Get("os"))
	assert.Equal(t, "android", got.Header.Get("X-Platform"))
	assert.Equal(t, c.Fingerprint().DeviceID(), got.Header.Get("X-Device-Id"))
	assert.Equal(t, "application/x-www-form-urlencoded", got.Header.Get("Content-Type"))
}

func TestClientDecodesGzip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`[{"id":1}]`))
		_ = gz.Close()
	})
	var out []map[string]int
	require.NoError(t, c.Get(context.Background(), "category/all", nil, &out))
	assert.Equal(t, 1, out[0]["id"])
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"401 expired token", http.StatusUnauthorized, func(t *testing.T, err error) {
			var authErr *AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.True(t, authErr.Expired)
			assert.Equal(t, "TokenExpiredError", Kind(err))
		}},
		{"403 detection", http.StatusForbidden, func(t *testing.T, err error) {
			var authErr *AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Contains(t, authErr.Message, "possible detection")
		}},
		{"404 not retried", http.StatusNotFound, func(t *testing.T, err error) {
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 404, apiErr.StatusCode)
			assert.Equal(t, "APIError", Kind(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})
			err := c.Get(context.Background(), "x", nil, nil)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	var out map[string]bool
	require.NoError(t, c.Get(context.Background(), "x", nil, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.Get(context.Background(), "x", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errRetriesExhausted))
	assert.Equal(t, "RetryExhaustedError", Kind(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientRateLimitNotCountedAsFailure(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case n <= 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case n <= 4:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	require.NoError(t, c.Get(context.Background(), "x", nil, nil))
	assert.Equal(t, int32(5), calls.Load())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 60*time.Second, parseRetryAfter("", 60*time.Second))
	assert.Equal(t, 120*time.Second, parseRetryAfter("120", time.Second))
	assert.Equal(t, 7*time.Second, parseRetryAfter("garbage", 7*time.Second))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&NetworkError{Err: errors.New("reset")}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 500}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
	assert.False(t, IsRetryable(&AuthenticationError{}))
	assert.False(t, IsRetryable(&RateLimitError{}))
}

func TestRetryPolicyKeepsTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"auth", &AuthenticationError{StatusCode: 401, Expired: true}, "TokenExpiredError"},
		{"forbidden", &AuthenticationError{StatusCode: 403}, "AuthenticationError"},
		{"api", &APIError{StatusCode: 404}, "APIError"},
		{"validation", NewValidationError("id", "missing"), "DataValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			err := fastPolicy().Run(context.Background(), nil, func() error {
				calls++
				return tt.err
			})
			assert.Same(t, tt.err, err)
			assert.Equal(t, tt.kind, Kind(err))
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryPolicyRateLimitWaitsAreBounded(t *testing.T) {
	p := fastPolicy()
	p.RateLimitWaits = 2
	var calls int
	err := p.Run(context.Background(), nil, func() error {
		calls++
		return &RateLimitError{RetryAfter: time.Millisecond}
	})
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "RateLimitError", Kind(err))
	assert.Equal(t, 3, calls)
}

func TestTruncateKeepsRunes(t *testing.T) {
	body := "خطأ في الخادم"
	for n := 0; n <= len(body); n++ {
		got := truncate(body, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n)
	}
	assert.Equal(t, body, truncate(body, 512))
	assert.Equal(t, "abc", truncate("abcdef", 3))
}
