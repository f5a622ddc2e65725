package clients

import (
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// AuthenticationError - неверные или просроченные учетные данные. В рамках прогона не повторяется.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Expired    bool
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (%d): %s", e.StatusCode, e.Message)
	}
	return "authentication failed: " + e.Message
}

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RateLimitError carries the server-provided delay; it is never counted as a failed attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// DataValidationError means one item's payload could not be parsed. The batch continues.
type DataValidationError struct {
	Field   string
	Message string
}

func (e *DataValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Message
	}
	return fmt.Sprintf("invalid payload field %q: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...interface{}) *DataValidationError {
	return &DataValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports transient failures: transport errors and 5xx responses.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// Kind names the error class for the job failure payload.
func Kind(err error) string {
	var (
		authErr  *AuthenticationError
		netErr   *NetworkError
		rateErr  *RateLimitError
		apiErr   *APIError
		validErr *DataValidationError
	)
	switch {
	case errors.Is(err, errRetriesExhausted):
		return "RetryExhaustedError"
	case errors.As(err, &authErr):
		if authErr.Expired {
			return "TokenExpiredError"
		}
		return "AuthenticationError"
	case errors.As(err, &rateErr):
		return "RateLimitError"
	case errors.As(err, &netErr):
		return "NetworkError"
	case errors.As(err, &apiErr):
		return "APIError"
	case errors.As(err, &validErr):
		return "DataValidationError"
	}
	return "InternalError"
}

// errorForStatus maps a non-2xx response onto the typed errors above.
func errorForStatus(resp *http.Response, body []byte, defaultRetryAfter time.Duration) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: "token expired", Expired: true}
	case resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: "forbidden - possible detection"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), defaultRetryAfter)}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       truncate(string(body), 512),
	}
}

func parseRetryAfter(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if secs, err := time.ParseDuration(value + "s"); err == nil && secs >= 0 {
		return secs
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// truncate обрезает s до n байт, не разрывая многобайтовый символ.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
