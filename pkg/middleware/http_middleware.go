package middleware

import (
	"net/http"
	"time"

	"gomarket_pricewatch/metrics"
)

// metricsTransport оборачивает http.RoundTripper для сбора метрик исходящих запросов.
type metricsTransport struct {
	source string
	next   http.RoundTripper
}

// PrometheusTransport records method, status class and duration of every request to a source.
func PrometheusTransport(source string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if next == nil {
			next = http.DefaultTransport
		}
		return &metricsTransport{source: source, next: next}
	}
}

func (t *metricsTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.next.RoundTrip(r)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RecordRequest(t.source, r.Method, status, time.Since(start))
	return resp, err
}
