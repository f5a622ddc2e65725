package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of outbound requests to source APIs.",
		},
		[]string{"source", "method", "status"},
	)
	sourceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Histogram of outbound request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source", "method", "status"},
	)
	limiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for rate limiter tokens.",
			Buckets: []float64{0, 0.05, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)
	scrapeJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_jobs_total",
			Help: "Scrape jobs by source and terminal status.",
		},
		[]string{"source", "job_type", "status"},
	)
	scrapeJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_job_duration_seconds",
			Help:    "Wall time of scrape jobs.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"source", "job_type"},
	)
	scrapedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraped_items_total",
			Help: "Items processed by scrape jobs, by outcome (new, updated, error).",
		},
		[]string{"source", "outcome"},
	)
	priceRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_records_appended_total",
			Help: "Price history records appended after a change was detected.",
		},
		[]string{"source"},
	)
	productLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_links_created_total",
			Help: "Cross-source product links created, by link type.",
		},
		[]string{"link_type"},
	)
	schedulerMisfires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_misfires_total",
			Help: "Scheduled runs skipped or coalesced after a late wake-up.",
		},
		[]string{"entry", "action"},
	)
	schedulerLockErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_run_lock_errors_total",
			Help: "Scheduled runs started without the distributed lock because it was unavailable.",
		},
		[]string{"entry"},
	)
)

func init() {
	prometheus.MustRegister(
		sourceRequestsTotal,
		sourceRequestDuration,
		limiterWaitSeconds,
		scrapeJobsTotal,
		scrapeJobDuration,
		scrapedItemsTotal,
		priceRecordsTotal,
		productLinksTotal,
		schedulerMisfires,
		schedulerLockErrors,
	)
}

// RecordRequest записывает метрики для исходящего запроса к API источника.
func RecordRequest(source, method string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	sourceRequestsTotal.WithLabelValues(source, method, status).Inc()
	sourceRequestDuration.WithLabelValues(source, method, status).Observe(duration.Seconds())
}

func ObserveLimiterWait(source string, wait time.Duration) {
	limiterWaitSeconds.WithLabelValues(source).Observe(wait.Seconds())
}

func RecordJob(source, jobType, status string, duration time.Duration) {
	scrapeJobsTotal.WithLabelValues(source, jobType, status).Inc()
	scrapeJobDuration.WithLabelValues(source, jobType).Observe(duration.Seconds())
}

func RecordItem(source, outcome string) {
	scrapedItemsTotal.WithLabelValues(source, outcome).Inc()
}

func RecordPriceAppended(source string) {
	priceRecordsTotal.WithLabelValues(source).Inc()
}

func RecordLinksCreated(linkType string, n int) {
	if n <= 0 {
		return
	}
	productLinksTotal.WithLabelValues(linkType).Add(float64(n))
}

func RecordMisfire(entry, action string) {
	schedulerMisfires.WithLabelValues(entry, action).Inc()
}

func RecordLockError(entry string) {
	schedulerLockErrors.WithLabelValues(entry).Inc()
}

// classifyStatus классифицирует HTTP-статус код в строку. Ноль означает сетевую ошибку.
func classifyStatus(statusCode int) string {
	if statusCode == 0 {
		return "network_error"
	} else if statusCode >= 200 && statusCode < 300 {
		return "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		return "3xx"
	} else if statusCode == http.StatusTooManyRequests {
		return "429"
	} else if statusCode >= 400 && statusCode < 500 {
		return "4xx"
	} else if statusCode >= 500 && statusCode < 600 {
		return "5xx"
	}
	return "unknown"
}

// MetricsHandler возвращает HTTP-обработчик для экспорта метрик Prometheus.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
