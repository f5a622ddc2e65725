package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "network_error", classifyStatus(0))
	assert.Equal(t, "2xx", classifyStatus(200))
	assert.Equal(t, "429", classifyStatus(429))
	assert.Equal(t, "4xx", classifyStatus(401))
	assert.Equal(t, "5xx", classifyStatus(503))
	assert.Equal(t, "unknown", classifyStatus(700))
}

func TestRecordRequestCounts(t *testing.T) {
	before := testutil.ToFloat64(sourceRequestsTotal.WithLabelValues("el_rabie", "GET", "2xx"))
	RecordRequest("el_rabie", "GET", 200, 120*time.Millisecond)
	after := testutil.ToFloat64(sourceRequestsTotal.WithLabelValues("el_rabie", "GET", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestRecordLinksIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(productLinksTotal.WithLabelValues("barcode"))
	RecordLinksCreated("barcode", 0)
	RecordLinksCreated("barcode", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(productLinksTotal.WithLabelValues("barcode")))
}

func TestRunCountersSnapshot(t *testing.T) {
	var c RunCounters
	c.Scraped.Add(3)
	c.New.Add(1)
	c.Updated.Add(2)
	assert.Equal(t, RunSnapshot{Scraped: 3, New: 1, Updated: 2}, c.Snapshot())
}

func TestRecordLockError(t *testing.T) {
	before := testutil.ToFloat64(schedulerLockErrors.WithLabelValues("auto_link"))
	RecordLockError("auto_link")
	assert.Equal(t, before+1, testutil.ToFloat64(schedulerLockErrors.WithLabelValues("auto_link")))
}
