package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

func TestAllowedFrom(t *testing.T) {
	assert.Equal(t, []string{"pending"}, allowedFrom(models.JobStatusRunning))
	assert.Equal(t, []string{"running"}, allowedFrom(models.JobStatusCompleted))
	assert.Equal(t, []string{"pending", "running"}, allowedFrom(models.JobStatusCancelled))
	assert.Equal(t, []string{"pending", "running"}, allowedFrom(models.JobStatusFailed))
	assert.Empty(t, allowedFrom(models.JobStatusPending))
}

func TestWithPaging(t *testing.T) {
	q, args := withPaging("SELECT 1 WHERE a = $1", []any{"x"}, 10, 20)
	assert.Equal(t, "SELECT 1 WHERE a = $1 LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{"x", 10, 20}, args)

	q, args = withPaging("SELECT 1", nil, 0, 0)
	assert.Equal(t, "SELECT 1", q)
	assert.Empty(t, args)

	q, _ = withPaging("SELECT 1", nil, 0, 5)
	assert.Equal(t, "SELECT 1 OFFSET $1", q)
}

func TestCounterArgs(t *testing.T) {
	s, n, u, e := counterArgs(nil)
	for _, v := range []sql.NullInt64{s, n, u, e} {
		assert.False(t, v.Valid)
	}

	s, n, u, e = counterArgs(&storage.JobCounters{Scraped: 5, New: 2, Updated: 1, Errors: 3})
	assert.Equal(t, sql.NullInt64{Int64: 5, Valid: true}, s)
	assert.Equal(t, sql.NullInt64{Int64: 2, Valid: true}, n)
	assert.Equal(t, sql.NullInt64{Int64: 1, Valid: true}, u)
	assert.Equal(t, sql.NullInt64{Int64: 3, Valid: true}, e)
}

func TestJSONParams(t *testing.T) {
	assert.Nil(t, nullJSON(nil))
	assert.Equal(t, `{"a":1}`, nullJSON([]byte(`{"a":1}`)))

	v, err := marshalNullJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = marshalNullJSON(map[string]string{"X-App": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"X-App":"1"}`, v)

	_, err = marshalNullJSON(make(chan int))
	assert.Error(t, err)
}

func TestPqCode(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation})
	assert.Equal(t, pq.ErrorCode(uniqueViolation), pqCode(err))
	assert.Equal(t, pq.ErrorCode(""), pqCode(errors.New("plain")))
}
