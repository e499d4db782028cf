package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Pass(ResultOK, 120*time.Millisecond)
	m.Pass(ResultOK, time.Second)
	m.Pass(ResultInProgress, 0)
	m.Fetched(5)
	m.Merged(3)
	m.Paired(1)
	m.Uploaded(2)
	m.Uploaded(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues(ResultInProgress)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.fetched))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.merged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paired))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploaded))
}

func TestNilIsNoop(t *testing.T) {
	var m *Sync
	assert.NotPanics(t, func() {
		m.Pass(ResultError, time.Second)
		m.Fetched(1)
		m.Merged(1)
		m.Paired(1)
		m.Uploaded(1)
	})
}

func TestHandlerExposesNames(t *testing.T) {
	m := New()
	m.Pass(ResultError, time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `fieldsync_sync_passes_total{result="error"} 1`))
	assert.True(t, strings.Contains(body, "fieldsync_sync_pass_duration_seconds_count 1"))
}
