package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.Observe("create", true, time.Millisecond)
	r.Observe("create", true, time.Millisecond)
	r.Observe("create", false, time.Millisecond)
	r.Observe("delete", true, time.Millisecond)
	r.Nodes(7)
	r.Saved(3 * time.Millisecond)
	r.Recovered()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("delete", "ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.nodes))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.recoveries))
	assert.Equal(t, 1, testutil.CollectAndCount(r.saves))
}

func TestHandlerExposesStoreMetrics(t *testing.T) {
	r := New()
	r.Observe("update", true, time.Millisecond)
	r.Nodes(2)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `treeapp_store_operations_total{op="update",result="ok"} 1`)
	assert.Contains(t, string(body), "treeapp_store_nodes 2")
	assert.Contains(t, string(body), "go_goroutines")
}
