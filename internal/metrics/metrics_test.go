package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observations(t *testing.T) {
	c := New(nil)

	c.ObserveDelivery(ResultSynced)
	c.ObserveDelivery(ResultSynced)
	c.ObserveDelivery(ResultFailed)
	c.ObserveSync(150 * time.Millisecond)
	c.ObserveConflict("remote")
	c.SetQueue(4, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Deliveries.WithLabelValues(ResultSynced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Deliveries.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SyncRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Conflicts.WithLabelValues("remote")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.Pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Failed))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveDelivery(ResultSynced)
		c.ObserveSync(time.Second)
		c.ObserveConflict("local")
		c.SetQueue(1, 1)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := New(nil)
	c.SetQueue(3, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kitchensync_pending_actions 3")
}
