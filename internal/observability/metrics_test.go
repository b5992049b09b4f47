package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestGuardAndCacheCounters(t *testing.T) {
	before := counterValue(t, guardRejections)
	RecordGuardRejection()
	RecordGuardRejection()
	require.Equal(t, before+2, counterValue(t, guardRejections))

	hits := cacheLookups.WithLabelValues("dashboard", "hit")
	misses := cacheLookups.WithLabelValues("dashboard", "miss")
	hitsBefore, missesBefore := counterValue(t, hits), counterValue(t, misses)
	RecordCacheHit("dashboard")
	RecordCacheMiss("dashboard")
	RecordCacheMiss("dashboard")
	require.Equal(t, hitsBefore+1, counterValue(t, hits))
	require.Equal(t, missesBefore+2, counterValue(t, misses))
}

func TestPersistedWatermarkIgnoresZeroTime(t *testing.T) {
	ts := time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC)
	RecordActivityPersisted(ts)
	RecordActivityPersisted(time.Time{})

	metric := &dto.Metric{}
	require.NoError(t, activityPersistGauge.Write(metric))
	require.Equal(t, float64(ts.Unix()), metric.GetGauge().GetValue())
}

func TestHTTPRequestsAreLabelledByRoute(t *testing.T) {
	counter := httpRequests.WithLabelValues("POST", "/api/attivita", "201")
	before := counterValue(t, counter)
	RecordHTTPRequest("POST", "/api/attivita", "201", 15*time.Millisecond)
	require.Equal(t, before+1, counterValue(t, counter))
}
