package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func newTestCollector() *Collector {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	namespace := fmt.Sprintf("test_%d", seq)
	return NewCollector(namespace, prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.requestsTotal)
	assert.NotNil(t, collector.executionsTotal)
	assert.NotNil(t, collector.promotionsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := newTestCollector()

	collector.RecordHTTPRequest("POST", "/v1/requests", 200, 100*time.Millisecond)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("POST", "/v1/requests", 500, 50*time.Millisecond)
	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordRequest(t *testing.T) {
	collector := newTestCollector()

	collector.RecordRequest("summarize_inbox", "composition", "success")
	collector.RecordRequest("general", "ad_hoc", "failure")

	count := testutil.CollectAndCount(collector.requestsTotal)
	assert.Equal(t, 2, count)
}

func TestCollector_RecordExecution(t *testing.T) {
	collector := newTestCollector()

	collector.RecordExecution("comp-1", "success", 2*time.Second)
	collector.RecordStep("email/search_emails", "success", 40*time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(collector.executionsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.stepDuration), 0)
}

func TestCollector_LifecycleCounters(t *testing.T) {
	collector := newTestCollector()

	collector.RecordPromotion()
	collector.RecordPromotion()
	collector.RecordOptimization()
	collector.RecordRollback()

	assert.InDelta(t, 2.0, testutil.ToFloat64(collector.promotionsTotal), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(collector.optimizationsTotal), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(collector.rollbacksTotal), 1e-9)
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	collector := newTestCollector()

	collector.RecordCacheHit("search")
	collector.RecordCacheMiss("search")

	assert.Greater(t, testutil.CollectAndCount(collector.cacheHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.cacheMisses), 0)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := newTestCollector()

	collector.RecordDBConnections("postgres", 10, 5)

	assert.InDelta(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")), 1e-9)
	assert.InDelta(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")), 1e-9)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := newTestCollector()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("POST", "/v1/requests", 200, 100*time.Millisecond)
			collector.RecordRequest("summarize_inbox", "composition", "success")
			collector.RecordCacheHit("search")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Greater(t, testutil.CollectAndCount(collector.httpRequestsTotal), 0)
	assert.InDelta(t, 10.0, testutil.ToFloat64(collector.requestsTotal.WithLabelValues("summarize_inbox", "composition", "success")), 1e-9)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(42))
}
