package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects service-level counters.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	MemoriesStored    int64
	MemoriesDeleted   int64
	SearchesServed    int64
	EmbeddingRequests int64
	EmbeddingFailures int64
	QuotaRejections   int64
	AuthFailures      int64
	SweptMemories     int64

	// Histograms (simplified)
	searchLatencies  []time.Duration
	gatewayLatencies []time.Duration

	// Exporter (optional)
	exporter MetricsExporter
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		searchLatencies:  make([]time.Duration, 0, 1000),
		gatewayLatencies: make([]time.Duration, 0, 1000),
	}
}

// IncMemoriesStored increments the stored-memory counter.
func (m *Metrics) IncMemoriesStored() {
	atomic.AddInt64(&m.MemoriesStored, 1)
}

// IncMemoriesDeleted increments the deleted-memory counter by n.
func (m *Metrics) IncMemoriesDeleted(n int64) {
	atomic.AddInt64(&m.MemoriesDeleted, n)
}

// IncSearchesServed increments the search counter.
func (m *Metrics) IncSearchesServed() {
	atomic.AddInt64(&m.SearchesServed, 1)
}

// IncEmbeddingRequests increments the embedding request counter.
func (m *Metrics) IncEmbeddingRequests() {
	atomic.AddInt64(&m.EmbeddingRequests, 1)
}

// IncEmbeddingFailures increments the embedding failure counter.
func (m *Metrics) IncEmbeddingFailures() {
	atomic.AddInt64(&m.EmbeddingFailures, 1)
}

// IncQuotaRejections increments the quota rejection counter.
func (m *Metrics) IncQuotaRejections() {
	atomic.AddInt64(&m.QuotaRejections, 1)
}

// IncAuthFailures increments the failed-authentication counter.
func (m *Metrics) IncAuthFailures() {
	atomic.AddInt64(&m.AuthFailures, 1)
}

// AddSweptMemories adds n to the retention-sweep counter.
func (m *Metrics) AddSweptMemories(n int64) {
	atomic.AddInt64(&m.SweptMemories, n)
}

// RecordSearchLatency records the duration of one search call.
func (m *Metrics) RecordSearchLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchLatencies = append(m.searchLatencies, d)
}

// RecordGatewayLatency records the duration of one embedding gateway call.
func (m *Metrics) RecordGatewayLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayLatencies = append(m.gatewayLatencies, d)
}

// GetSummary returns a summary of collected metrics.
func (m *Metrics) GetSummary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := map[string]interface{}{
		"memories_stored":    atomic.LoadInt64(&m.MemoriesStored),
		"memories_deleted":   atomic.LoadInt64(&m.MemoriesDeleted),
		"searches_served":    atomic.LoadInt64(&m.SearchesServed),
		"embedding_requests": atomic.LoadInt64(&m.EmbeddingRequests),
		"embedding_failures": atomic.LoadInt64(&m.EmbeddingFailures),
		"quota_rejections":   atomic.LoadInt64(&m.QuotaRejections),
		"auth_failures":      atomic.LoadInt64(&m.AuthFailures),
		"swept_memories":     atomic.LoadInt64(&m.SweptMemories),
	}

	if len(m.searchLatencies) > 0 {
		var total time.Duration
		for _, d := range m.searchLatencies {
			total += d
		}
		summary["avg_search_latency_ms"] = total.Milliseconds() / int64(len(m.searchLatencies))
	}

	if len(m.gatewayLatencies) > 0 {
		var total time.Duration
		for _, d := range m.gatewayLatencies {
			total += d
		}
		summary["avg_gateway_latency_ms"] = total.Milliseconds() / int64(len(m.gatewayLatencies))
	}

	return summary
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.MemoriesStored, 0)
	atomic.StoreInt64(&m.MemoriesDeleted, 0)
	atomic.StoreInt64(&m.SearchesServed, 0)
	atomic.StoreInt64(&m.EmbeddingRequests, 0)
	atomic.StoreInt64(&m.EmbeddingFailures, 0)
	atomic.StoreInt64(&m.QuotaRejections, 0)
	atomic.StoreInt64(&m.AuthFailures, 0)
	atomic.StoreInt64(&m.SweptMemories, 0)

	m.searchLatencies = m.searchLatencies[:0]
	m.gatewayLatencies = m.gatewayLatencies[:0]
}

// SetExporter attaches a metrics exporter.
func (m *Metrics) SetExporter(e MetricsExporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exporter = e
}

// Flush exports the current metrics snapshot with the given event label.
func (m *Metrics) Flush(event string, labels map[string]string) {
	m.mu.RLock()
	exporter := m.exporter
	m.mu.RUnlock()

	if exporter == nil {
		return
	}

	snapshot := MetricsSnapshot{
		Timestamp: time.Now(),
		Event:     event,
		Metrics:   m.GetSummary(),
		Labels:    labels,
	}
	// Best-effort export.
	_ = exporter.Export(snapshot)
}
