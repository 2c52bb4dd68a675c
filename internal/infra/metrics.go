package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability of the monitor.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	pricesProcessed  atomic.Uint64
	pricesDropped    atomic.Uint64
	triggersFired    atomic.Uint64
	triggersDropped  atomic.Uint64
	dispatchFailures atomic.Uint64
	reconnects       atomic.Uint64

	// Evaluation latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	watchedSymbols    atomic.Int32
}

// RecordPrice records one evaluated price update with its evaluation latency.
func (m *Metrics) RecordPrice(latencyNs int64) {
	m.pricesProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordPriceDropped records a price update discarded because the inbox was full.
func (m *Metrics) RecordPriceDropped() {
	m.pricesDropped.Add(1)
}

// RecordTrigger records a fired trigger.
func (m *Metrics) RecordTrigger() {
	m.triggersFired.Add(1)
}

// RecordTriggerDropped records a trigger that reached no consumer.
func (m *Metrics) RecordTriggerDropped() {
	m.triggersDropped.Add(1)
}

// RecordDispatchFailure records a consumer error or panic.
func (m *Metrics) RecordDispatchFailure() {
	m.dispatchFailures.Add(1)
}

// RecordReconnect records a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetWatchedSymbols sets the size of the subscription set.
func (m *Metrics) SetWatchedSymbols(n int) {
	m.watchedSymbols.Store(int32(n))
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	PricesProcessed   uint64    `json:"prices_processed"`
	PricesDropped     uint64    `json:"prices_dropped"`
	TriggersFired     uint64    `json:"triggers_fired"`
	TriggersDropped   uint64    `json:"triggers_dropped"`
	DispatchFailures  uint64    `json:"dispatch_failures"`
	Reconnects        uint64    `json:"reconnects"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	WatchedSymbols    int32     `json:"watched_symbols"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		PricesProcessed:   m.pricesProcessed.Load(),
		PricesDropped:     m.pricesDropped.Load(),
		TriggersFired:     m.triggersFired.Load(),
		TriggersDropped:   m.triggersDropped.Load(),
		DispatchFailures:  m.dispatchFailures.Load(),
		Reconnects:        m.reconnects.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		WatchedSymbols:    m.watchedSymbols.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.pricesProcessed.Store(0)
	m.pricesDropped.Store(0)
	m.triggersFired.Store(0)
	m.triggersDropped.Store(0)
	m.dispatchFailures.Store(0)
	m.reconnects.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.watchedSymbols.Store(0)
}
