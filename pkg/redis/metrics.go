package redis

import (
	"sync/atomic"
	"time"
)

// Metrics tracks cache statistics with lock-free counters
type Metrics struct {
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	getOperations    atomic.Uint64
	setOperations    atomic.Uint64
	deleteOperations atomic.Uint64

	// nanoseconds
	totalGetLatency atomic.Uint64
	totalSetLatency atomic.Uint64

	compressedValues  atomic.Uint64
	invalidationCount atomic.Uint64
	dependencyCount   atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }
func (m *Metrics) RecordCacheError() { m.cacheErrors.Add(1) }
func (m *Metrics) RecordDelete() { m.deleteOperations.Add(1) }
func (m *Metrics) RecordCompressed() { m.compressedValues.Add(1) }

// RecordInvalidation adds n invalidated keys
func (m *Metrics) RecordInvalidation(n int) {
	m.invalidationCount.Add(uint64(n))
}

// RecordDependency adds n registered dependencies
func (m *Metrics) RecordDependency(n int) {
	m.dependencyCount.Add(uint64(n))
}

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(duration time.Duration) {
	m.getOperations.Add(1)
	m.totalGetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordSet records a set operation with latency
func (m *Metrics) RecordSet(duration time.Duration) {
	m.setOperations.Add(1)
	m.totalSetLatency.Add(uint64(duration.Nanoseconds()))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	getOps := m.getOperations.Load()
	setOps := m.setOperations.Load()

	var avgGet, avgSet time.Duration
	if getOps > 0 {
		avgGet = time.Duration(m.totalGetLatency.Load() / getOps)
	}
	if setOps > 0 {
		avgSet = time.Duration(m.totalSetLatency.Load() / setOps)
	}

	return MetricsSnapshot{
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheErrors:       m.cacheErrors.Load(),
		CacheHitRate:      hitRate,
		GetOperations:     getOps,
		SetOperations:     setOps,
		DeleteOperations:  m.deleteOperations.Load(),
		AvgGetLatency:     avgGet,
		AvgSetLatency:     avgSet,
		CompressedValues:  m.compressedValues.Load(),
		InvalidationCount: m.invalidationCount.Load(),
		DependencyCount:   m.dependencyCount.Load(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // Percentage

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	AvgGetLatency time.Duration
	AvgSetLatency time.Duration

	CompressedValues  uint64
	InvalidationCount uint64
	DependencyCount   uint64
}
