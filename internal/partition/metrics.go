package partition

import (
	"sync"
	"time"
)

// Metrics collects operational statistics for the partition store.
type Metrics struct {
	mu sync.RWMutex

	// Core hit/miss statistics
	hits   int64
	misses int64

	// Write and lifecycle tracking
	puts           int64
	precached      int64
	trimmed        int64
	partitionDrops int64
	corrupted      int64
	errors         int64

	// Latency tracking
	matchLatencies []time.Duration
	putLatencies   []time.Duration

	startTime time.Time
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:      time.Now(),
		matchLatencies: make([]time.Duration, 0, 1000),
		putLatencies:   make([]time.Duration, 0, 1000),
	}
}

// RecordHit records a successful match.
func (m *Metrics) RecordHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

// RecordMiss records a match that found nothing.
func (m *Metrics) RecordMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

// RecordPut records a stored entry. Precache puts are counted separately
// as well.
func (m *Metrics) RecordPut(precache bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if precache {
		m.precached++
	}
}

// RecordTrim records entries dropped by the dynamic partition limit.
func (m *Metrics) RecordTrim(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimmed += int64(entries)
}

// RecordPartitionDrop records the removal of a stale or purged partition.
func (m *Metrics) RecordPartitionDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitionDrops++
}

// RecordCorrupted records an entry that failed checksum verification.
func (m *Metrics) RecordCorrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupted++
}

// RecordError records a storage failure.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// RecordLatency records the latency of a match or put operation.
func (m *Metrics) RecordLatency(operation string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch operation {
	case "match":
		m.matchLatencies = append(m.matchLatencies, duration)
		if len(m.matchLatencies) > 10000 { // Keep only recent measurements
			m.matchLatencies = m.matchLatencies[len(m.matchLatencies)-5000:]
		}
	case "put":
		m.putLatencies = append(m.putLatencies, duration)
		if len(m.putLatencies) > 10000 {
			m.putLatencies = m.putLatencies[len(m.putLatencies)-5000:]
		}
	}
}

// GetSnapshot returns a thread-safe snapshot of current metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hitRate float64
	if total := m.hits + m.misses; total > 0 {
		hitRate = float64(m.hits) / float64(total)
	}

	var avgMatchLatency, avgPutLatency time.Duration
	if len(m.matchLatencies) > 0 {
		total := time.Duration(0)
		for _, lat := range m.matchLatencies {
			total += lat
		}
		avgMatchLatency = total / time.Duration(len(m.matchLatencies))
	}
	if len(m.putLatencies) > 0 {
		total := time.Duration(0)
		for _, lat := range m.putLatencies {
			total += lat
		}
		avgPutLatency = total / time.Duration(len(m.putLatencies))
	}

	return MetricsSnapshot{
		Hits:                m.hits,
		Misses:              m.misses,
		HitRate:             hitRate,
		Puts:                m.puts,
		Precached:           m.precached,
		Trimmed:             m.trimmed,
		PartitionDrops:      m.partitionDrops,
		Corrupted:           m.corrupted,
		Errors:              m.errors,
		AverageMatchLatency: avgMatchLatency,
		AveragePutLatency:   avgPutLatency,
		Uptime:              time.Since(m.startTime),
	}
}

// MetricsSnapshot provides a point-in-time view of store metrics.
type MetricsSnapshot struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Puts           int64   `json:"puts"`
	Precached      int64   `json:"precached"`
	Trimmed        int64   `json:"trimmed"`
	PartitionDrops int64   `json:"partition_drops"`
	Corrupted      int64   `json:"corrupted"`
	Errors         int64   `json:"errors"`

	AverageMatchLatency time.Duration `json:"avg_match_latency_ns"`
	AveragePutLatency   time.Duration `json:"avg_put_latency_ns"`

	Uptime time.Duration `json:"uptime"`
}

// Reset clears all metrics data.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits = 0
	m.misses = 0
	m.puts = 0
	m.precached = 0
	m.trimmed = 0
	m.partitionDrops = 0
	m.corrupted = 0
	m.errors = 0
	m.startTime = time.Now()
	m.matchLatencies = m.matchLatencies[:0]
	m.putLatencies = m.putLatencies[:0]
}
