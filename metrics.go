package simage

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives measurements from the service. Implementations
// must be safe for concurrent use.
type MetricsCollector interface {
	// RecordIngest is called after every ingest attempt with the number of
	// indexed vectors and the total build+persist duration.
	RecordIngest(count int, duration time.Duration, err error)

	// RecordQuery is called after every query attempt.
	RecordQuery(k int, duration time.Duration, err error)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordIngest(count int, duration time.Duration, err error) {}
func (NoopMetrics) RecordQuery(k int, duration time.Duration, err error)      {}

// BasicMetrics counts operations and errors with atomic counters.
type BasicMetrics struct {
	IngestCount   atomic.Int64
	IngestErrors  atomic.Int64
	IngestVectors atomic.Int64
	IngestNanos   atomic.Int64

	QueryCount  atomic.Int64
	QueryErrors atomic.Int64
	QueryNanos  atomic.Int64
}

// NewBasicMetrics creates a BasicMetrics collector.
func NewBasicMetrics() *BasicMetrics {
	return &BasicMetrics{}
}

func (m *BasicMetrics) RecordIngest(count int, duration time.Duration, err error) {
	m.IngestCount.Add(1)
	m.IngestNanos.Add(int64(duration))
	if err != nil {
		m.IngestErrors.Add(1)
		return
	}
	m.IngestVectors.Add(int64(count))
}

func (m *BasicMetrics) RecordQuery(k int, duration time.Duration, err error) {
	m.QueryCount.Add(1)
	m.QueryNanos.Add(int64(duration))
	if err != nil {
		m.QueryErrors.Add(1)
	}
}
