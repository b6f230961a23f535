package simage

import (
	"golang.org/x/time/rate"

	"github.com/hupe1980/simage/catalog"
)

const (
	// DefaultNList is the configured number of inverted-file partitions.
	// Indexes built from fewer vectors use one partition per vector.
	DefaultNList = 100

	// DefaultThreshold is the normalized-distance cutoff. Matches at or
	// above it are dropped from query results.
	DefaultThreshold = 0.8
)

// Options configures a Service.
type Options struct {
	// Logger for structured output. Defaults to a no-op logger.
	Logger *Logger

	// Metrics receives per-operation measurements. Defaults to NoopMetrics.
	Metrics MetricsCollector

	// Catalog, when set, is kept in sync with ingests and used to answer
	// Exists without touching blob storage.
	Catalog *catalog.Catalog

	// Dimension, when > 0, is enforced on every ingested and queried
	// vector. When 0 the dimension is taken from the first ingest per user.
	Dimension int

	// NList is the configured partition count for new indexes.
	NList int

	// Threshold is the normalized-distance cutoff for query results.
	Threshold float32

	// IngestLimiter, when set, paces ingest admissions.
	IngestLimiter *rate.Limiter
}

// DefaultOptions returns the default service options.
func DefaultOptions() Options {
	return Options{
		Logger:    NoopLogger(),
		Metrics:   NoopMetrics{},
		NList:     DefaultNList,
		Threshold: DefaultThreshold,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) func(o *Options) {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

// WithCatalog attaches a tenant catalog.
func WithCatalog(c *catalog.Catalog) func(o *Options) {
	return func(o *Options) {
		o.Catalog = c
	}
}

// WithDimension enforces a fixed embedding dimension.
func WithDimension(dim int) func(o *Options) {
	return func(o *Options) {
		o.Dimension = dim
	}
}

// WithNList sets the configured partition count for new indexes.
func WithNList(nlist int) func(o *Options) {
	return func(o *Options) {
		o.NList = nlist
	}
}

// WithThreshold sets the normalized-distance cutoff for query results.
func WithThreshold(threshold float32) func(o *Options) {
	return func(o *Options) {
		o.Threshold = threshold
	}
}

// WithIngestRateLimit paces ingests to at most r per second with the given
// burst.
func WithIngestRateLimit(r rate.Limit, burst int) func(o *Options) {
	return func(o *Options) {
		o.IngestLimiter = rate.NewLimiter(r, burst)
	}
}
