package model

// Record pairs a caller-supplied image identifier with its embedding vector.
// The URI is opaque to the core; it only needs to be unique within one
// ingest batch for meaningful results.
type Record struct {
	// URI is the original image identifier (e.g. a device-local URI).
	URI string

	// Vector is the fixed-dimension embedding produced by the feature
	// extractor. Immutable after creation.
	Vector []float32
}

// Match is a single ranked search result.
type Match struct {
	// URI is the original identifier of the matched image.
	URI string `json:"uri"`

	// Distance is the normalized distance in [0, 1], relative to the
	// farthest candidate of the same query. It is a relative-ranking tool,
	// not a globally calibrated similarity metric.
	Distance float32 `json:"distance"`

	// Score is the display similarity score (1 - Distance) * 100 in
	// [0, 100]. Monotonic with rank.
	Score float32 `json:"score"`
}
