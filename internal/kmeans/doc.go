// Package kmeans implements Lloyd's k-means clustering for partitioning
// embedding space into inverted-file buckets.
package kmeans
