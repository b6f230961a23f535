// Package simage implements the core of a per-user reverse image search
// service: it manages one approximate-nearest-neighbor index per user,
// each paired with the ordered list of original image identifiers, and
// answers similarity queries against them.
//
// Each ingest replaces the user's index wholesale with a freshly built
// inverted-file (IVF) index, persists the index together with its
// identifier list as an atomic artifact pair, and installs the result in
// the in-memory registry. Queries over-fetch candidates, normalize
// distances per query, drop weak matches past a threshold, and return
// percentage similarity scores.
//
// The zero-configuration entry point:
//
//	store := blobstore.NewLocalStore("data")
//	svc := simage.New(store)
//
//	_, err := svc.Ingest(ctx, "alice", records)
//	matches, err := svc.Query(ctx, "alice", embedding, 5)
package simage
