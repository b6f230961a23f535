// Package blobstore abstracts durable storage of per-tenant index artifacts.
//
// Backends:
//   - LocalStore: local file system with temp-file-then-rename atomicity
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 (sub-package)
//   - minio.Store: MinIO and S3-compatible object stores (sub-package)
package blobstore
