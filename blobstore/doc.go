// Package blobstore stores persisted index blobs by name.
//
// A Store is a flat namespace of immutable byte blobs. Writes are atomic:
// readers observe either the previous blob or the complete new one.
//
// # Implementations
//
//   - LocalStore: a directory on the local filesystem, read through mmap
//   - MemoryStore: an in-process map, used by tests
//   - CachingStore: an LRU of whole blobs in front of a remote store
//   - s3.Store: Amazon S3 with ranged reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
