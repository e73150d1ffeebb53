// Package s3 stores index blobs in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("vecbench/"))
//
// Reads are ranged GETs. Streaming writes go through the multipart
// uploader and become visible when the writer is closed.
//
// The package also provides a DynamoDB-backed version catalog commit
// (see DDBCommitter) for deployments where several writers publish index
// versions to the same bucket.
package s3
