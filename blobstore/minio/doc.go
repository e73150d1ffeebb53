// Package minio stores index blobs in MinIO or any S3-compatible service
// reachable through minio-go.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	})
//	store := vbminio.NewStore(client, "vecbench", "indexes/")
package minio
