package storage

import (
	"context"
	"io"
)

// ObjectStorage is the small object store surface used for build artifact archiving.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader. A negative size streams until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// RemoveObjects deletes keys, ignoring ones that do not exist.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error

	// ListObjects lists keys under prefix recursively.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo is one entry of a listing.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}
