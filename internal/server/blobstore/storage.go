package blobstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ObjectStorage is a region-aware object store. Implementations must be
// safe for concurrent use.
type ObjectStorage interface {
	// Put streams r into region/key and returns the number of bytes stored.
	Put(ctx context.Context, region, key string, r io.Reader) (int64, error)
	Copy(ctx context.Context, srcRegion, srcKey, dstRegion, dstKey string) error
	Delete(ctx context.Context, region, key string) error
	// Read returns common.ErrorNotFound when the object does not exist.
	Read(ctx context.Context, region, key string) (io.ReadCloser, error)
	List(ctx context.Context, region, prefix string) ([]ObjectInfo, error)
}
