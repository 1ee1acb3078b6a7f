// Package storage keeps reports and uploaded sheet images in a bucket/key
// object store, either on local disk or in S3 compatible storage.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error
}
