package blob

import (
	"context"
	"fmt"
)

// StoreType represents the blob storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Options selects and parameterizes a report blob store. Only the
// fields for the chosen backend are consulted.
type Options struct {
	Backend StoreType

	// Filesystem backend.
	BaseDir       string
	BaseURL       string
	SigningSecret []byte

	// Object storage backends.
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack
	Prefix   string
}

// NewStore creates a report blob store for the selected backend. An
// empty backend defaults to the filesystem store.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = StoreTypeFS
	}

	switch backend {
	case StoreTypeFS:
		return newFSStore(opts)
	case StoreTypeS3:
		return newS3Store(ctx, opts)
	case StoreTypeGCS:
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", backend)
	}
}

func newFSStore(opts Options) (Store, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = "data/reports"
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if len(opts.SigningSecret) == 0 {
		return nil, fmt.Errorf("a signing secret is required for the fs backend")
	}
	signer, err := NewHandleSigner(opts.SigningSecret)
	if err != nil {
		return nil, err
	}
	return NewFSStore(baseDir, baseURL, signer)
}

func newS3Store(ctx context.Context, opts Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("a bucket is required for the s3 backend")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   opts.Bucket,
		Region:   region,
		Endpoint: opts.Endpoint,
		Prefix:   opts.Prefix,
	})
}
