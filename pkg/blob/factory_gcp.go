//go:build gcp

package blob

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, opts Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("a bucket is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: opts.Bucket,
		Prefix: opts.Prefix,
	})
}
