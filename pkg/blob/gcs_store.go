//go:build gcp

package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// GCSStore keeps rendered reports in a Google Cloud Storage bucket.
// Download handles are V4 signed URLs minted through the bucket's IAM
// credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSStore creates a GCS-backed report store (uses ADC by default).
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) Backend() string { return "gcs" }

func (s *GCSStore) key(reportID string, format contracts.ReportFormat) string {
	return s.prefix + objectKey(reportID, format)
}

func (s *GCSStore) Put(ctx context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error) {
	if err := validateReportID(reportID); err != nil {
		return contracts.StorageLocation{}, err
	}

	key := s.key(reportID, format)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(format)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return contracts.StorageLocation{}, fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return contracts.StorageLocation{}, fmt.Errorf("gcs close failed: %w", err)
	}

	sum := sha256.Sum256(data)
	return contracts.StorageLocation{
		Backend:   s.Backend(),
		Path:      key,
		Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *GCSStore) Open(ctx context.Context, reportID string, format contracts.ReportFormat) ([]byte, error) {
	if err := validateReportID(reportID); err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(s.bucket).Object(s.key(reportID, format)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s %s: %w", reportID, format, ErrNotFound)
		}
		return nil, fmt.Errorf("gcs get failed: %w", err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (s *GCSStore) SignedHandle(ctx context.Context, reportID string, format contracts.ReportFormat, ttl time.Duration) (Handle, error) {
	if err := validateReportID(reportID); err != nil {
		return Handle{}, err
	}
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}

	expiresAt := time.Now().UTC().Add(ttl)
	url, err := s.client.Bucket(s.bucket).SignedURL(s.key(reportID, format), &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expiresAt,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("gcs sign failed: %w", err)
	}

	return Handle{URL: url, ExpiresAt: expiresAt}, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
