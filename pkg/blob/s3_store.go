package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// S3Store keeps rendered reports in an S3 bucket. Download handles are
// real presigned GET URLs, so report bytes never stream through the API
// process.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Store creates an S3-backed report store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
	}, nil
}

func (s *S3Store) Backend() string { return "s3" }

func (s *S3Store) key(reportID string, format contracts.ReportFormat) string {
	return s.prefix + objectKey(reportID, format)
}

func (s *S3Store) Put(ctx context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error) {
	if err := validateReportID(reportID); err != nil {
		return contracts.StorageLocation{}, err
	}

	key := s.key(reportID, format)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(format)),
	})
	if err != nil {
		return contracts.StorageLocation{}, fmt.Errorf("s3 put failed: %w", err)
	}

	sum := sha256.Sum256(data)
	return contracts.StorageLocation{
		Backend:   s.Backend(),
		Path:      key,
		Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *S3Store) Open(ctx context.Context, reportID string, format contracts.ReportFormat) ([]byte, error) {
	if err := validateReportID(reportID); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(reportID, format)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%s %s: %w", reportID, format, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *S3Store) SignedHandle(ctx context.Context, reportID string, format contracts.ReportFormat, ttl time.Duration) (Handle, error) {
	if err := validateReportID(reportID); err != nil {
		return Handle{}, err
	}
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(reportID, format)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return Handle{}, fmt.Errorf("s3 presign failed: %w", err)
	}

	return Handle{
		URL:       req.URL,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func contentType(format contracts.ReportFormat) string {
	switch format {
	case contracts.FormatJSON:
		return "application/json"
	case contracts.FormatHTML:
		return "text/html; charset=utf-8"
	case contracts.FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}
