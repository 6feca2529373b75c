package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// FSStore keeps rendered reports on the local filesystem. Download
// handles are self-issued HMAC tokens served back through the API's
// blob endpoint, because a bare filesystem cannot sign URLs for us.
type FSStore struct {
	baseDir string
	baseURL string
	signer  *HandleSigner
	mu      sync.RWMutex
}

// NewFSStore creates the store rooted at baseDir. baseURL is the
// externally reachable prefix the API serves blobs under, without a
// trailing slash.
func NewFSStore(baseDir, baseURL string, signer *HandleSigner) (*FSStore, error) {
	if signer == nil {
		return nil, fmt.Errorf("fs store requires a handle signer")
	}
	//nolint:gosec // G301: 0755 is intentional for a shared report directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure report dir: %w", err)
	}
	return &FSStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}, nil
}

func (s *FSStore) Backend() string { return "fs" }

func (s *FSStore) Put(_ context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error) {
	if err := validateReportID(reportID); err != nil {
		return contracts.StorageLocation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := objectKey(reportID, format)
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	//nolint:gosec // G301: report directories hold no secrets
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return contracts.StorageLocation{}, fmt.Errorf("failed to ensure report dir: %w", err)
	}

	// Write to temp, then rename.
	tmpPath := path + ".tmp"
	//nolint:gosec // G306: rendered reports are world-readable artifacts
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return contracts.StorageLocation{}, fmt.Errorf("failed to write report blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return contracts.StorageLocation{}, fmt.Errorf("failed to commit report blob: %w", err)
	}

	sum := sha256.Sum256(data)
	return contracts.StorageLocation{
		Backend:   s.Backend(),
		Path:      key,
		Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *FSStore) Open(_ context.Context, reportID string, format contracts.ReportFormat) ([]byte, error) {
	if err := validateReportID(reportID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(objectKey(reportID, format)))
	data, err := os.ReadFile(path) //nolint:gosec // key derived from validated id
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s %s: %w", reportID, format, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (s *FSStore) SignedHandle(_ context.Context, reportID string, format contracts.ReportFormat, ttl time.Duration) (Handle, error) {
	if err := validateReportID(reportID); err != nil {
		return Handle{}, err
	}
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}

	token, expiresAt, err := s.signer.Sign(reportID, format, ttl)
	if err != nil {
		return Handle{}, err
	}

	q := url.Values{}
	q.Set("format", string(format))
	q.Set("token", token)
	return Handle{
		URL:       fmt.Sprintf("%s/blobs/%s?%s", s.baseURL, reportID, q.Encode()),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyHandle validates a token presented at the blob endpoint against
// the rendition it claims to grant.
func (s *FSStore) VerifyHandle(token, reportID string, format contracts.ReportFormat) error {
	if err := validateReportID(reportID); err != nil {
		return err
	}
	return s.signer.Verify(token, reportID, format)
}
