// Package blob stores rendered report bytes and issues short-lived,
// narrowly scoped download handles for them. Object keys are derived
// from the report ID and format alone; caller-supplied strings never
// reach a path.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

var (
	// ErrNotFound means no blob exists for the report and format.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidReportID rejects IDs that could not have been issued by
	// this system.
	ErrInvalidReportID = errors.New("invalid report id")

	// ErrInvalidHandle rejects malformed or mis-scoped download handles.
	ErrInvalidHandle = errors.New("invalid download handle")

	// ErrExpiredHandle rejects handles past their expiry.
	ErrExpiredHandle = errors.New("download handle expired")
)

// DefaultHandleTTL is how long a download handle stays valid.
const DefaultHandleTTL = 5 * time.Minute

// Handle is a time-limited grant to fetch one rendered report format.
type Handle struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the blob persistence contract.
type Store interface {
	// Put writes one rendered format, overwriting any previous bytes
	// for the same report and format, and returns where it landed.
	Put(ctx context.Context, reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, error)

	// Open reads a stored rendition back.
	Open(ctx context.Context, reportID string, format contracts.ReportFormat) ([]byte, error)

	// SignedHandle issues a handle scoped to exactly the given report
	// and format. Zero ttl means DefaultHandleTTL.
	SignedHandle(ctx context.Context, reportID string, format contracts.ReportFormat, ttl time.Duration) (Handle, error)

	// Backend names the storage implementation for metadata records.
	Backend() string
}

// objectKey derives the storage key for a rendition. The layout is
// stable: metadata rows and signed handles both depend on it.
func objectKey(reportID string, format contracts.ReportFormat) string {
	return "reports/" + reportID + "/report." + string(format)
}

// validateReportID confines IDs to the charset our own ID generator
// emits, which keeps every derived key traversal-free.
func validateReportID(reportID string) error {
	if reportID == "" || len(reportID) > 128 {
		return ErrInvalidReportID
	}
	for _, r := range reportID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidReportID, r)
		}
	}
	return nil
}
