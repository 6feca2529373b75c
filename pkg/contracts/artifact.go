// Package contracts defines the shared data model of the validation
// pipeline: captured artifacts, evaluator judgments, consensus verdicts,
// and report jobs. Types here are plain data carried across package and
// wire boundaries; behavior lives in the packages that own it.
package contracts

import (
	"encoding/hex"
	"fmt"
	"time"
)

// FingerprintSize is the fixed width of an artifact fingerprint in bytes.
const FingerprintSize = 8

// Fingerprint is a fixed-width perceptual digest of captured content.
// Two artifacts with equal fingerprints are treated as duplicates for
// caching purposes; equality is exact, never fuzzy.
type Fingerprint [FingerprintSize]byte

// String returns the lowercase hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is the all-zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler (hex).
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFingerprint decodes a hex-encoded fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	raw, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("fingerprint is not hex: %w", err)
	}
	if len(raw) != FingerprintSize {
		return f, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(raw))
	}
	copy(f[:], raw)
	return f, nil
}

// Artifact is a single captured item under validation, typically a
// screenshot or rendered frame from a UI test run. Artifacts are
// immutable once recorded.
type Artifact struct {
	ArtifactID  string      `json:"artifact_id"`
	TestRunID   string      `json:"test_run_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CapturedAt  time.Time   `json:"captured_at"`
}
