package blob

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// handleClaims binds a download token to one report rendition.
type handleClaims struct {
	jwt.RegisteredClaims
	Format string `json:"fmt"`
}

// HandleSigner mints and verifies HMAC-signed download tokens for
// backends without provider-signed URLs. The signing key is derived
// from the master secret with HKDF, so the secret itself never signs
// anything directly.
type HandleSigner struct {
	key []byte
}

// NewHandleSigner derives the download-handle signing key.
func NewHandleSigner(masterSecret []byte) (*HandleSigner, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("blob: empty master secret")
	}
	r := hkdf.New(sha256.New, masterSecret, nil, []byte("visiongate/download-handles/v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive handle key: %w", err)
	}
	return &HandleSigner{key: key}, nil
}

// Sign issues a token for the rendition, valid for ttl.
func (s *HandleSigner) Sign(reportID string, format contracts.ReportFormat, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := handleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   reportID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "visiongate/blob",
		},
		Format: string(format),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign handle: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks the token and that it is scoped to exactly the given
// report and format. An expired token maps to ErrExpiredHandle, every
// other failure to ErrInvalidHandle.
func (s *HandleSigner) Verify(token, reportID string, format contracts.ReportFormat) error {
	parsed, err := jwt.ParseWithClaims(token, &handleClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredHandle
		}
		return fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	claims, ok := parsed.Claims.(*handleClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidHandle
	}
	if claims.Subject != reportID || claims.Format != string(format) {
		return fmt.Errorf("%w: token is scoped to another rendition", ErrInvalidHandle)
	}
	return nil
}
