package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	signer, err := NewHandleSigner([]byte("test-master-secret"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store, err := NewFSStore(t.TempDir(), "http://localhost:8080", signer)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return store
}

func TestFSStore_PutOpenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte(`{"summary":"ok"}`)
	loc, err := store.Put(ctx, "report-1", contracts.FormatJSON, data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if loc.Backend != "fs" {
		t.Errorf("backend = %q, want fs", loc.Backend)
	}
	if loc.Path != "reports/report-1/report.json" {
		t.Errorf("path = %q, want key derived from report id", loc.Path)
	}
	if !strings.HasPrefix(loc.Checksum, "sha256:") {
		t.Errorf("checksum = %q, want sha256 prefix", loc.Checksum)
	}
	if loc.SizeBytes != int64(len(data)) {
		t.Errorf("size = %d, want %d", loc.SizeBytes, len(data))
	}

	got, err := store.Open(ctx, "report-1", contracts.FormatJSON)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestFSStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _ = store.Put(ctx, "report-1", contracts.FormatHTML, []byte("<p>v1</p>"))
	_, err := store.Put(ctx, "report-1", contracts.FormatHTML, []byte("<p>v2</p>"))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, _ := store.Open(ctx, "report-1", contracts.FormatHTML)
	if string(got) != "<p>v2</p>" {
		t.Errorf("latest put should win, got %q", got)
	}
}

func TestFSStore_OpenMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Open(context.Background(), "report-9", contracts.FormatPDF)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStore_RejectsHostileReportIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "../../etc/passwd", "a/b", "x;rm", strings.Repeat("a", 200)} {
		if _, err := store.Put(ctx, id, contracts.FormatJSON, []byte("{}")); !errors.Is(err, ErrInvalidReportID) {
			t.Errorf("Put(%q) should reject the id, got %v", id, err)
		}
		if _, err := store.Open(ctx, id, contracts.FormatJSON); !errors.Is(err, ErrInvalidReportID) {
			t.Errorf("Open(%q) should reject the id, got %v", id, err)
		}
		if _, err := store.SignedHandle(ctx, id, contracts.FormatJSON, time.Minute); !errors.Is(err, ErrInvalidReportID) {
			t.Errorf("SignedHandle(%q) should reject the id, got %v", id, err)
		}
	}
}

func TestFSStore_NoTempFileLeftBehind(t *testing.T) {
	signer, _ := NewHandleSigner([]byte("s"))
	dir := t.TempDir()
	store, err := NewFSStore(dir, "http://localhost:8080", signer)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	_, err = store.Put(context.Background(), "report-1", contracts.FormatJSON, []byte("{}"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "reports", "report-1"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %q should be renamed away", e.Name())
		}
	}
}

func TestFSStore_SignedHandleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _ = store.Put(ctx, "report-1", contracts.FormatPDF, []byte("%PDF-1.7"))

	handle, err := store.SignedHandle(ctx, "report-1", contracts.FormatPDF, time.Minute)
	if err != nil {
		t.Fatalf("signed handle: %v", err)
	}
	if !strings.Contains(handle.URL, "/blobs/report-1?") {
		t.Errorf("handle URL should route through the blob endpoint: %s", handle.URL)
	}
	if time.Until(handle.ExpiresAt) > time.Minute+time.Second {
		t.Errorf("expiry too far out: %v", handle.ExpiresAt)
	}

	token := extractToken(t, handle.URL)
	if err := store.VerifyHandle(token, "report-1", contracts.FormatPDF); err != nil {
		t.Errorf("fresh handle should verify: %v", err)
	}
}

func TestFSStore_HandleScopedToRendition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle, err := store.SignedHandle(ctx, "report-1", contracts.FormatPDF, time.Minute)
	if err != nil {
		t.Fatalf("signed handle: %v", err)
	}
	token := extractToken(t, handle.URL)

	if err := store.VerifyHandle(token, "report-2", contracts.FormatPDF); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("handle must not open another report, got %v", err)
	}
	if err := store.VerifyHandle(token, "report-1", contracts.FormatJSON); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("handle must not open another format, got %v", err)
	}
}

func TestFSStore_HandleExpires(t *testing.T) {
	store := newTestStore(t)

	handle, err := store.SignedHandle(context.Background(), "report-1", contracts.FormatJSON, time.Millisecond)
	if err != nil {
		t.Fatalf("signed handle: %v", err)
	}
	token := extractToken(t, handle.URL)

	time.Sleep(1100 * time.Millisecond) // jwt expiry has one-second resolution

	if err := store.VerifyHandle(token, "report-1", contracts.FormatJSON); !errors.Is(err, ErrExpiredHandle) {
		t.Errorf("expected ErrExpiredHandle, got %v", err)
	}
}

func TestFSStore_ForgedTokenRejected(t *testing.T) {
	store := newTestStore(t)

	otherSigner, _ := NewHandleSigner([]byte("attacker-secret"))
	token, _, err := otherSigner.Sign("report-1", contracts.FormatJSON, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := store.VerifyHandle(token, "report-1", contracts.FormatJSON); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("foreign signature must be rejected, got %v", err)
	}
}

func extractToken(t *testing.T, rawURL string) string {
	t.Helper()
	idx := strings.Index(rawURL, "token=")
	if idx < 0 {
		t.Fatalf("no token in URL %s", rawURL)
	}
	token := rawURL[idx+len("token="):]
	if amp := strings.IndexByte(token, '&'); amp >= 0 {
		token = token[:amp]
	}
	return token
}
