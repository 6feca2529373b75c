//go:build e2e

package render_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/visiongate/visiongate/pkg/reports/render"
)

// Needs a chromium binary on PATH; run with -tags e2e.
func TestChromePDF_PrintsReport(t *testing.T) {
	r, err := render.NewHTMLRenderer()
	require.NoError(t, err)
	html, err := r.Render(sampleDocument())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pdf := render.NewChromePDF(render.PDFConfig{})
	out, err := pdf.RenderPDF(ctx, html)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")), "output should be a PDF document")
}
