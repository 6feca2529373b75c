package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPDFWorkers = 2
	DefaultPDFTimeout = 120 * time.Second
)

// PDFRenderer prints an HTML rendition to PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}

// PDFConfig tunes the headless browser pool.
type PDFConfig struct {
	// Workers bounds how many browser instances print concurrently.
	Workers int64
	// Timeout covers one print end to end, queue wait included.
	Timeout time.Duration
	// ExecPath overrides the browser binary, for containers that ship
	// chromium somewhere non-standard.
	ExecPath string
}

// ChromePDF prints through headless Chrome. The semaphore keeps at
// most Workers browsers alive at once; waiters park until a slot
// frees or their context expires.
type ChromePDF struct {
	sem      *semaphore.Weighted
	timeout  time.Duration
	execPath string
	waiting  atomic.Int64
}

func NewChromePDF(cfg PDFConfig) *ChromePDF {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPDFWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPDFTimeout
	}
	return &ChromePDF{
		sem:      semaphore.NewWeighted(cfg.Workers),
		timeout:  cfg.Timeout,
		execPath: cfg.ExecPath,
	}
}

// QueueDepth is the number of prints parked waiting for a slot.
func (c *ChromePDF) QueueDepth() int64 {
	return c.waiting.Load()
}

func (c *ChromePDF) RenderPDF(ctx context.Context, html []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.waiting.Add(1)
	err := c.sem.Acquire(ctx, 1)
	c.waiting.Add(-1)
	if err != nil {
		return nil, fmt.Errorf("acquire pdf worker: %w", err)
	}
	defer c.sem.Release(1)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var pdf []byte
	err = chromedp.Run(browserCtx,
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	return pdf, nil
}
