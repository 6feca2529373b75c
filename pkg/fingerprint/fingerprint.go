// Package fingerprint computes fixed-width content digests for captured
// artifacts and caches verdict references keyed by them. The cache is a
// cost control, never a source of truth: a miss only means work is done
// again.
package fingerprint

import (
	"crypto/sha256"
	"image"
	"image/color"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// Sum returns the content fingerprint of opaque bytes, a truncated
// SHA-256. Byte-identical payloads always collide; nothing else does in
// practice.
func Sum(data []byte) contracts.Fingerprint {
	var f contracts.Fingerprint
	h := sha256.Sum256(data)
	copy(f[:], h[:contracts.FingerprintSize])
	return f
}

// FromImage returns a 64-bit perceptual difference hash of an image.
// The image is sampled to a 9x8 grayscale grid and each bit records
// whether a pixel is brighter than its right neighbor, so small
// re-encodings and uniform shifts map to the same fingerprint.
func FromImage(img image.Image) contracts.Fingerprint {
	const cols, rows = 9, 8

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var grid [rows][cols]float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			// Nearest-neighbor sample at the cell center.
			sx := bounds.Min.X + (2*x+1)*w/(2*cols)
			sy := bounds.Min.Y + (2*y+1)*h/(2*rows)
			grid[y][x] = luminance(img.At(sx, sy))
		}
	}

	var f contracts.Fingerprint
	bit := 0
	for y := 0; y < rows; y++ {
		for x := 0; x < cols-1; x++ {
			if grid[y][x] > grid[y][x+1] {
				f[bit/8] |= 1 << (7 - bit%8)
			}
			bit++
		}
	}
	return f
}

func luminance(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}
