// Package media watches inbound image traffic, fingerprints what it sees,
// and enqueues indexing work for new material.
package media

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Fingerprint computes a 64-bit average hash of img: grayscale, shrink to
// 8x8, threshold each cell against the mean. Stable across recompression
// and small resizes, which is what sticker dedup needs.
func Fingerprint(img image.Image) uint64 {
	small := imaging.Grayscale(imaging.Resize(img, 8, 8, imaging.Lanczos))

	var cells [64]uint32
	var sum uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r, _, _, _ := small.At(x, y).RGBA()
			cells[y*8+x] = r
			sum += uint64(r)
		}
	}
	mean := uint32(sum / 64)

	var hash uint64
	for i, c := range cells {
		if c > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash
}

// FingerprintReader decodes an image stream and fingerprints it.
func FingerprintReader(r io.Reader) (uint64, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return Fingerprint(img), nil
}

// HammingDistance counts differing bits between two fingerprints. Distances
// up to ~5 usually mean the same image.
func HammingDistance(a, b uint64) int {
	x := a ^ b
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}
