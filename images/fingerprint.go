package images

import (
	"image"
	"math"
	"math/bits"

	xdraw "golang.org/x/image/draw"
)

// Fingerprint computes a 64 bit difference hash of img. Visually similar
// images produce fingerprints with a small Hamming distance.
func Fingerprint(img image.Image) uint64 {
	gray := grayscale(img, 9, 8)

	var hash uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := gray.GrayAt(x, y).Y
			right := gray.GrayAt(x+1, y).Y
			if left > right {
				hash |= 1 << uint(y*8+x)
			}
		}
	}
	return hash
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// IsBlank reports whether img is close to a single flat colour, i.e. the
// standard deviation of its luma stays below tolerance (0-255 scale).
func IsBlank(img image.Image, tolerance float64) bool {
	return LumaDeviation(img) < tolerance
}

// LumaDeviation is the standard deviation of luma over a 32x32 downscale.
func LumaDeviation(img image.Image) float64 {
	gray := grayscale(img, 32, 32)

	n := float64(len(gray.Pix))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, p := range gray.Pix {
		sum += float64(p)
	}
	mean := sum / n

	var variance float64
	for _, p := range gray.Pix {
		d := float64(p) - mean
		variance += d * d
	}
	return math.Sqrt(variance / n)
}

func grayscale(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}
