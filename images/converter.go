package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/png"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"
)

// RasterizePNG encodes img at its native resolution as a PNG data URI.
// This is what a captured camera frame becomes before verification.
func RasterizePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode frame as PNG: %w", err)
	}
	bounds := img.Bounds()
	slog.Debug("Frame rasterized", "width", bounds.Dx(), "height", bounds.Dy(), "size", buf.Len())
	return EncodeDataURI("image/png", buf.Bytes()), nil
}

// Thumbnail renders a small palettized PNG data URI for gallery listings.
func Thumbnail(img image.Image, maxW, maxH int) (string, error) {
	return convertImageToPNG(img, maxW, maxH, 256, png.BestCompression)
}

// convertImageToPNG encodes an image as a PNG data URI with optional resize and quantization
//
// maxW/maxH: if >0, the image is downscaled to fit within this box (keeping aspect ratio)
// colors:    if >0, convert to a paletted image (≤256 colors is typical for PNG)
// level:     png.DefaultCompression, png.BestCompression, png.BestSpeed, etc.
func convertImageToPNG(img image.Image, maxW, maxH, colors int, level png.CompressionLevel) (string, error) {
	if maxW > 0 || maxH > 0 {
		img = ResizeToFit(img, maxW, maxH)
	}

	var out = img
	if colors > 0 {
		pal := palette.Plan9
		if colors <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(img.Bounds(), pal)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, img.Bounds().Min)
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, out); err != nil {
		return "", err
	}
	return EncodeDataURI("image/png", buf.Bytes()), nil
}

// ResizeToFit scales src to fit within maxW×maxH (keeping aspect ratio).
// Images that already fit are returned unchanged.
func ResizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if (maxW <= 0 && maxH <= 0) || bw == 0 || bh == 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
