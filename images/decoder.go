package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
	"pault.ag/go/cbeff/jpeg2000"
)

var ErrUnsupportedFormat = errors.New("unsupported or invalid image format")

// Decoded is an image together with the format it was read from.
type Decoded struct {
	Image  image.Image
	Format string
}

// Decode attempts to decode an image from bytes, trying multiple formats
func Decode(data []byte) (Decoded, error) {
	if len(data) == 0 {
		return Decoded{}, fmt.Errorf("%w: no image data provided", ErrUnsupportedFormat)
	}

	// JPEG first, camera captures and phone uploads are mostly JPEG
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return Decoded{Image: img, Format: "jpeg"}, nil
	}

	// png, gif and webp are registered with the image package
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return Decoded{Image: img, Format: format}, nil
	}

	// scanned documents are sometimes JPEG 2000
	if isJPEG2000(data) {
		if img, err := jpeg2000.Parse(data); err == nil {
			return Decoded{Image: img, Format: "jpeg2000"}, nil
		}
	}

	return Decoded{}, ErrUnsupportedFormat
}

var (
	jp2Signature = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
	j2kCodestream = []byte{0xFF, 0x4F, 0xFF, 0x51}
)

func isJPEG2000(data []byte) bool {
	return bytes.HasPrefix(data, jp2Signature) || bytes.HasPrefix(data, j2kCodestream)
}
