package images

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNotDataURI = errors.New("not a data URI")

// ParseDataURI splits a data URI into its media type and decoded payload.
// Both base64 and percent-encoded payloads are accepted.
func ParseDataURI(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return "", nil, ErrNotDataURI
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrNotDataURI)
	}

	isBase64 := false
	params := strings.Split(meta, ";")
	mime := strings.ToLower(strings.TrimSpace(params[0]))
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if mime == "" {
		mime = "text/plain"
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some encoders drop the padding
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
			}
		}
		return mime, data, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to unescape payload: %w", err)
	}
	return mime, []byte(unescaped), nil
}

// EncodeDataURI renders data as a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI parses a data URI and decodes the image it carries.
func DecodeDataURI(s string) (Decoded, error) {
	mime, data, err := ParseDataURI(s)
	if err != nil {
		return Decoded{}, err
	}
	if !strings.HasPrefix(mime, "image/") {
		return Decoded{}, fmt.Errorf("%w: unsupported media type %q", ErrUnsupportedFormat, mime)
	}
	return Decode(data)
}
