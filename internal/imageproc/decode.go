// Package imageproc prepares photos for the generation service: it validates
// and decodes source images, downsizes and recompresses them for upload, and
// samples swatch colors from them.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxSourceBytes is the largest source file accepted for upload.
const MaxSourceBytes = 10 * 1024 * 1024

var (
	ErrEmptySource     = errors.New("no image data")
	ErrSourceTooLarge  = errors.New("image file is too large (max 10MB)")
	ErrUnsupportedType = errors.New("unsupported image type: use PNG, JPEG or WEBP")
	ErrDecode          = errors.New("could not decode image")
	ErrEncode          = errors.New("could not encode image")
	ErrSurface         = errors.New("could not acquire drawing surface")
)

var acceptedTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
}

// DetectType sniffs the MIME type of data.
func DetectType(data []byte) string {
	return http.DetectContentType(data)
}

// ValidateSource enforces the local upload constraints without decoding:
// a non-empty payload, at most MaxSourceBytes, and a PNG, JPEG or WEBP body.
func ValidateSource(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptySource
	}
	if len(data) > MaxSourceBytes {
		return "", ErrSourceTooLarge
	}
	mime := DetectType(data)
	if _, ok := acceptedTypes[mime]; !ok {
		return mime, fmt.Errorf("%w (got %s)", ErrUnsupportedType, mime)
	}
	return mime, nil
}

// Decode decodes data, applying EXIF orientation so camera captures come out
// upright.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptySource
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds", ErrDecode)
	}
	return img, nil
}
