package imagestore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// ContentType is the content type of every stored image.
	ContentType = "image/jpeg"
	// Ext is the file extension of every stored image.
	Ext = ".jpg"

	jpegQuality = 85
)

// Normalize decodes an uploaded photo, applies its EXIF orientation, shrinks
// it to fit within maxDim on both sides and re-encodes it as JPEG.
// Images already within bounds are not upscaled.
func Normalize(r io.Reader, maxDim int) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
