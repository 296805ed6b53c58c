// Package thumbnail renders scaled-down JPEG previews of images.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 85

// Thumbnailer decodes source images and scales them to requested bounds.
type Thumbnailer struct {
	quality int
	filter  imaging.ResampleFilter
}

// New returns a Thumbnailer that encodes at the given JPEG quality (1-100).
// Out of range values fall back to DefaultQuality.
func New(quality int) *Thumbnailer {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Thumbnailer{quality: quality, filter: imaging.Lanczos}
}

// Transform decodes r and scales the result.
//
// With fill set and both dimensions present the image is scaled and
// center-cropped to exactly width x height. Otherwise it is scaled down to fit
// inside the given bounds, an absent dimension being unbounded, and is never
// enlarged. Fill with a single dimension therefore renders the same image as
// fit with that dimension. ok is false when r does not hold a decodable image; errors are
// reserved for failures reading r.
func (t *Thumbnailer) Transform(ctx context.Context, r io.Reader, fill bool, width, height *int) (image.Image, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read source image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, nil
	}

	if fill && width != nil && height != nil {
		return imaging.Fill(img, *width, *height, imaging.Center, t.filter), true, nil
	}

	bounds := img.Bounds()
	maxW, maxH := bounds.Dx(), bounds.Dy()
	if width != nil {
		maxW = *width
	}
	if height != nil {
		maxH = *height
	}

	return imaging.Fit(img, maxW, maxH, t.filter), true, nil
}

// Encode serialises img as JPEG.
func (t *Thumbnailer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType is the MIME type of the bytes produced by Encode.
func (t *Thumbnailer) ContentType() string {
	return "image/jpeg"
}
