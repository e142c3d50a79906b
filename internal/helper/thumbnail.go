package helper

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "github.com/mat/besticon/ico" // register .ico decoder
)

const MaxThumbnailDimension = 128

// DecodeImage decodes raw image bytes. WebP goes through chai2010 because
// the stdlib registry has no webp decoder; everything else (jpeg/png/gif/ico)
// uses whatever is registered with image.Decode.
func DecodeImage(data []byte, mimeType string) (image.Image, error) {
	if strings.Contains(mimeType, "webp") {
		return webp.Decode(bytes.NewReader(data))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// JPEGThumbnail renders a small JPEG preview of an image payload, used as
// the inline thumbnail on outbound image messages. Errors are not fatal to
// a send; callers treat a nil result as "no thumbnail".
func JPEGThumbnail(data []byte, mimeType string) ([]byte, error) {
	img, err := DecodeImage(data, mimeType)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, MaxThumbnailDimension, MaxThumbnailDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
