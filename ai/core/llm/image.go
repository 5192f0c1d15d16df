package llm

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// maxImageDimension is the pixel budget for images sent to vision models.
// Providers charge by tile; a guild screenshot does not need full resolution.
const maxImageDimension = 1024

// NormalizeImage decodes an attachment and downscales it to the pixel budget,
// re-encoding as JPEG. Images already within budget are still re-encoded so
// every provider receives a predictable format.
func NormalizeImage(data []byte) (*Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxImageDimension || bounds.Dy() > maxImageDimension {
		img = imaging.Fit(img, maxImageDimension, maxImageDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return &Image{MIME: "image/jpeg", Data: buf.Bytes()}, nil
}
