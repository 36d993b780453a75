package utils

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Downscale shrinks a JPEG so its width is at most maxWidth, keeping the aspect ratio.
// Frames already narrow enough (or maxWidth <= 0) are returned untouched.
func Downscale(jpegData []byte, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		return jpegData, nil
	}
	img, err := imaging.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if img.Bounds().Dx() <= maxWidth {
		return jpegData, nil
	}

	small := imaging.Resize(img, maxWidth, 0, imaging.Linear)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
