// Package preprocess normalizes raw image bytes into the fixed-shape input
// tensor the classifier expects.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// Target spatial resolution of the model input.
const (
	Width  = 224
	Height = 224
)

// DecodeError reports image bytes that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Preprocess decodes the image, resizes it to 224x224, and returns the
// flattened [1,224,224,3] tensor with channel values normalized to [0,1].
// Layout is NHWC: index ((y*Width)+x)*3 + channel. Pure function of its
// input; the Lanczos3 filter keeps resampling deterministic.
func Preprocess(imageBytes []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	resized := resize.Resize(Width, Height, img, resize.Lanczos3)

	out := make([]float32, 1*Height*Width*3)
	bounds := resized.Bounds()
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*Width + x) * 3
			out[base] = float32(r) / 65535.0
			out[base+1] = float32(g) / 65535.0
			out[base+2] = float32(b) / 65535.0
		}
	}
	return out, nil
}
