// Package transform implements the fixed tensor transforms around the
// generator: the preprocessing chain the network was trained with, and the
// postprocessing that turns raw activations back into a PNG.
package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Preprocess converts a decoded sketch into the flattened CHW tensor the
// generator expects: resize to size x size, collapse to grayscale, rescale
// the pixel range to [0,1] by per-image min-max, then map to [-1,1]. The
// gray plane is replicated across all channels.
//
// A constant image has no pixel range; it normalizes to the zero tensor
// instead of dividing by zero.
func Preprocess(img image.Image, size, channels int) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("transform: target size must be positive, got %d", size)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("transform: channel count must be positive, got %d", channels)
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	gray := imaging.Grayscale(resized)

	plane := make([]float32, size*size)
	minVal := float32(1)
	maxVal := float32(0)

	bounds := gray.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, _, _, _ := gray.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			v := float32(r) / 65535.0
			plane[y*size+x] = v
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
	}

	span := maxVal - minVal
	data := make([]float32, channels*size*size)
	for i, v := range plane {
		var out float32
		if span > 0 {
			out = 2.0*((v-minVal)/span) - 1.0
		}
		for c := 0; c < channels; c++ {
			data[c*size*size+i] = out
		}
	}

	return data, nil
}

// Postprocess converts raw generator output in the training range [-1,1]
// into an image: denormalize to [0,1], clamp, scale to 8-bit. One- and
// three-channel tensors are supported; single-channel output is rendered as
// gray.
func Postprocess(data []float32, size, channels int) (image.Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("transform: output size must be positive, got %d", size)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("transform: unsupported channel count %d", channels)
	}
	if want := channels * size * size; len(data) != want {
		return nil, fmt.Errorf("transform: got %d values, want %d (%d channels of %dx%d)",
			len(data), want, channels, size, size)
	}

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	planeSize := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := y*size + x
			r := denormByte(data[i])
			g, b := r, r
			if channels == 3 {
				g = denormByte(data[planeSize+i])
				b = denormByte(data[2*planeSize+i])
			}
			off := out.PixOffset(x, y)
			out.Pix[off+0] = r
			out.Pix[off+1] = g
			out.Pix[off+2] = b
			out.Pix[off+3] = 0xff
		}
	}

	return out, nil
}

// denormByte maps a value in [-1,1] to an 8-bit channel, clamping anything
// the network produced outside the training range.
func denormByte(v float32) uint8 {
	v = (v + 1.0) / 2.0
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v*255.0 + 0.5)
}

// EncodePNG renders img into PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
