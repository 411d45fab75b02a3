package transform

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func gradientImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 * x / (w - 1))
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func uniformImage(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocessShapeAndRange(t *testing.T) {
	const size, channels = 32, 3

	data, err := Preprocess(gradientImage(64, 48), size, channels)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	if len(data) != channels*size*size {
		t.Fatalf("len = %d, want %d", len(data), channels*size*size)
	}

	minV, maxV := data[0], data[0]
	for _, v := range data {
		if v < -1 || v > 1 {
			t.Fatalf("value %v outside [-1,1]", v)
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	// Min-max normalization pins the extremes exactly.
	if minV != -1 {
		t.Errorf("min = %v, want -1", minV)
	}
	if maxV != 1 {
		t.Errorf("max = %v, want 1", maxV)
	}
}

func TestPreprocessReplicatesGrayPlane(t *testing.T) {
	const size, channels = 16, 3

	// A colored input exercises the grayscale collapse too.
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 12), G: uint8(y * 12), B: 40, A: 255})
		}
	}

	data, err := Preprocess(img, size, channels)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	plane := size * size
	for i := 0; i < plane; i++ {
		if data[i] != data[plane+i] || data[i] != data[2*plane+i] {
			t.Fatalf("channel planes differ at %d: %v %v %v", i, data[i], data[plane+i], data[2*plane+i])
		}
	}
}

func TestPreprocessConstantImage(t *testing.T) {
	data, err := Preprocess(uniformImage(10, 10, color.NRGBA{R: 90, G: 90, B: 90, A: 255}), 8, 3)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	for i, v := range data {
		if v != 0 {
			t.Fatalf("constant image should normalize to zeros, got %v at %d", v, i)
		}
	}
}

func TestPreprocessBadArgs(t *testing.T) {
	img := uniformImage(4, 4, color.NRGBA{A: 255})
	if _, err := Preprocess(img, 0, 3); err == nil {
		t.Error("size 0 should fail")
	}
	if _, err := Preprocess(img, 8, 0); err == nil {
		t.Error("0 channels should fail")
	}
}

func TestPostprocessClampsAndScales(t *testing.T) {
	// 2x2 single-channel tensor, including values outside the training range.
	data := []float32{-3, -1, 0, 1}

	img, err := Postprocess(data, 2, 1)
	if err != nil {
		t.Fatalf("Postprocess() error = %v", err)
	}

	want := []uint8{0, 0, 128, 255}
	i := 0
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != want[i] || c.G != want[i] || c.B != want[i] {
				t.Errorf("pixel (%d,%d) = %v, want gray %d", x, y, c, want[i])
			}
			if c.A != 255 {
				t.Errorf("pixel (%d,%d) alpha = %d, want 255", x, y, c.A)
			}
			i++
		}
	}
}

func TestPostprocessRGBPlanes(t *testing.T) {
	// One pixel, CHW planes: R=1, G=-1, B=0.
	img, err := Postprocess([]float32{1, -1, 0}, 1, 3)
	if err != nil {
		t.Fatalf("Postprocess() error = %v", err)
	}

	c := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	if c.R != 255 || c.G != 0 || c.B != 128 {
		t.Errorf("pixel = %v, want R=255 G=0 B=128", c)
	}
}

func TestPostprocessRejectsBadInput(t *testing.T) {
	if _, err := Postprocess(make([]float32, 10), 2, 1); err == nil {
		t.Error("length mismatch should fail")
	}
	if _, err := Postprocess(make([]float32, 8), 2, 2); err == nil {
		t.Error("2 channels should fail")
	}
	if _, err := Postprocess(nil, 0, 1); err == nil {
		t.Error("size 0 should fail")
	}
}

func TestRoundTripProducesDecodablePNG(t *testing.T) {
	const size = 16

	data, err := Preprocess(gradientImage(40, 30), size, 3)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}

	img, err := Postprocess(data, size, 3)
	if err != nil {
		t.Fatalf("Postprocess() error = %v", err)
	}

	raw, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG() error = %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != size || b.Dy() != size {
		t.Errorf("decoded bounds = %v, want %dx%d", b, size, size)
	}
}
