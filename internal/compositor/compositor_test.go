package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/adhtanjung/productphoto/internal/imagepipeline"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.Fit != imagepipeline.FitCover {
		t.Errorf("Fit default = %q", o.Fit)
	}
	if o.DropShadow == nil || !*o.DropShadow {
		t.Error("DropShadow should default to enabled")
	}
	if o.ShadowBlur != 20 {
		t.Errorf("ShadowBlur default = %v, want 20", o.ShadowBlur)
	}
	if o.ShadowOpacity != 0.3 {
		t.Errorf("ShadowOpacity default = %v, want 0.3", o.ShadowOpacity)
	}
	if o.OutputFormat != "jpg" {
		t.Errorf("OutputFormat default = %q", o.OutputFormat)
	}
	if o.Quality != 90 {
		t.Errorf("Quality default = %d, want 90", o.Quality)
	}
}

func TestOptionsExplicitValuesSurvive(t *testing.T) {
	no := false
	o := Options{DropShadow: &no, ShadowBlur: 5, OutputFormat: "webp", Quality: 70}.withDefaults()
	if *o.DropShadow {
		t.Error("explicit DropShadow=false should not be overridden")
	}
	if o.ShadowBlur != 5 {
		t.Errorf("ShadowBlur = %v, want 5", o.ShadowBlur)
	}
	if o.OutputFormat != "webp" {
		t.Errorf("OutputFormat = %q, want webp", o.OutputFormat)
	}
}

func rgbaSquare(size int, halfTransparent bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			a := uint8(255)
			if halfTransparent && x < size/2 {
				a = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 50, B: 50, A: a})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func solidJPEG(size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 230, B: 230, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// These two cases exercise the alpha-detection precondition spec §4.5
// step 2 relies on, without needing a live object store. Composite()
// itself reads and writes through the object store and is not exercised
// by the tests in this repository.

func TestSolidJPEGHasNoAlpha(t *testing.T) {
	img, err := imagepipeline.Decode(solidJPEG(64))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if imagepipeline.HasAlpha(img) {
		t.Fatal("solid JPEG should not report alpha")
	}
}

func TestHalfTransparentPNGHasAlpha(t *testing.T) {
	img, err := imagepipeline.Decode(rgbaSquare(64, true))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !imagepipeline.HasAlpha(img) {
		t.Fatal("half-transparent PNG should report alpha")
	}
}

func TestShadowOpacityBound(t *testing.T) {
	alpha := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			alpha.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	shadow := imagepipeline.TintAlpha(alpha, color.RGBA{A: 255}, 0.3)
	max := uint8(0.3*255 + 1) // +1 rounding slack
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if a := shadow.NRGBAAt(x, y).A; a > max {
				t.Fatalf("shadow alpha %d exceeds bound %d at (%d,%d)", a, max, x, y)
			}
		}
	}
}
