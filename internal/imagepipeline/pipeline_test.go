package imagepipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func solidPNG(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestDecodeRoundTrip(t *testing.T) {
	data := solidPNG(32, 16, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("bounds = %v, want 32x16", b)
	}
}

func TestResizeCoverFillsExactDimensions(t *testing.T) {
	data := solidPNG(100, 50, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img, _ := Decode(data)
	out := Resize(img, 40, 40, FitCover)
	if b := out.Bounds(); b.Dx() != 40 || b.Dy() != 40 {
		t.Fatalf("cover resize bounds = %v, want 40x40", b)
	}
}

func TestResizeInsidePreservesAspect(t *testing.T) {
	data := solidPNG(200, 100, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img, _ := Decode(data)
	out := Resize(img, 50, 50, FitInside)
	b := out.Bounds()
	if b.Dx() > 50 || b.Dy() > 50 {
		t.Fatalf("inside resize exceeded bounds: %v", b)
	}
	if b.Dx() != 50 {
		t.Fatalf("wider side should hit the 50px cap, got %v", b)
	}
}

func TestHasAlphaFalseForOpaqueJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 1, G: 2, B: 3, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	decoded, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if HasAlpha(decoded) {
		t.Fatal("opaque JPEG should not report alpha")
	}
}

func TestEncodeJPEGDefaultQuality(t *testing.T) {
	data := solidPNG(16, 16, color.NRGBA{R: 5, G: 5, B: 5, A: 255})
	img, _ := Decode(data)
	out, err := Encode(img, EncodeOptions{Format: "jpg"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("output is not valid jpeg: %v", err)
	}
}

func TestAlphaChannelExtraction(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{A: 128})
	img.SetNRGBA(0, 1, color.NRGBA{A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{A: 64})

	alpha := AlphaChannel(img)
	if alpha.GrayAt(0, 0).Y != 0 {
		t.Errorf("(0,0) alpha = %d, want 0", alpha.GrayAt(0, 0).Y)
	}
	if alpha.GrayAt(0, 1).Y != 255 {
		t.Errorf("(0,1) alpha = %d, want 255", alpha.GrayAt(0, 1).Y)
	}
}
