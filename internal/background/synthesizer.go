// Package background implements the BackgroundSynthesizer of spec §4.4
// stage 2: it produces N themed background images per job. The reference
// implementation uses solid and gradient fills; the Synthesizer interface
// permits swapping in an AI generator (teacher redesign note: model
// getBackgroundProvider as an interface, wire the variant at startup).
package background

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// Variant is one produced background image ready for upload.
type Variant struct {
	Index int // 0-based position, used in keys and later matched against composites[]
	Data  []byte
	Theme string
}

// Synthesizer produces backgrounds for a job.
type Synthesizer interface {
	Generate(theme string, width, height, count int) ([]Variant, error)
}

// themePalettes maps a theme tag to an ordered list of fill colors; the
// solid fill uses the first color, the gradient fill blends the first into
// the last.
var themePalettes = map[string][]color.RGBA{
	"default": {{240, 240, 240, 255}, {200, 200, 200, 255}},
	"kitchen": {{250, 240, 220, 255}, {210, 180, 140, 255}},
	"luxury":  {{20, 20, 20, 255}, {60, 50, 40, 255}},
}

// SolidGradientSynthesizer is the reference Synthesizer: variant 0 is a
// solid fill, every subsequent variant is a vertical gradient between the
// palette's two colors.
type SolidGradientSynthesizer struct{}

// NewSolidGradientSynthesizer constructs the reference Synthesizer.
func NewSolidGradientSynthesizer() *SolidGradientSynthesizer {
	return &SolidGradientSynthesizer{}
}

// Generate produces count backgrounds (default 2 when count < 1) at
// width x height for theme.
func (s *SolidGradientSynthesizer) Generate(theme string, width, height, count int) ([]Variant, error) {
	if count < 1 {
		count = 2
	}
	palette, ok := themePalettes[theme]
	if !ok {
		palette = themePalettes["default"]
	}

	variants := make([]Variant, 0, count)
	for i := 0; i < count; i++ {
		var img *image.RGBA
		if i == 0 {
			img = solidFill(width, height, palette[0])
		} else {
			img = verticalGradient(width, height, palette[0], palette[len(palette)-1])
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("background: encode variant %d: %w", i, err)
		}
		variants = append(variants, Variant{Index: i, Data: buf.Bytes(), Theme: theme})
	}
	return variants, nil
}

func solidFill(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func verticalGradient(w, h int, from, to color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := float64(y) / float64(h-1)
		if h == 1 {
			t = 0
		}
		c := lerp(from, to, t)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func lerp(from, to color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(from.R) + t*(float64(to.R)-float64(from.R))),
		G: uint8(float64(from.G) + t*(float64(to.G)-float64(from.G))),
		B: uint8(float64(from.B) + t*(float64(to.B)-float64(from.B))),
		A: 255,
	}
}
