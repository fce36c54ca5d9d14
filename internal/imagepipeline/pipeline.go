// Package imagepipeline is the small ImagePipeline abstraction called for
// by the teacher redesign note on Sharp-specific chaining: decode,
// normalize, resize, composite, encode, kept behind plain functions
// (rather than method chaining) so the encoder backend for the
// high-efficiency formats (govips/libvips) can be swapped without
// touching compositor or derivative code.
package imagepipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	govips "github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder for Decode below
)

func init() {
	govips.Startup(nil)
}

// Fit mirrors the resize modes named in spec §4.5/§4.6.
type Fit string

const (
	FitCover  Fit = "cover"
	FitInside Fit = "inside"
)

// EncodeOptions controls output format and quality.
type EncodeOptions struct {
	Format  string // jpg, webp, avif, png
	Quality int    // 1-100, ignored for png
}

// Decode reads an image from raw bytes, auto-orienting per EXIF and
// picking up any format registered via blank image decoder imports
// (webp registered by this package's own import of golang.org/x/image/webp).
func Decode(data []byte) (*image.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("imagepipeline: decode: %w", err)
	}
	return imaging.Clone(img), nil
}

// Normalize coerces img to a plain sRGB NRGBA buffer, stripping any
// embedded color profile in the process. Per spec §4.5 step 3 this step
// is non-fatal: on panic recovery or internal failure it returns the
// original image unchanged.
func Normalize(img image.Image) (out image.Image) {
	out = img
	defer func() {
		if r := recover(); r != nil {
			out = img
		}
	}()
	return imaging.Clone(img)
}

// Resize fits src to width x height using lanczos-3 according to fit,
// always anchored center (the only gravity the spec requires).
func Resize(src image.Image, width, height int, fit Fit) *image.NRGBA {
	switch fit {
	case FitInside:
		return imaging.Fit(src, width, height, imaging.Lanczos)
	default: // cover
		return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
	}
}

// HasAlpha reports whether img carries a meaningful (non-fully-opaque)
// alpha channel, judged from five sample pixels: the four corners and the
// center. Transparency elsewhere in the image is not detected.
func HasAlpha(img image.Image) bool {
	b := img.Bounds()
	points := []image.Point{
		b.Min, {X: b.Max.X - 1, Y: b.Min.Y}, {X: b.Min.X, Y: b.Max.Y - 1}, {X: b.Max.X - 1, Y: b.Max.Y - 1},
		{X: (b.Min.X + b.Max.X) / 2, Y: (b.Min.Y + b.Max.Y) / 2},
	}
	for _, p := range points {
		_, _, _, a := img.At(p.X, p.Y).RGBA()
		if a < 0xffff {
			return true
		}
	}
	return false
}

// AlphaChannel extracts img's alpha channel as a standalone grayscale
// image, used to build the drop-shadow layer.
func AlphaChannel(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(a >> 8)})
		}
	}
	return out
}

// Blur applies a Gaussian blur of the given pixel radius.
func Blur(img image.Image, radius float64) *image.NRGBA {
	return imaging.Blur(img, radius)
}

// TintAlpha builds an RGBA layer the size of alpha, filled with rgb and
// scaled so the maximum output alpha never exceeds opacity*255 (testable
// property: shadow bound).
func TintAlpha(alpha *image.Gray, rgb color.RGBA, opacity float64) *image.NRGBA {
	if opacity < 0 {
		opacity = 0
	}
	if opacity > 1 {
		opacity = 1
	}
	b := alpha.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := alpha.GrayAt(x, y).Y
			a := uint8(float64(g) * opacity)
			out.SetNRGBA(x, y, color.NRGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: a})
		}
	}
	return out
}

// Overlay composites src onto dst at offset using normal (over) alpha
// blending at full opacity, returning a new image the size of dst.
func Overlay(dst, src image.Image, offset image.Point) *image.NRGBA {
	return imaging.Overlay(dst, src, offset, 1.0)
}

// Sharpen applies an unsharp mask.
func Sharpen(img image.Image, sigma float64) *image.NRGBA {
	return imaging.Sharpen(img, sigma)
}

// AdjustGamma applies a gamma curve.
func AdjustGamma(img image.Image, gamma float64) *image.NRGBA {
	return imaging.AdjustGamma(img, gamma)
}

// Encode serializes img per opts. jpg and png use the pure-Go standard
// library encoders; webp and avif are encoded through govips, the only
// pack dependency offering a real (non-placeholder) encoder for those
// formats.
func Encode(img image.Image, opts EncodeOptions) ([]byte, error) {
	switch opts.Format {
	case "", "jpg", "jpeg":
		var buf bytes.Buffer
		q := opts.Quality
		if q == 0 {
			q = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("imagepipeline: encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	case "png":
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("imagepipeline: encode png: %w", err)
		}
		return buf.Bytes(), nil
	case "webp", "avif":
		return encodeVips(img, opts)
	default:
		return nil, fmt.Errorf("imagepipeline: unsupported format %q", opts.Format)
	}
}

// encodeVips round-trips img through a PNG buffer into a govips ImageRef
// (the library's Go-image interop boundary) and re-exports it as webp or
// avif.
func encodeVips(img image.Image, opts EncodeOptions) ([]byte, error) {
	var pngBuf bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.BestSpeed}).Encode(&pngBuf, img); err != nil {
		return nil, fmt.Errorf("imagepipeline: stage png for vips: %w", err)
	}

	ref, err := govips.NewImageFromBuffer(pngBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("imagepipeline: load into vips: %w", err)
	}
	defer ref.Close()

	q := opts.Quality
	switch opts.Format {
	case "webp":
		if q == 0 {
			q = 85
		}
		ep := govips.NewWebpExportParams()
		ep.Quality = q
		ep.ReductionEffort = 4
		out, _, err := ref.ExportWebp(ep)
		if err != nil {
			return nil, fmt.Errorf("imagepipeline: export webp: %w", err)
		}
		return out, nil
	case "avif":
		if q == 0 {
			q = 80
		}
		ep := govips.NewAvifExportParams()
		ep.Quality = q
		ep.Effort = 4
		out, _, err := ref.ExportAvif(ep)
		if err != nil {
			return nil, fmt.Errorf("imagepipeline: export avif: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("imagepipeline: encodeVips called with format %q", opts.Format)
	}
}
