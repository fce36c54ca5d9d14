// Package compositor implements the Compositor of spec §4.5: cutout +
// background + optional drop shadow, producing one composite per
// background variant. The algorithm follows the teacher's
// internal/imaging processing style (resize then layer then encode)
// generalized onto the imagepipeline abstraction.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/adhtanjung/productphoto/internal/imagepipeline"
	"github.com/adhtanjung/productphoto/internal/objectstore"
)

// Options configures one composite run; zero values take the spec's
// defaults.
type Options struct {
	Fit             imagepipeline.Fit
	DropShadow      *bool // nil means default (enabled)
	ShadowBlur      float64
	ShadowOpacity   float64
	ShadowOffsetX   int
	ShadowOffsetY   int
	Sharpen         float64 // 0 disables
	Gamma           float64 // 0 or 1 disables
	OutputFormat    string
	Quality         int
}

func (o Options) withDefaults() Options {
	if o.Fit == "" {
		o.Fit = imagepipeline.FitCover
	}
	if o.DropShadow == nil {
		yes := true
		o.DropShadow = &yes
	}
	if o.ShadowBlur == 0 {
		o.ShadowBlur = 20
	}
	if o.ShadowOpacity == 0 {
		o.ShadowOpacity = 0.3
	}
	if o.ShadowOffsetX == 0 {
		o.ShadowOffsetX = 5
	}
	if o.ShadowOffsetY == 0 {
		o.ShadowOffsetY = 5
	}
	if o.OutputFormat == "" {
		o.OutputFormat = "jpg"
	}
	if o.Quality == 0 {
		o.Quality = 90
	}
	return o
}

var errCompositeFailed = fmt.Errorf("compositor: composite failed")

// ErrNoAlpha is returned when the cutout lacks an alpha channel.
var ErrNoAlpha = fmt.Errorf("%w: cutout has no alpha channel", errCompositeFailed)

// Descriptor describes one produced composite.
type Descriptor struct {
	Key      string
	URL      string
	Width    int
	Height   int
	Format   string
	Bytes    int
	Duration time.Duration
}

// Compositor produces composites from a cutout and a background, both
// addressed by object-store key.
type Compositor struct {
	store *objectstore.Store
}

// New constructs a Compositor backed by store.
func New(store *objectstore.Store) *Compositor {
	return &Compositor{store: store}
}

// Composite runs the 10-step algorithm of spec §4.5 for one background
// variant and uploads the result under its deterministic key.
func (c *Compositor) Composite(ctx context.Context, theme, sku, sha256 string, variant int, cutoutKey, backgroundKey string, opts Options) (Descriptor, error) {
	start := time.Now()
	opts = opts.withDefaults()

	cutoutBytes, err := c.store.GetObject(ctx, cutoutKey)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: fetch cutout: %v", errCompositeFailed, err)
	}
	backgroundBytes, err := c.store.GetObject(ctx, backgroundKey)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: fetch background: %v", errCompositeFailed, err)
	}

	cutout, err := imagepipeline.Decode(cutoutBytes)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode cutout: %v", errCompositeFailed, err)
	}
	background, err := imagepipeline.Decode(backgroundBytes)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode background: %v", errCompositeFailed, err)
	}

	if !imagepipeline.HasAlpha(cutout) {
		return Descriptor{}, ErrNoAlpha
	}

	normalizedCutout := imagepipeline.Normalize(cutout)
	normalizedBackground := imagepipeline.Normalize(background)

	cutoutBounds := normalizedCutout.Bounds()
	resizedBackground := imagepipeline.Resize(normalizedBackground, cutoutBounds.Dx(), cutoutBounds.Dy(), opts.Fit)

	canvas := image.Image(resizedBackground)

	if *opts.DropShadow {
		alpha := imagepipeline.AlphaChannel(normalizedCutout)
		blurred := imagepipeline.Blur(alpha, opts.ShadowBlur)
		shadow := imagepipeline.TintAlpha(blurred, color.RGBA{A: 255}, opts.ShadowOpacity)
		canvas = imagepipeline.Overlay(canvas, shadow, image.Pt(opts.ShadowOffsetX, opts.ShadowOffsetY))
	}

	canvas = imagepipeline.Overlay(canvas, normalizedCutout, image.Pt(0, 0))

	if opts.Sharpen > 0 {
		canvas = imagepipeline.Sharpen(canvas, opts.Sharpen)
	}
	if opts.Gamma > 0 && opts.Gamma != 1 {
		canvas = imagepipeline.AdjustGamma(canvas, opts.Gamma)
	}

	encoded, err := imagepipeline.Encode(canvas, imagepipeline.EncodeOptions{Format: opts.OutputFormat, Quality: opts.Quality})
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: encode: %v", errCompositeFailed, err)
	}

	key := objectstore.CompositeKey(theme, sku, sha256, "", fmt.Sprintf("%d", variant), "", opts.OutputFormat)
	if err := c.store.UploadBuffer(ctx, key, encoded, objectstore.ContentType(opts.OutputFormat)); err != nil {
		return Descriptor{}, fmt.Errorf("%w: upload: %v", errCompositeFailed, err)
	}

	bounds := canvas.Bounds()
	return Descriptor{
		Key:      key,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   opts.OutputFormat,
		Bytes:    len(encoded),
		Duration: time.Since(start),
	}, nil
}
