// Package derivative implements the DerivativeEngine of spec §4.6: from
// each composite, produce a matrix of sizes x formats, tolerating
// per-unit failure as long as at least one derivative is produced per
// composite.
package derivative

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/adhtanjung/productphoto/internal/imagepipeline"
	"github.com/adhtanjung/productphoto/internal/objectstore"
)

// Size is one named output dimension spec.
type Size struct {
	Name   string
	Width  int
	Height int
	Fit    imagepipeline.Fit
}

// Format is one named output encoding.
type Format struct {
	Name    string
	Quality int
}

// DefaultSizes matches spec §4.6: hero (long edge <=2000, inside),
// pdp (1200x1200, cover), thumb (400x400, cover).
var DefaultSizes = []Size{
	{Name: "hero", Width: 2000, Height: 2000, Fit: imagepipeline.FitInside},
	{Name: "pdp", Width: 1200, Height: 1200, Fit: imagepipeline.FitCover},
	{Name: "thumb", Width: 400, Height: 400, Fit: imagepipeline.FitCover},
}

// DefaultFormats matches spec §4.6: jpg 90, webp 85, avif 80.
var DefaultFormats = []Format{
	{Name: "jpg", Quality: 90},
	{Name: "webp", Quality: 85},
	{Name: "avif", Quality: 80},
}

// Descriptor describes one produced derivative.
type Descriptor struct {
	Variant string
	Size    string
	Format  string
	Key     string
	Width   int
	Height  int
	Bytes   int
	Quality int
}

// UnitError records a failed (size, format) pair without failing the
// whole composite, surfaced into the job's provider_metadata.derivativeErrors.
type UnitError struct {
	Variant string
	Size    string
	Format  string
	Message string
}

// ErrNoDerivatives is returned when every size x format pair failed for a
// composite — the one failure mode that does fail the stage.
var ErrNoDerivatives = fmt.Errorf("derivative: no derivative produced for composite")

// Engine produces derivatives from composites stored in the object store.
type Engine struct {
	store   *objectstore.Store
	sizes   []Size
	formats []Format
}

// New constructs an Engine using the default size/format matrix.
func New(store *objectstore.Store) *Engine {
	return &Engine{store: store, sizes: DefaultSizes, formats: DefaultFormats}
}

// Generate attempts every size x format pair for one composite, returning
// every descriptor that succeeded plus a report of those that didn't. It
// returns ErrNoDerivatives only if the produced slice would be empty.
func (e *Engine) Generate(ctx context.Context, theme, sku, sha256, variant, compositeKey string) ([]Descriptor, []UnitError, error) {
	raw, err := e.store.GetObject(ctx, compositeKey)
	if err != nil {
		return nil, nil, fmt.Errorf("derivative: fetch composite %q: %w", compositeKey, err)
	}
	src, err := imagepipeline.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("derivative: decode composite %q: %w", compositeKey, err)
	}

	var (
		mu       sync.Mutex
		produced []Descriptor
		failed   []UnitError
	)

	// Each size's resize is shared by its formats; the formats within a
	// size encode and upload concurrently, bounded so a single composite
	// can't flood the object store with 9 simultaneous PUTs.
	for _, size := range e.sizes {
		resized := imagepipeline.Resize(src, size.Width, size.Height, size.Fit)
		bounds := resized.Bounds()

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(4)

		for _, format := range e.formats {
			format := format
			g.Go(func() error {
				encoded, err := imagepipeline.Encode(resized, imagepipeline.EncodeOptions{Format: format.Name, Quality: format.Quality})
				if err != nil {
					mu.Lock()
					failed = append(failed, UnitError{Variant: variant, Size: size.Name, Format: format.Name, Message: err.Error()})
					mu.Unlock()
					return nil
				}

				key := objectstore.DerivativeKey(theme, sku, sha256, variant, size.Name, format.Name)
				if err := e.store.UploadBuffer(gCtx, key, encoded, objectstore.ContentType(format.Name)); err != nil {
					mu.Lock()
					failed = append(failed, UnitError{Variant: variant, Size: size.Name, Format: format.Name, Message: err.Error()})
					mu.Unlock()
					return nil
				}

				mu.Lock()
				produced = append(produced, Descriptor{
					Variant: variant,
					Size:    size.Name,
					Format:  format.Name,
					Key:     key,
					Width:   bounds.Dx(),
					Height:  bounds.Dy(),
					Bytes:   len(encoded),
					Quality: format.Quality,
				})
				mu.Unlock()
				return nil
			})
		}
		// Per-unit failures are collected, never propagated: g.Wait's error
		// is always nil here since every Go func returns nil.
		_ = g.Wait()
	}

	if len(produced) == 0 {
		return nil, failed, ErrNoDerivatives
	}
	return produced, failed, nil
}
