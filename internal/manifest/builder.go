// Package manifest implements the ManifestBuilder of spec §4.7: the
// single JSON document enumerating every artifact, timing, and cost for
// a completed job.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhtanjung/productphoto/internal/derivative"
	"github.com/adhtanjung/productphoto/internal/jobs"
	"github.com/adhtanjung/productphoto/internal/objectstore"
)

// Version is the manifest schema tag.
const Version = "2.0"

// URLRef is a {key, url} pair, the shape repeated throughout the
// manifest for every artifact.
type URLRef struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// Document is the manifest shape described in spec §4.7.
type Document struct {
	Version string    `json:"version"`
	JobID   string    `json:"jobId"`
	SKU     string    `json:"sku"`
	Theme   string    `json:"theme"`
	SHA256  string    `json:"sha256"`
	Status  string    `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Original struct {
		URLRef
		SourceURL string `json:"sourceUrl"`
	} `json:"original"`

	BackgroundRemoval struct {
		Cutout URLRef `json:"cutout"`
		Mask   URLRef `json:"mask"`
	} `json:"backgroundRemoval"`

	Backgrounds []BackgroundEntry   `json:"backgrounds"`
	Composites  []CompositeEntry    `json:"composites"`
	Derivatives []DerivativeEntry   `json:"derivatives"`

	Timing struct {
		DownloadMs     *int64 `json:"download"`
		SegmentationMs *int64 `json:"segmentation"`
		BackgroundsMs  *int64 `json:"backgrounds"`
		CompositingMs  *int64 `json:"compositing"`
		DerivativesMs  *int64 `json:"derivatives"`
		ManifestMs     *int64 `json:"manifest"`
		TotalMs        int64  `json:"total"`
	} `json:"timing"`

	Costs struct {
		Segmentation        float64 `json:"segmentation"`
		BackgroundGeneration float64 `json:"backgroundGeneration"`
		Total                float64 `json:"total"`
	} `json:"costs"`

	ProviderMetadata map[string]any  `json:"providerMetadata,omitempty"`
	Error            *jobs.JobError  `json:"error,omitempty"`
}

// BackgroundEntry describes one synthesized background.
type BackgroundEntry struct {
	Variant int    `json:"variant"`
	URLRef
}

// CompositeEntry describes one composite.
type CompositeEntry struct {
	Variant int    `json:"variant"`
	URLRef
}

// DerivativeEntry describes one derivative.
type DerivativeEntry struct {
	Size    string `json:"size"`
	Format  string `json:"format"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bytes   int    `json:"bytes"`
	Quality int    `json:"quality"`
	URLRef
}

// Builder assembles and uploads manifest documents.
type Builder struct {
	store      *objectstore.Store
	presignTTL time.Duration
}

// New constructs a Builder. presignTTL is applied to every artifact URL
// in the manifest (spec recommends 24h).
func New(store *objectstore.Store, presignTTL time.Duration) *Builder {
	if presignTTL == 0 {
		presignTTL = 24 * time.Hour
	}
	return &Builder{store: store, presignTTL: presignTTL}
}

// DerivativeSource is the produced-derivative shape the builder reads. It
// is an alias of derivative.Descriptor, so the manifest package depends
// directly on that type.
type DerivativeSource = derivative.Descriptor

// Build assembles the manifest document for job, presigning every
// artifact key, and returns the document (unmarshaled) for the caller to
// upload and re-stamp timing into before the final re-upload.
func (b *Builder) Build(ctx context.Context, job *jobs.Job, backgroundKeys, compositeKeys []string, derivatives []DerivativeSource) (*Document, error) {
	doc := &Document{
		Version:     Version,
		JobID:       job.ID,
		SKU:         job.SKU,
		Theme:       job.Theme,
		SHA256:      job.SHA256,
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
		ProviderMetadata: job.ProviderMetadata,
		Error:       job.Error,
	}

	doc.Original.SourceURL = job.SourceURL
	if job.Artifacts.Original != "" {
		doc.Original.Key = job.Artifacts.Original
		if url, err := b.presign(ctx, job.Artifacts.Original); err == nil {
			doc.Original.URL = url
		}
	}

	if job.Artifacts.Cutout != "" {
		doc.BackgroundRemoval.Cutout.Key = job.Artifacts.Cutout
		if url, err := b.presign(ctx, job.Artifacts.Cutout); err == nil {
			doc.BackgroundRemoval.Cutout.URL = url
		}
	}
	if job.Artifacts.Mask != "" {
		doc.BackgroundRemoval.Mask.Key = job.Artifacts.Mask
		if url, err := b.presign(ctx, job.Artifacts.Mask); err == nil {
			doc.BackgroundRemoval.Mask.URL = url
		}
	}

	for i, key := range backgroundKeys {
		entry := BackgroundEntry{Variant: i, URLRef: URLRef{Key: key}}
		if url, err := b.presign(ctx, key); err == nil {
			entry.URL = url
		}
		doc.Backgrounds = append(doc.Backgrounds, entry)
	}

	for i, key := range compositeKeys {
		entry := CompositeEntry{Variant: i, URLRef: URLRef{Key: key}}
		if url, err := b.presign(ctx, key); err == nil {
			entry.URL = url
		}
		doc.Composites = append(doc.Composites, entry)
	}

	for _, d := range derivatives {
		entry := DerivativeEntry{
			Size: d.Size, Format: d.Format, Width: d.Width, Height: d.Height,
			Bytes: d.Bytes, Quality: d.Quality, URLRef: URLRef{Key: d.Key},
		}
		if url, err := b.presign(ctx, d.Key); err == nil {
			entry.URL = url
		}
		doc.Derivatives = append(doc.Derivatives, entry)
	}

	doc.Costs.Total = job.CostUSD
	if breakdown, ok := job.ProviderMetadata["cost_breakdown"].(map[string]any); ok {
		doc.Costs.Segmentation, _ = breakdown["segmentation"].(float64)
		doc.Costs.BackgroundGeneration, _ = breakdown["backgroundGeneration"].(float64)
	}

	doc.Timing.DownloadMs = job.Timings.DownloadMs
	doc.Timing.SegmentationMs = job.Timings.SegmentationMs
	doc.Timing.BackgroundsMs = job.Timings.BackgroundsMs
	doc.Timing.CompositingMs = job.Timings.CompositingMs
	doc.Timing.DerivativesMs = job.Timings.DerivativesMs
	doc.Timing.ManifestMs = job.Timings.ManifestMs
	doc.Timing.TotalMs = sumMs(job.Timings)

	return doc, nil
}

// Upload marshals doc and uploads it under the job's manifest key.
func (b *Builder) Upload(ctx context.Context, sku, sha256, theme string, doc *Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal: %w", err)
	}
	key := objectstore.ManifestKey(sku, sha256, theme)
	if err := b.store.UploadBuffer(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("manifest: upload: %w", err)
	}
	return key, nil
}

func (b *Builder) presign(ctx context.Context, key string) (string, error) {
	return b.store.GetPresignedGetURL(ctx, key, b.presignTTL)
}

func sumMs(t jobs.Timings) int64 {
	var total int64
	for _, v := range []*int64{t.DownloadMs, t.SegmentationMs, t.BackgroundsMs, t.CompositingMs, t.DerivativesMs, t.ManifestMs} {
		if v != nil {
			total += *v
		}
	}
	return total
}
