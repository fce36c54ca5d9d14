package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adhtanjung/productphoto/internal/compositor"
	"github.com/adhtanjung/productphoto/internal/derivative"
	"github.com/adhtanjung/productphoto/internal/imagepipeline"
	"github.com/adhtanjung/productphoto/internal/jobs"
	"github.com/adhtanjung/productphoto/internal/objectstore"
)

// costBreakdownKey is the ProviderMetadata entry carrying the per-category
// cost split the manifest needs, since jobstore only accumulates a single
// running total on the row (cost_usd).
const costBreakdownKey = "cost_breakdown"

// addCostBreakdown accumulates delta onto both the job's running total
// (cost_usd) and its category split, so stageManifest can later report
// segmentation/backgroundGeneration/total separately.
func (p *Processor) addCostBreakdown(ctx context.Context, jobID, category string, delta float64) error {
	if delta == 0 {
		return nil
	}
	if err := p.store.AddCost(ctx, jobID, delta); err != nil {
		return err
	}
	return p.store.UpdateProviderMetadata(ctx, jobID, func(meta map[string]any) map[string]any {
		if meta == nil {
			meta = make(map[string]any)
		}
		breakdown, _ := meta[costBreakdownKey].(map[string]any)
		if breakdown == nil {
			breakdown = make(map[string]any)
		}
		existing, _ := breakdown[category].(float64)
		breakdown[category] = existing + delta
		meta[costBreakdownKey] = breakdown
		return meta
	})
}

// stageDownload is spec §4.4 stage 0: fetch the source image and store it
// permanently under its deterministic original key. Runs ahead of
// segmentation and while the job is still NEW, so it persists through
// UpdateArtifacts/UpdateTimings rather than a state transition.
func (p *Processor) stageDownload(ctx context.Context, job *jobs.Job) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("download: build request: %w", err)
	}
	resp, err := p.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download: fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("download: read body: %w", err)
	}

	key := objectstore.OriginalKey(job.SKU, job.SHA256)
	if err := p.objects.UploadBuffer(ctx, key, data, "image/jpeg"); err != nil {
		return fmt.Errorf("download: upload original: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Original = key
	}); err != nil {
		return fmt.Errorf("download: persist artifact: %w", err)
	}

	updated, err := p.store.UpdateTimings(ctx, job.ID, func(t *jobs.Timings) {
		t.DownloadMs = msPtr(elapsed)
	})
	if err != nil {
		return fmt.Errorf("download: persist timing: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "download", "elapsed_ms", elapsed)
	return nil
}

// stageSegmentation is spec §4.4 stage 1.
func (p *Processor) stageSegmentation(ctx context.Context, job *jobs.Job) error {
	start := time.Now()
	result, err := p.segClient.RemoveBackground(ctx, job.SourceURL, job.SKU, job.SHA256)
	if err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}

	cutoutKey := objectstore.CutoutKey(job.SKU, job.SHA256)
	maskKey := objectstore.MaskKey(job.SKU, job.SHA256)
	if err := p.objects.UploadBuffer(ctx, cutoutKey, result.Cutout, "image/png"); err != nil {
		return fmt.Errorf("segmentation: upload cutout: %w", err)
	}
	if err := p.objects.UploadBuffer(ctx, maskKey, result.Mask, "image/png"); err != nil {
		return fmt.Errorf("segmentation: upload mask: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Cutout = cutoutKey
		a.Mask = maskKey
	}); err != nil {
		return fmt.Errorf("segmentation: persist artifacts: %w", err)
	}
	if err := p.addCostBreakdown(ctx, job.ID, "segmentation", result.CostUSD); err != nil {
		return fmt.Errorf("segmentation: add cost: %w", err)
	}

	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusBGRemoved, func(j *jobs.Job) {
		j.Timings.SegmentationMs = msPtr(elapsed)
	})
	if err != nil {
		return fmt.Errorf("segmentation: transition: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "segmentation", "elapsed_ms", elapsed)
	return nil
}

// stageBackgrounds is spec §4.4 stage 2.
func (p *Processor) stageBackgrounds(ctx context.Context, job *jobs.Job, theme string) error {
	start := time.Now()

	cutoutBytes, err := p.objects.GetObject(ctx, job.Artifacts.Cutout)
	if err != nil {
		return fmt.Errorf("backgrounds: fetch cutout: %w", err)
	}
	decoded, err := imagepipeline.Decode(cutoutBytes)
	if err != nil {
		return fmt.Errorf("backgrounds: measure cutout: %w", err)
	}
	bounds := decoded.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	variants, err := p.synth.Generate(theme, w, h, 2)
	if err != nil {
		return fmt.Errorf("backgrounds: generate: %w", err)
	}
	if len(variants) == 0 {
		return fmt.Errorf("backgrounds: synthesizer produced zero variants")
	}

	keys := make([]string, len(variants))
	for i, v := range variants {
		key := objectstore.BackgroundKey(theme, job.SKU, job.SHA256, fmt.Sprintf("%d", v.Index))
		if err := p.objects.UploadBuffer(ctx, key, v.Data, "image/jpeg"); err != nil {
			return fmt.Errorf("backgrounds: upload variant %d: %w", v.Index, err)
		}
		keys[i] = key
	}

	if err := p.addCostBreakdown(ctx, job.ID, "backgroundGeneration", p.cfg.BackgroundCostUSD*float64(len(keys))); err != nil {
		return fmt.Errorf("backgrounds: add cost: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Backgrounds = keys
	}); err != nil {
		return fmt.Errorf("backgrounds: persist artifacts: %w", err)
	}

	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusBackgroundReady, func(j *jobs.Job) {
		j.Timings.BackgroundsMs = msPtr(elapsed)
	})
	if err != nil {
		return fmt.Errorf("backgrounds: transition: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "backgrounds", "elapsed_ms", elapsed, "count", len(keys))
	return nil
}

// stageComposite is spec §4.4 stage 3.
func (p *Processor) stageComposite(ctx context.Context, job *jobs.Job, theme string) error {
	start := time.Now()

	composites := make([]string, len(job.Artifacts.Backgrounds))
	for i, bgKey := range job.Artifacts.Backgrounds {
		desc, err := p.comp.Composite(ctx, theme, job.SKU, job.SHA256, i, job.Artifacts.Cutout, bgKey, compositor.Options{})
		if err != nil {
			return fmt.Errorf("composite: variant %d: %w", i, err)
		}
		composites[i] = desc.Key
	}

	elapsed := time.Since(start).Milliseconds()
	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Composites = composites
	}); err != nil {
		return fmt.Errorf("composite: persist artifacts: %w", err)
	}

	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusComposited, func(j *jobs.Job) {
		j.Timings.CompositingMs = msPtr(elapsed)
	})
	if err != nil {
		return fmt.Errorf("composite: transition: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "compositing", "elapsed_ms", elapsed, "count", len(composites))
	return nil
}

// stageDerivatives is spec §4.4 stage 4. Per-unit failures are tolerated
// (spec "partial success tolerance"); only a zero-derivative composite
// fails the stage.
func (p *Processor) stageDerivatives(ctx context.Context, job *jobs.Job, theme string) ([]derivative.Descriptor, error) {
	start := time.Now()

	var allDerivatives []derivative.Descriptor
	var allErrors []derivative.UnitError

	for i, compositeKey := range job.Artifacts.Composites {
		variant := fmt.Sprintf("%d", i)
		produced, failed, err := p.derivEng.Generate(ctx, theme, job.SKU, job.SHA256, variant, compositeKey)
		if err != nil {
			return nil, fmt.Errorf("derivatives: composite %s: %w", variant, err)
		}
		allDerivatives = append(allDerivatives, produced...)
		allErrors = append(allErrors, failed...)
	}

	keys := make([]string, len(allDerivatives))
	for i, d := range allDerivatives {
		keys[i] = d.Key
	}

	elapsed := time.Since(start).Milliseconds()
	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Derivatives = keys
	}); err != nil {
		return nil, fmt.Errorf("derivatives: persist artifacts: %w", err)
	}

	if len(allErrors) > 0 {
		if err := p.recordDerivativeErrors(ctx, job.ID, allErrors); err != nil {
			p.logger.Warn("derivatives: failed to record partial errors", "job_id", job.ID, "error", err)
		}
	}

	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusDerivatives, func(j *jobs.Job) {
		j.Timings.DerivativesMs = msPtr(elapsed)
	})
	if err != nil {
		return nil, fmt.Errorf("derivatives: transition: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "derivatives", "elapsed_ms", elapsed, "count", len(keys), "failed", len(allErrors))
	return allDerivatives, nil
}

// stageManifest is spec §4.4 stage 5: build, upload once to capture the
// manifest key, then re-upload with manifest_ms embedded.
func (p *Processor) stageManifest(ctx context.Context, job *jobs.Job, theme string, derivatives []derivative.Descriptor) error {
	start := time.Now()

	doc, err := p.manifestB.Build(ctx, job, job.Artifacts.Backgrounds, job.Artifacts.Composites, derivatives)
	if err != nil {
		return fmt.Errorf("manifest: build: %w", err)
	}

	key, err := p.manifestB.Upload(ctx, job.SKU, job.SHA256, theme, doc)
	if err != nil {
		return fmt.Errorf("manifest: upload: %w", err)
	}

	elapsed := time.Since(start).Milliseconds()
	doc.Timing.ManifestMs = msPtr(elapsed)
	doc.Timing.TotalMs += elapsed
	if _, err := p.manifestB.Upload(ctx, job.SKU, job.SHA256, theme, doc); err != nil {
		return fmt.Errorf("manifest: re-upload with final timing: %w", err)
	}

	if _, err := p.store.UpdateArtifacts(ctx, job.ID, func(a *jobs.Artifacts) {
		a.Manifest = key
	}); err != nil {
		return fmt.Errorf("manifest: persist artifact: %w", err)
	}

	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusShopifyPush, func(j *jobs.Job) {
		j.Timings.ManifestMs = msPtr(elapsed)
	})
	if err != nil {
		return fmt.Errorf("manifest: transition: %w", err)
	}
	*job = *updated

	p.logger.Info("stage complete", "job_id", job.ID, "stage", "manifest", "elapsed_ms", elapsed)
	return nil
}

// stageFinish is spec §4.4 stage 6: the core treats the downstream push
// as out of scope and transitions straight through to DONE.
func (p *Processor) stageFinish(ctx context.Context, job *jobs.Job) {
	updated, err := p.store.UpdateStatus(ctx, job.ID, jobs.StatusDone, func(j *jobs.Job) {})
	if err != nil {
		p.fail(ctx, job.ID, jobs.ErrUnknown, fmt.Sprintf("finish transition failed: %v", err), "")
		return
	}
	*job = *updated
	p.logger.Info("job done", "job_id", job.ID, "sku", job.SKU, "cost_usd", job.CostUSD)
}

func (p *Processor) recordDerivativeErrors(ctx context.Context, jobID string, errs []derivative.UnitError) error {
	var reports []map[string]string
	for _, e := range errs {
		reports = append(reports, map[string]string{
			"variant": e.Variant, "size": e.Size, "format": e.Format, "message": e.Message,
		})
	}
	return p.store.UpdateProviderMetadata(ctx, jobID, func(meta map[string]any) map[string]any {
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["derivativeErrors"] = reports
		return meta
	})
}

func msPtr(v int64) *int64 { return &v }
