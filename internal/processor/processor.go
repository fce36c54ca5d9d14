// Package processor implements the Processor (scheduler core) of spec
// §4.4: a long-running poll loop that drives NEW jobs through the
// pipeline to DONE or FAILED with a bounded in-flight worker set. The
// scheduler is modeled as an owned value with explicit Start/Stop/Status
// lifecycle methods rather than the teacher's module-level singleton
// style, per the processor redesign note.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/go-faster/errors"

	"github.com/adhtanjung/productphoto/internal/background"
	"github.com/adhtanjung/productphoto/internal/compositor"
	"github.com/adhtanjung/productphoto/internal/derivative"
	"github.com/adhtanjung/productphoto/internal/jobs"
	"github.com/adhtanjung/productphoto/internal/jobstore"
	"github.com/adhtanjung/productphoto/internal/manifest"
	"github.com/adhtanjung/productphoto/internal/objectstore"
	"github.com/adhtanjung/productphoto/internal/segmentation"
)

// Config configures the scheduler loop.
type Config struct {
	PollInterval      time.Duration
	Concurrency       int
	Theme             string        // default theme used for BackgroundSynthesizer if a job has none
	BackgroundCostUSD float64       // flat cost charged per synthesized background variant
	DownloadTimeout   time.Duration // timeout for the stageDownload HTTP fetch
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = 30 * time.Second
	}
	return c
}

// Status is the lifecycle snapshot returned by Status().
type Status struct {
	Running  bool   `json:"running"`
	InFlight int    `json:"in_flight"`
}

// Processor is the owned scheduler value. It holds no module-level
// state: callers construct one, Start it, and Stop it on shutdown.
type Processor struct {
	cfg     Config
	store   *jobstore.Store
	objects *objectstore.Store

	segClient segmentation.Client
	synth     background.Synthesizer
	comp      *compositor.Compositor
	derivEng  *derivative.Engine
	manifestB *manifest.Builder

	downloadClient *http.Client

	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inFlight map[string]struct{}
	inFlightMu sync.Mutex
}

// New wires a Processor from its collaborators.
func New(
	cfg Config,
	store *jobstore.Store,
	objects *objectstore.Store,
	segClient segmentation.Client,
	synth background.Synthesizer,
	comp *compositor.Compositor,
	derivEng *derivative.Engine,
	manifestB *manifest.Builder,
	logger *slog.Logger,
) *Processor {
	resolved := cfg.withDefaults()
	return &Processor{
		cfg:            resolved,
		store:          store,
		objects:        objects,
		segClient:      segClient,
		synth:          synth,
		comp:           comp,
		derivEng:       derivEng,
		manifestB:      manifestB,
		downloadClient: &http.Client{Timeout: resolved.DownloadTimeout},
		logger:         logger,
		inFlight:       make(map[string]struct{}),
	}
}

// Start begins the poll loop. Calling Start on an already-running
// Processor is a no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(loopCtx)
}

// Stop cancels the context shared by the poll loop and its in-flight
// workers, then waits for all of them to return. A worker's in-progress
// stage is cut short by the cancellation rather than run to completion.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Status reports whether the loop is running and how many jobs are
// currently in flight.
func (p *Processor) Status() Status {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	p.inFlightMu.Lock()
	n := len(p.inFlight)
	p.inFlightMu.Unlock()

	return Status{Running: running, InFlight: n}
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	p.inFlightMu.Lock()
	slots := p.cfg.Concurrency - len(p.inFlight)
	p.inFlightMu.Unlock()
	if slots <= 0 {
		return
	}

	candidates, err := p.store.ListJobs(ctx, jobstore.ListFilter{Status: jobs.StatusNew, Limit: slots})
	if err != nil {
		p.logger.Error("processor: list NEW jobs failed", "error", err)
		return
	}

	for _, job := range candidates {
		p.inFlightMu.Lock()
		if _, already := p.inFlight[job.ID]; already {
			p.inFlightMu.Unlock()
			continue
		}
		p.inFlight[job.ID] = struct{}{}
		p.inFlightMu.Unlock()

		p.wg.Add(1)
		go func(j *jobs.Job) {
			defer p.wg.Done()
			defer p.release(j.ID)
			p.runJob(ctx, j)
		}(job)
	}
}

func (p *Processor) release(jobID string) {
	p.inFlightMu.Lock()
	delete(p.inFlight, jobID)
	p.inFlightMu.Unlock()
}

// runJob executes the download stage and the six pipeline stages
// sequentially, converting any error into a single failJob call at the
// worker boundary (teacher redesign note: "exceptions anywhere" becomes
// one catch-and-convert point).
func (p *Processor) runJob(ctx context.Context, job *jobs.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, job.ID, jobs.ErrUnknown, fmt.Sprintf("panic: %v", r), "")
		}
	}()

	theme := job.Theme
	if theme == "" {
		theme = p.cfg.Theme
	}

	if err := p.stageDownload(ctx, job); err != nil {
		p.fail(ctx, job.ID, jobs.ErrDownloadFailed, err.Error(), "")
		return
	}
	if err := p.stageSegmentation(ctx, job); err != nil {
		p.fail(ctx, job.ID, jobs.ErrSegmentFailed, err.Error(), "")
		return
	}
	if err := p.stageBackgrounds(ctx, job, theme); err != nil {
		p.fail(ctx, job.ID, jobs.ErrBackgroundFailed, err.Error(), "")
		return
	}
	if err := p.stageComposite(ctx, job, theme); err != nil {
		p.fail(ctx, job.ID, jobs.ErrCompositeFailed, err.Error(), "")
		return
	}
	derivatives, err := p.stageDerivatives(ctx, job, theme)
	if err != nil {
		p.fail(ctx, job.ID, jobs.ErrDerivativeFailed, err.Error(), "")
		return
	}
	if err := p.stageManifest(ctx, job, theme, derivatives); err != nil {
		p.fail(ctx, job.ID, jobs.ErrManifestFailed, err.Error(), "")
		return
	}
	p.stageFinish(ctx, job)
}

// fail persists a terminal failure. When the caller has no stack trace of
// its own (the common case: a stage returned a plain error), one is
// synthesized here via go-faster/errors so failed jobs still carry frame
// information instead of a bare message.
func (p *Processor) fail(ctx context.Context, jobID string, code jobs.ErrorKind, message, stack string) {
	if stack == "" {
		stack = fmt.Sprintf("%+v", goerrors.Wrap(goerrors.New(message), string(code)))
	}
	if _, err := p.store.FailJob(ctx, jobID, code, message, stack); err != nil {
		p.logger.Error("processor: failJob itself failed", "job_id", jobID, "error", err)
	}
	p.logger.Error("processor: job failed", "job_id", jobID, "code", code, "message", message)
}
