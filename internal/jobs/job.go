// Package jobs defines the Job entity and its state machine. The package is
// pure: it has no database or network dependency, so the transition rules can
// be unit tested without a running Postgres instance.
package jobs

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"
)

// Status is one of the enumerated job states.
type Status string

const (
	StatusNew              Status = "NEW"
	StatusBGRemoved        Status = "BG_REMOVED"
	StatusBackgroundReady  Status = "BACKGROUND_READY"
	StatusComposited       Status = "COMPOSITED"
	StatusDerivatives      Status = "DERIVATIVES"
	StatusShopifyPush      Status = "SHOPIFY_PUSH"
	StatusDone             Status = "DONE"
	StatusFailed           Status = "FAILED"
)

// Terminal reports whether a status admits no further transitions other
// than retry (FAILED) or none at all (DONE).
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ErrorKind is a stable taxonomy code for job failures.
type ErrorKind string

const (
	ErrValidation      ErrorKind = "VALIDATION"
	ErrDownloadFailed  ErrorKind = "DOWNLOAD_FAILED"
	ErrSegmentFailed   ErrorKind = "SEGMENT_FAILED"
	ErrBackgroundFailed ErrorKind = "BACKGROUND_FAILED"
	ErrCompositeFailed ErrorKind = "COMPOSITE_FAILED"
	ErrDerivativeFailed ErrorKind = "DERIVATIVE_FAILED"
	ErrManifestFailed  ErrorKind = "MANIFEST_FAILED"
	ErrStorageFailed   ErrorKind = "STORAGE_FAILED"
	ErrNetwork         ErrorKind = "NETWORK"
	ErrUnknown         ErrorKind = "UNKNOWN"
)

// JobError captures a terminal failure.
type JobError struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

// Artifacts holds every object-store key the pipeline may produce for a job.
// Arrays grow monotonically; individual scalar keys are set at most once per
// non-retried lifecycle.
type Artifacts struct {
	Original    string   `json:"original,omitempty"`
	Cutout      string   `json:"cutout,omitempty"`
	Mask        string   `json:"mask,omitempty"`
	Backgrounds []string `json:"backgrounds,omitempty"`
	Composites  []string `json:"composites,omitempty"`
	Derivatives []string `json:"derivatives,omitempty"`
	Manifest    string   `json:"manifest,omitempty"`
}

// Timings holds elapsed-millisecond measurements per stage. A nil pointer
// means the stage has not run yet (as distinct from a legitimate 0ms run).
type Timings struct {
	DownloadMs     *int64 `json:"download_ms,omitempty"`
	SegmentationMs *int64 `json:"segmentation_ms,omitempty"`
	BackgroundsMs  *int64 `json:"backgrounds_ms,omitempty"`
	CompositingMs  *int64 `json:"compositing_ms,omitempty"`
	DerivativesMs  *int64 `json:"derivatives_ms,omitempty"`
	ManifestMs     *int64 `json:"manifest_ms,omitempty"`
}

// Job is the central entity of the pipeline. It carries no database tags;
// translation to and from storage happens entirely in the jobstore package.
type Job struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	SHA256      string    `json:"sha256"`
	Theme       string    `json:"theme"`
	SourceURL   string    `json:"source_url"`
	Status      Status    `json:"status"`
	Artifacts   Artifacts `json:"artifacts"`
	Timings     Timings   `json:"timings"`
	CostUSD     float64   `json:"cost_usd"`
	Attempt     int       `json:"attempt"`
	Error       *JobError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ProviderMetadata is an opaque debugging blob, including
	// derivativeErrors per §7 partial-failure reporting.
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// NewID returns a short opaque unique identifier: 16 base32 characters
// derived from 10 random bytes, lowercase, unpadded. Short enough to be
// comfortable in URLs, long enough that collisions are not a practical
// concern for this service's scale.
func NewID() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		panic("jobs: failed to read random bytes: " + err.Error())
	}
	id := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return strings.ToLower(id)
}
