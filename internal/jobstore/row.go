package jobstore

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhtanjung/productphoto/internal/jobs"
)

// jsonStrings is a storage-boundary adapter for TEXT[]-shaped data kept as
// a jsonb column (teacher's CropConfig Value/Scan pattern in
// internal/imaging/service.go, generalized to a slice). The domain type
// ([]string on jobs.Job) never has to know this column is JSON-encoded.
type jsonStrings []string

func (s jsonStrings) Value() (driver.Value, error) {
	if s == nil {
		s = jsonStrings{}
	}
	return json.Marshal([]string(s))
}

func (s *jsonStrings) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("jsonStrings: expected []byte, got %T", value)
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("jsonStrings: unmarshal: %w", err)
	}
	*s = out
	return nil
}

// jsonMap adapts a map[string]any column (provider_metadata).
type jsonMap map[string]any

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		m = jsonMap{}
	}
	return json.Marshal(map[string]any(m))
}

func (m *jsonMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("jsonMap: expected []byte, got %T", value)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("jsonMap: unmarshal: %w", err)
	}
	*m = out
	return nil
}

// row is the sqlx-scannable shape of the jobs table. Translation to and
// from jobs.Job happens entirely in this file so the domain type never
// carries database tags or JSON-column awareness (DESIGN NOTES: "do not
// leak JSON strings into the domain").
type row struct {
	ID        string `db:"id"`
	SKU       string `db:"sku"`
	SHA256    string `db:"sha256"`
	Theme     string `db:"theme"`
	SourceURL string `db:"source_url"`
	Status    string `db:"status"`

	CutoutKey       sql.NullString `db:"cutout_key"`
	MaskKey         sql.NullString `db:"mask_key"`
	BackgroundsJSON jsonStrings    `db:"backgrounds_json"`
	CompositesJSON  jsonStrings    `db:"composites_json"`
	DerivativesJSON jsonStrings    `db:"derivatives_json"`
	ManifestKey     sql.NullString `db:"manifest_key"`

	DownloadMs     sql.NullInt64 `db:"download_ms"`
	SegmentationMs sql.NullInt64 `db:"segmentation_ms"`
	BackgroundsMs  sql.NullInt64 `db:"backgrounds_ms"`
	CompositingMs  sql.NullInt64 `db:"compositing_ms"`
	DerivativesMs  sql.NullInt64 `db:"derivatives_ms"`
	ManifestMs     sql.NullInt64 `db:"manifest_ms"`

	CostUSD float64 `db:"cost_usd"`
	Attempt int     `db:"attempt"`

	ErrorCode    sql.NullString `db:"error_code"`
	ErrorMessage sql.NullString `db:"error_message"`
	ErrorStack   sql.NullString `db:"error_stack"`

	ProviderMetadata jsonMap `db:"provider_metadata"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

func fromJob(j *jobs.Job) row {
	r := row{
		ID:               j.ID,
		SKU:              j.SKU,
		SHA256:           j.SHA256,
		Theme:            j.Theme,
		SourceURL:        j.SourceURL,
		Status:           string(j.Status),
		BackgroundsJSON:  jsonStrings(j.Artifacts.Backgrounds),
		CompositesJSON:   jsonStrings(j.Artifacts.Composites),
		DerivativesJSON:  jsonStrings(j.Artifacts.Derivatives),
		CostUSD:          j.CostUSD,
		Attempt:          j.Attempt,
		ProviderMetadata: jsonMap(j.ProviderMetadata),
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
	if j.Artifacts.Cutout != "" {
		r.CutoutKey = sql.NullString{String: j.Artifacts.Cutout, Valid: true}
	}
	if j.Artifacts.Mask != "" {
		r.MaskKey = sql.NullString{String: j.Artifacts.Mask, Valid: true}
	}
	if j.Artifacts.Manifest != "" {
		r.ManifestKey = sql.NullString{String: j.Artifacts.Manifest, Valid: true}
	}
	r.DownloadMs = msToNull(j.Timings.DownloadMs)
	r.SegmentationMs = msToNull(j.Timings.SegmentationMs)
	r.BackgroundsMs = msToNull(j.Timings.BackgroundsMs)
	r.CompositingMs = msToNull(j.Timings.CompositingMs)
	r.DerivativesMs = msToNull(j.Timings.DerivativesMs)
	r.ManifestMs = msToNull(j.Timings.ManifestMs)
	if j.Error != nil {
		r.ErrorCode = sql.NullString{String: string(j.Error.Code), Valid: true}
		r.ErrorMessage = sql.NullString{String: j.Error.Message, Valid: true}
		r.ErrorStack = sql.NullString{String: j.Error.Stack, Valid: true}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func (r row) toJob() *jobs.Job {
	j := &jobs.Job{
		ID:        r.ID,
		SKU:       r.SKU,
		SHA256:    r.SHA256,
		Theme:     r.Theme,
		SourceURL: r.SourceURL,
		Status:    jobs.Status(r.Status),
		Artifacts: jobs.Artifacts{
			Cutout:      r.CutoutKey.String,
			Mask:        r.MaskKey.String,
			Backgrounds: []string(r.BackgroundsJSON),
			Composites:  []string(r.CompositesJSON),
			Derivatives: []string(r.DerivativesJSON),
			Manifest:    r.ManifestKey.String,
		},
		Timings: jobs.Timings{
			DownloadMs:     nullToMs(r.DownloadMs),
			SegmentationMs: nullToMs(r.SegmentationMs),
			BackgroundsMs:  nullToMs(r.BackgroundsMs),
			CompositingMs:  nullToMs(r.CompositingMs),
			DerivativesMs:  nullToMs(r.DerivativesMs),
			ManifestMs:     nullToMs(r.ManifestMs),
		},
		CostUSD:          r.CostUSD,
		Attempt:          r.Attempt,
		ProviderMetadata: map[string]any(r.ProviderMetadata),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ErrorCode.Valid {
		j.Error = &jobs.JobError{
			Code:    jobs.ErrorKind(r.ErrorCode.String),
			Message: r.ErrorMessage.String,
			Stack:   r.ErrorStack.String,
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		j.CompletedAt = &t
	}
	return j
}

func msToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullToMs(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	val := v.Int64
	return &val
}
