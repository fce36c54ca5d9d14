// Package jobstore is the durable JobStore of spec §4.2: Postgres-backed
// persistence with a uniqueness constraint on (sku, sha256, theme) and
// atomic state transitions, built on the teacher's sqlx + otelsql wiring
// (internal/database.DB) and transaction style
// (internal/repositories/photo_repository.go's VoteWithToggle).
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/adhtanjung/productphoto/internal/database"
	"github.com/adhtanjung/productphoto/internal/jobs"
)

// ErrNotFound is returned by operations addressing a job id that does not
// exist.
var ErrNotFound = errors.New("jobstore: job not found")

// Store is the Postgres-backed JobStore.
type Store struct {
	db *database.DB
}

// New constructs a Store.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, sku, sha256, theme, source_url, status,
	cutout_key, mask_key, backgrounds_json, composites_json, derivatives_json, manifest_key,
	download_ms, segmentation_ms, backgrounds_ms, compositing_ms, derivatives_ms, manifest_ms,
	cost_usd, attempt,
	error_code, error_message, error_stack,
	provider_metadata,
	created_at, updated_at, completed_at`

// CreateJob is idempotent on (sku, sha256, theme): if a row already
// exists it is returned with created=false; webhook retries therefore
// observe created=false and the original job id.
func (s *Store) CreateJob(ctx context.Context, sku, imageURL, sha256, theme string) (*jobs.Job, bool, error) {
	if theme == "" {
		theme = "default"
	}

	if existing, err := s.getByIdempotencyKey(ctx, sku, sha256, theme); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := time.Now()
	j := &jobs.Job{
		ID:        jobs.NewID(),
		SKU:       sku,
		SHA256:    sha256,
		Theme:     theme,
		SourceURL: imageURL,
		Status:    jobs.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r := fromJob(j)

	query := `
		INSERT INTO jobs (
			id, sku, sha256, theme, source_url, status,
			backgrounds_json, composites_json, derivatives_json,
			cost_usd, attempt, provider_metadata, created_at, updated_at
		) VALUES (
			:id, :sku, :sha256, :theme, :source_url, :status,
			:backgrounds_json, :composites_json, :derivatives_json,
			:cost_usd, :attempt, :provider_metadata, :created_at, :updated_at
		)
		ON CONFLICT (sku, sha256, theme) DO NOTHING`

	result, err := s.db.NamedExecContext(ctx, query, r)
	if err != nil {
		return nil, false, fmt.Errorf("jobstore: create job: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		// Lost a race against a concurrent creator; fetch what they wrote.
		existing, err := s.getByIdempotencyKey(ctx, sku, sha256, theme)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("jobstore: create job: conflict but no row found")
		}
		return existing, false, nil
	}

	return j, true, nil
}

func (s *Store) getByIdempotencyKey(ctx context.Context, sku, sha256, theme string) (*jobs.Job, error) {
	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE sku = $1 AND sha256 = $2 AND theme = $3`
	err := s.db.GetContext(ctx, &r, query, sku, sha256, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: lookup by idempotency key: %w", err)
	}
	return r.toJob(), nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = $1`
	err := s.db.GetContext(ctx, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get job: %w", err)
	}
	return r.toJob(), nil
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Status Status
	SKU    string
	Theme  string
	Limit  int
	Offset int
}

// Status is a thin alias kept local so callers don't need to import jobs
// just to build a filter; it converts transparently.
type Status = jobs.Status

// ListJobs returns jobs matching the filter, most recently created first.
func (s *Store) ListJobs(ctx context.Context, f ListFilter) ([]*jobs.Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE 1=1`
	var args []any
	i := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, string(f.Status))
		i++
	}
	if f.SKU != "" {
		query += fmt.Sprintf(" AND sku = $%d", i)
		args = append(args, f.SKU)
		i++
	}
	if f.Theme != "" {
		query += fmt.Sprintf(" AND theme = $%d", i)
		args = append(args, f.Theme)
		i++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", i, i+1)
	args = append(args, limit, f.Offset)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("jobstore: list jobs: %w", err)
	}

	out := make([]*jobs.Job, len(rows))
	for idx, r := range rows {
		out[idx] = r.toJob()
	}
	return out, nil
}

// UpdateStatus wraps jobs.Transition atomically: it loads the row inside a
// transaction, applies the transition in memory, and persists the result
// only if the transition validated. A failed validation leaves the row
// untouched, matching the StateMachine contract.
func (s *Store) UpdateStatus(ctx context.Context, id string, target jobs.Status, updates func(*jobs.Job)) (*jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: lock job: %w", err)
	}

	j := r.toJob()
	if err := jobs.Transition(j, target, updates); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now()

	if err := persist(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobstore: commit: %w", err)
	}
	return j, nil
}

// UpdateArtifacts merges artifact keys into the job without changing its
// status, enforcing artifact monotonicity for the scalar keys (an
// already-set original, cutout, mask or manifest key is never
// overwritten, per spec §3). The array fields are replaced as the patch
// sets them.
func (s *Store) UpdateArtifacts(ctx context.Context, id string, patch func(*jobs.Artifacts)) (*jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: lock job: %w", err)
	}

	j := r.toJob()
	before := j.Artifacts
	patch(&j.Artifacts)
	enforceMonotonicity(&before, &j.Artifacts)
	j.UpdatedAt = time.Now()

	if err := persist(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobstore: commit: %w", err)
	}
	return j, nil
}

// UpdateTimings merges stage-duration measurements into the job without
// changing its status, mirroring UpdateArtifacts for fields produced by
// stages that do not themselves own a state transition (the download
// step runs while the job is still NEW).
func (s *Store) UpdateTimings(ctx context.Context, id string, patch func(*jobs.Timings)) (*jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobstore: lock job: %w", err)
	}

	j := r.toJob()
	patch(&j.Timings)
	j.UpdatedAt = time.Now()

	if err := persist(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobstore: commit: %w", err)
	}
	return j, nil
}

// UpdateProviderMetadata merges keys into the job's opaque debugging
// blob (e.g. derivativeErrors) without touching status or artifacts.
func (s *Store) UpdateProviderMetadata(ctx context.Context, id string, patch func(map[string]any) map[string]any) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("jobstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var r row
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("jobstore: lock job: %w", err)
	}

	j := r.toJob()
	j.ProviderMetadata = patch(j.ProviderMetadata)
	j.UpdatedAt = time.Now()

	if err := persist(ctx, tx, j); err != nil {
		return err
	}
	return tx.Commit()
}

// enforceMonotonicity restores any scalar key the patch attempted to clear
// or overwrite once it was already set.
func enforceMonotonicity(before, after *jobs.Artifacts) {
	if before.Original != "" {
		after.Original = before.Original
	}
	if before.Cutout != "" {
		after.Cutout = before.Cutout
	}
	if before.Mask != "" {
		after.Mask = before.Mask
	}
	if before.Manifest != "" && after.Manifest != before.Manifest {
		after.Manifest = before.Manifest
	}
}

// FailJob transitions any non-terminal job to FAILED with the given error
// details.
func (s *Store) FailJob(ctx context.Context, id string, code jobs.ErrorKind, message, stack string) (*jobs.Job, error) {
	return s.UpdateStatus(ctx, id, jobs.StatusFailed, func(j *jobs.Job) {
		j.Error = &jobs.JobError{Code: code, Message: message, Stack: stack}
	})
}

// IncrementAttempt bumps the attempt counter without a status change. The
// FAILED -> NEW retry transition already increments attempt on its own
// (jobs.Transition), and nothing in the processor calls this.
func (s *Store) IncrementAttempt(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET attempt = attempt + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("jobstore: increment attempt: %w", err)
	}
	return nil
}

// AddCost accumulates a monetary delta onto the job's running cost.
func (s *Store) AddCost(ctx context.Context, id string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET cost_usd = cost_usd + $1, updated_at = now() WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("jobstore: add cost: %w", err)
	}
	return nil
}

// Stats is the aggregate view returned by GET /jobs/stats.
type Stats struct {
	TotalJobs       int                `json:"total_jobs"`
	ByStatus        map[string]int     `json:"by_status"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	AvgCostUSD      float64            `json:"avg_cost_usd"`
	FailureRate     float64            `json:"failure_rate"`
	MeanCompletionMs float64           `json:"mean_completion_ms"`
}

// Stats computes aggregate counters across all jobs.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	type statusCount struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var counts []statusCount
	if err := s.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) as count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("jobstore: stats by status: %w", err)
	}

	stats := &Stats{ByStatus: make(map[string]int)}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.TotalJobs += c.Count
	}

	var agg struct {
		TotalCost sql.NullFloat64 `db:"total_cost"`
		AvgCost   sql.NullFloat64 `db:"avg_cost"`
	}
	if err := s.db.GetContext(ctx, &agg, `SELECT SUM(cost_usd) as total_cost, AVG(cost_usd) as avg_cost FROM jobs`); err != nil {
		return nil, fmt.Errorf("jobstore: stats cost aggregate: %w", err)
	}
	stats.TotalCostUSD = agg.TotalCost.Float64
	stats.AvgCostUSD = agg.AvgCost.Float64

	if stats.TotalJobs > 0 {
		stats.FailureRate = float64(stats.ByStatus[string(jobs.StatusFailed)]) / float64(stats.TotalJobs)
	}

	var meanMs sql.NullFloat64
	err := s.db.GetContext(ctx, &meanMs, `
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) * 1000)
		FROM jobs WHERE status = $1 AND completed_at IS NOT NULL`, string(jobs.StatusDone))
	if err != nil {
		return nil, fmt.Errorf("jobstore: stats mean completion: %w", err)
	}
	stats.MeanCompletionMs = meanMs.Float64

	return stats, nil
}

// PruneTerminal deletes terminal (DONE or FAILED) jobs older than the
// given age, returning the number of rows removed. Deletion policy is
// administrative, not automatic.
func (s *Store) PruneTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = ANY($1) AND updated_at < $2`,
		pq.Array([]string{string(jobs.StatusDone), string(jobs.StatusFailed)}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("jobstore: prune terminal: %w", err)
	}
	return result.RowsAffected()
}

// HasReachedImageLimit counts non-failed jobs for a sku and compares
// against maxPerSku. maxPerSku == 0 disables the check.
func (s *Store) HasReachedImageLimit(ctx context.Context, sku string, maxPerSku int) (bool, error) {
	if maxPerSku <= 0 {
		return false, nil
	}
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM jobs WHERE sku = $1 AND status != $2`, sku, string(jobs.StatusFailed))
	if err != nil {
		return false, fmt.Errorf("jobstore: count jobs for sku: %w", err)
	}
	return count >= maxPerSku, nil
}

func persist(ctx context.Context, tx *sqlx.Tx, j *jobs.Job) error {
	r := fromJob(j)
	query := `
		UPDATE jobs SET
			status = :status,
			cutout_key = :cutout_key,
			mask_key = :mask_key,
			backgrounds_json = :backgrounds_json,
			composites_json = :composites_json,
			derivatives_json = :derivatives_json,
			manifest_key = :manifest_key,
			download_ms = :download_ms,
			segmentation_ms = :segmentation_ms,
			backgrounds_ms = :backgrounds_ms,
			compositing_ms = :compositing_ms,
			derivatives_ms = :derivatives_ms,
			manifest_ms = :manifest_ms,
			cost_usd = :cost_usd,
			attempt = :attempt,
			error_code = :error_code,
			error_message = :error_message,
			error_stack = :error_stack,
			provider_metadata = :provider_metadata,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, r); err != nil {
		return fmt.Errorf("jobstore: persist job: %w", err)
	}
	return nil
}
