package jobs

import (
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// legalTransitions is the DAG of spec §4.1, excluding the universal
// `* -> FAILED` rule which isValidTransition handles separately.
var legalTransitions = map[Status]Status{
	StatusNew:             StatusBGRemoved,
	StatusBGRemoved:       StatusBackgroundReady,
	StatusBackgroundReady: StatusComposited,
	StatusComposited:      StatusDerivatives,
	StatusDerivatives:     StatusShopifyPush,
	StatusShopifyPush:     StatusDone,
}

// IsValidTransition reports whether a transition from `from` to `to` is
// legal. Any non-terminal status may transition to FAILED. FAILED may
// transition to NEW (retry); DONE is terminal with no outgoing edges.
func IsValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusFailed {
		return !from.Terminal()
	}
	if from == StatusFailed && to == StatusNew {
		return true
	}
	want, ok := legalTransitions[from]
	return ok && want == to
}

// MissingFields reports which REQUIRED[S] fields are absent from job for
// the purposes of entering targetStatus. An empty slice means validation
// passed.
func MissingFields(job *Job, target Status) []string {
	var missing []string
	switch target {
	case StatusBGRemoved:
		if job.Artifacts.Cutout == "" {
			missing = append(missing, "cutout_key")
		}
		if job.Artifacts.Mask == "" {
			missing = append(missing, "mask_key")
		}
	case StatusBackgroundReady:
		if len(job.Artifacts.Backgrounds) == 0 {
			missing = append(missing, "backgrounds")
		}
	case StatusComposited:
		if len(job.Artifacts.Composites) == 0 {
			missing = append(missing, "composites")
		} else if len(job.Artifacts.Composites) != len(job.Artifacts.Backgrounds) {
			missing = append(missing, "composites (length mismatch with backgrounds)")
		}
	case StatusDerivatives:
		if len(job.Artifacts.Derivatives) == 0 {
			missing = append(missing, "derivatives")
		}
	case StatusShopifyPush:
		if job.Artifacts.Manifest == "" {
			missing = append(missing, "manifest_key")
		}
	case StatusDone:
		// no additional requirements beyond SHOPIFY_PUSH
	case StatusFailed:
		if job.Error == nil || job.Error.Code == "" {
			missing = append(missing, "error.code")
		}
	}
	return missing
}

// ValidationError is returned by Transition when a transition is illegal
// or its required fields are not yet populated.
type ValidationError struct {
	From    Status
	To      Status
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid transition %s->%s: missing required fields %v", e.From, e.To, e.Missing)
	}
	return fmt.Sprintf("invalid transition %s->%s", e.From, e.To)
}

// Transition validates and applies a status change in place, merging any
// field updates supplied by the caller. It never partially applies: on
// failure job is left completely unchanged.
func Transition(job *Job, target Status, updates func(*Job)) error {
	if !IsValidTransition(job.Status, target) {
		return &ValidationError{From: job.Status, To: target}
	}

	// Apply updates to a copy so a failed field-validation leaves job
	// untouched, matching the "failed validation leaves the job unchanged"
	// contract.
	candidate := *job
	if updates != nil {
		updates(&candidate)
	}
	candidate.Status = target

	if missing := MissingFields(&candidate, target); len(missing) > 0 {
		return &ValidationError{From: job.Status, To: target, Missing: missing}
	}

	if target == StatusNew {
		candidate.CompletedAt = nil
		candidate.Error = nil
		candidate.Attempt++
	}
	if target == StatusDone {
		now := time.Now()
		candidate.CompletedAt = &now
	}

	*job = candidate
	return nil
}

// CanRetry reports whether a job may be administratively retried: it must
// be FAILED and below the retry ceiling.
func CanRetry(job *Job, maxRetries int) bool {
	return job.Status == StatusFailed && job.Attempt < maxRetries
}

// RetryDelay computes the exponential backoff delay for the given attempt:
// baseMs * 2^attempt, via go-retry's exponential backoff iterator rather
// than a hand-rolled power computation.
func RetryDelay(baseMs int64, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if baseMs <= 0 {
		return time.Duration(baseMs) * time.Millisecond
	}
	b := retry.NewExponential(time.Duration(baseMs) * time.Millisecond)
	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		d, stop := b.Next()
		if stop {
			break
		}
		delay = d
	}
	return delay
}
