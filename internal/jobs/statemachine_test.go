package jobs

import "testing"

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusBGRemoved, true},
		{StatusBGRemoved, StatusBackgroundReady, true},
		{StatusBackgroundReady, StatusComposited, true},
		{StatusComposited, StatusDerivatives, true},
		{StatusDerivatives, StatusShopifyPush, true},
		{StatusShopifyPush, StatusDone, true},
		{StatusNew, StatusComposited, false},
		{StatusDone, StatusFailed, false},
		{StatusNew, StatusFailed, true},
		{StatusComposited, StatusFailed, true},
		{StatusFailed, StatusNew, true},
		{StatusFailed, StatusBGRemoved, false},
		{StatusNew, StatusNew, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTransitionRequiredFields(t *testing.T) {
	job := &Job{Status: StatusNew}

	if err := Transition(job, StatusBGRemoved, nil); err == nil {
		t.Fatal("expected validation error for missing cutout/mask keys")
	}
	if job.Status != StatusNew {
		t.Fatalf("job mutated after failed transition: %s", job.Status)
	}

	err := Transition(job, StatusBGRemoved, func(j *Job) {
		j.Artifacts.Cutout = "cutouts/sku/abc.png"
		j.Artifacts.Mask = "masks/sku/abc.png"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusBGRemoved {
		t.Fatalf("status = %s, want BG_REMOVED", job.Status)
	}
}

func TestTransitionCompositesLengthMustMatchBackgrounds(t *testing.T) {
	job := &Job{Status: StatusBackgroundReady}
	job.Artifacts.Backgrounds = []string{"bg1", "bg2"}

	err := Transition(job, StatusComposited, func(j *Job) {
		j.Artifacts.Composites = []string{"c1"}
	})
	if err == nil {
		t.Fatal("expected length-mismatch validation error")
	}

	err = Transition(job, StatusComposited, func(j *Job) {
		j.Artifacts.Composites = []string{"c1", "c2"}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetryResetsStateAndIncrementsAttempt(t *testing.T) {
	job := &Job{Status: StatusFailed, Attempt: 1, Error: &JobError{Code: ErrSegmentFailed, Message: "boom"}}

	if err := Transition(job, StatusNew, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", job.Attempt)
	}
	if job.Error != nil {
		t.Fatalf("error not cleared on retry: %v", job.Error)
	}
	if job.CompletedAt != nil {
		t.Fatalf("completed_at not cleared on retry")
	}
}

func TestFailFromAnyNonTerminalState(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusBGRemoved, StatusBackgroundReady, StatusComposited, StatusDerivatives, StatusShopifyPush} {
		job := &Job{Status: s}
		err := Transition(job, StatusFailed, func(j *Job) {
			j.Error = &JobError{Code: ErrUnknown, Message: "x"}
		})
		if err != nil {
			t.Errorf("failing from %s: unexpected error: %v", s, err)
		}
	}
}

func TestCanRetry(t *testing.T) {
	job := &Job{Status: StatusFailed, Attempt: 2}
	if !CanRetry(job, 3) {
		t.Fatal("expected retry to be allowed")
	}
	job.Attempt = 3
	if CanRetry(job, 3) {
		t.Fatal("expected retry ceiling to block further retries")
	}
	job.Status = StatusDone
	job.Attempt = 0
	if CanRetry(job, 3) {
		t.Fatal("expected non-failed jobs to never be retryable")
	}
}

func TestRetryDelayIsExponential(t *testing.T) {
	base := int64(60000)
	if got, want := RetryDelay(base, 0).Milliseconds(), base; got != want {
		t.Errorf("attempt 0: got %dms want %dms", got, want)
	}
	if got, want := RetryDelay(base, 1).Milliseconds(), base*2; got != want {
		t.Errorf("attempt 1: got %dms want %dms", got, want)
	}
	if got, want := RetryDelay(base, 3).Milliseconds(), base*8; got != want {
		t.Errorf("attempt 3: got %dms want %dms", got, want)
	}
}
