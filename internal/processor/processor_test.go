package processor

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", cfg.Concurrency)
	}
}

func TestConfigExplicitValuesSurvive(t *testing.T) {
	cfg := Config{PollInterval: 2 * time.Second, Concurrency: 4}.withDefaults()
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
}

func TestFreshProcessorStatus(t *testing.T) {
	p := &Processor{inFlight: make(map[string]struct{})}
	status := p.Status()
	if status.Running {
		t.Error("a freshly constructed Processor should not report Running")
	}
	if status.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", status.InFlight)
	}
}

func TestReleaseRemovesFromInFlight(t *testing.T) {
	p := &Processor{inFlight: map[string]struct{}{"job-1": {}, "job-2": {}}}
	p.release("job-1")
	if _, ok := p.inFlight["job-1"]; ok {
		t.Error("job-1 should have been released")
	}
	if _, ok := p.inFlight["job-2"]; !ok {
		t.Error("job-2 should remain in flight")
	}
}
