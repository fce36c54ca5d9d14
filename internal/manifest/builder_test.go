package manifest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/adhtanjung/productphoto/internal/jobs"
)

func ptr(v int64) *int64 { return &v }

func TestSumMs(t *testing.T) {
	timings := jobs.Timings{
		DownloadMs:     ptr(100),
		SegmentationMs: ptr(200),
		BackgroundsMs:  nil,
		CompositingMs:  ptr(50),
	}
	if got := sumMs(timings); got != 350 {
		t.Errorf("sumMs = %d, want 350", got)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := &Document{
		Version: Version,
		JobID:   "job123",
		SKU:     "SKU-1",
		Theme:   "default",
		SHA256:  "aa",
		Status:  string(jobs.StatusDone),
	}
	doc.CreatedAt = time.Now()
	doc.Backgrounds = []BackgroundEntry{{Variant: 0, URLRef: URLRef{Key: "backgrounds/default/SKU-1/aa_0.jpg"}}}
	doc.Composites = []CompositeEntry{{Variant: 0, URLRef: URLRef{Key: "composites/default/SKU-1/aa_1x1_0_master.jpg"}}}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Document
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.JobID != doc.JobID {
		t.Errorf("JobID = %q, want %q", decoded.JobID, doc.JobID)
	}
	if len(decoded.Backgrounds) != 1 || decoded.Backgrounds[0].Key != doc.Backgrounds[0].Key {
		t.Errorf("backgrounds round-trip mismatch: %+v", decoded.Backgrounds)
	}
	if len(decoded.Composites) != 1 || decoded.Composites[0].Key != doc.Composites[0].Key {
		t.Errorf("composites round-trip mismatch: %+v", decoded.Composites)
	}
}
