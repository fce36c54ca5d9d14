package derivative

import (
	"testing"
)

func TestDefaultSizesAndFormatsMatrixSize(t *testing.T) {
	if len(DefaultSizes) != 3 {
		t.Fatalf("len(DefaultSizes) = %d, want 3", len(DefaultSizes))
	}
	if len(DefaultFormats) != 3 {
		t.Fatalf("len(DefaultFormats) = %d, want 3", len(DefaultFormats))
	}
	// 3x3 matrix per composite, matching S1's 18 derivatives for 2 composites.
	if got := len(DefaultSizes) * len(DefaultFormats); got != 9 {
		t.Fatalf("matrix size = %d, want 9", got)
	}
}

func TestDefaultSizeNames(t *testing.T) {
	names := map[string]bool{}
	for _, s := range DefaultSizes {
		names[s.Name] = true
	}
	for _, want := range []string{"hero", "pdp", "thumb"} {
		if !names[want] {
			t.Errorf("missing expected size %q", want)
		}
	}
}

func TestDefaultFormatNames(t *testing.T) {
	names := map[string]bool{}
	for _, f := range DefaultFormats {
		names[f.Name] = true
	}
	for _, want := range []string{"jpg", "webp", "avif"} {
		if !names[want] {
			t.Errorf("missing expected format %q", want)
		}
	}
}
