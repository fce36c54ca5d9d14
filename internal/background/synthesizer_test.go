package background

import (
	"bytes"
	"image/jpeg"
	"testing"
)

func TestGenerateDefaultCount(t *testing.T) {
	s := NewSolidGradientSynthesizer()
	variants, err := s.Generate("default", 800, 800, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("len(variants) = %d, want 2", len(variants))
	}
	for i, v := range variants {
		if v.Index != i {
			t.Errorf("variant %d has Index %d", i, v.Index)
		}
		if _, err := jpeg.Decode(bytes.NewReader(v.Data)); err != nil {
			t.Errorf("variant %d is not valid JPEG: %v", i, err)
		}
	}
}

func TestGenerateUnknownThemeFallsBackToDefault(t *testing.T) {
	s := NewSolidGradientSynthesizer()
	variants, err := s.Generate("nonexistent-theme", 100, 100, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("len(variants) = %d, want 1", len(variants))
	}
}

func TestGenerateRequestedCount(t *testing.T) {
	s := NewSolidGradientSynthesizer()
	variants, err := s.Generate("kitchen", 200, 200, 5)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(variants) != 5 {
		t.Fatalf("len(variants) = %d, want 5", len(variants))
	}
}
