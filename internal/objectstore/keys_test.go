package objectstore

import "testing"

func TestKeyDeterminism(t *testing.T) {
	sha := "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd4"

	got := OriginalKey("SKU-1", sha)
	want := "originals/SKU-1/" + sha + ".jpg"
	if got != want {
		t.Errorf("OriginalKey = %q, want %q", got, want)
	}

	// Calling twice with identical inputs must be bit-exact (no time/random
	// component may leak into a key).
	if a, b := CompositeKey("default", "SKU-1", sha, "", "0", "", "jpg"), CompositeKey("default", "SKU-1", sha, "", "0", "", "jpg"); a != b {
		t.Errorf("CompositeKey not deterministic: %q vs %q", a, b)
	}

	if got := CompositeKey("default", "SKU-1", sha, "", "0", "", "jpg"); got != "composites/default/SKU-1/"+sha+"_1x1_0_master.jpg" {
		t.Errorf("CompositeKey defaults wrong: %q", got)
	}

	if got := DerivativeKey("default", "SKU-1", sha, "0", "hero", "webp"); got != "derivatives/default/SKU-1/"+sha+"/0_hero.webp" {
		t.Errorf("DerivativeKey = %q", got)
	}

	if got := ManifestKey("SKU-1", sha, "default"); got != "manifests/SKU-1/"+sha+"-default.json" {
		t.Errorf("ManifestKey = %q", got)
	}
}
