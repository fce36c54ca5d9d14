package objectstore

import "fmt"

// Key generators produce the bit-exact deterministic paths of spec §4.8.
// Determinism matters here: manifest readers and re-presigning both rely on
// recomputing the same key from (sku, sha256, theme, variant, size, format)
// across processes and operating systems.

// OriginalKey is the permanent location of the source image.
func OriginalKey(sku, sha256 string) string {
	return fmt.Sprintf("originals/%s/%s.jpg", sku, sha256)
}

// CutoutKey is the RGBA background-removed product image.
func CutoutKey(sku, sha256 string) string {
	return fmt.Sprintf("cutouts/%s/%s.png", sku, sha256)
}

// MaskKey is the single-channel alpha companion to the cutout.
func MaskKey(sku, sha256 string) string {
	return fmt.Sprintf("masks/%s/%s.png", sku, sha256)
}

// BackgroundKey addresses one synthesized background variant.
func BackgroundKey(theme, sku, sha256, variant string) string {
	return fmt.Sprintf("backgrounds/%s/%s/%s_%s.jpg", theme, sku, sha256, variant)
}

// CompositeKey addresses one composite master. aspect defaults to "1x1" and
// kind defaults to "master" per spec.
func CompositeKey(theme, sku, sha256, aspect, variant, kind, ext string) string {
	if aspect == "" {
		aspect = "1x1"
	}
	if kind == "" {
		kind = "master"
	}
	return fmt.Sprintf("composites/%s/%s/%s_%s_%s_%s.%s", theme, sku, sha256, aspect, variant, kind, ext)
}

// DerivativeKey addresses one (composite variant, size) derivative.
func DerivativeKey(theme, sku, sha256, variant, size, ext string) string {
	return fmt.Sprintf("derivatives/%s/%s/%s/%s_%s.%s", theme, sku, sha256, variant, size, ext)
}

// ManifestKey addresses the job's manifest document.
func ManifestKey(sku, sha256, theme string) string {
	return fmt.Sprintf("manifests/%s/%s-%s.json", sku, sha256, theme)
}

// ContentType returns the MIME type for a derivative/composite format.
func ContentType(format string) string {
	switch format {
	case "avif":
		return "image/avif"
	case "webp":
		return "image/webp"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
