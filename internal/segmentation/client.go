// Package segmentation adapts the external background-removal provider
// (spec §2, §4.4 stage 1): input a source image URL, output the bytes of a
// cutout RGBA and a binary mask, plus the provider's reported cost. The
// processor, not this package, uploads them to the object store. The concrete HTTP vendor is a config-selected variant
// behind the Client interface, following the teacher's
// factory-to-interface redesign for getSegmentProvider.
package segmentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Result is what a successful segmentation call produces.
type Result struct {
	Cutout   []byte  // RGBA PNG bytes
	Mask     []byte  // single-channel PNG bytes
	CostUSD  float64
	Provider string
}

// Client is the capability a provider implementation exposes. Named per
// the teacher's redesign note: removeBackground is the only capability
// the processor needs from this package.
type Client interface {
	RemoveBackground(ctx context.Context, sourceURL, sku, sha256 string) (Result, error)
}

// Config selects and configures the HTTP provider.
type Config struct {
	Endpoint   string        // provider API base URL
	APIKey     string
	CostUSD    float64       // flat reported cost per call, provider-specific
	Timeout    time.Duration // default 30s
}

// HTTPClient is a generic HTTP-based provider adapter. It is wrapped in a
// circuit breaker so a misbehaving provider cannot stall every in-flight
// worker: once the provider has failed enough consecutive calls, further
// calls fail fast with gobreaker.ErrOpenState until the reset timeout
// lets a single probe through.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPClient builds a segmentation Client around cfg.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "segmentation-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}
}

type removeBackgroundRequest struct {
	ImageURL string `json:"image_url"`
	SKU      string `json:"sku"`
	SHA256   string `json:"sha256"`
}

type removeBackgroundResponse struct {
	CutoutURL string  `json:"cutout_url"`
	MaskURL   string  `json:"mask_url"`
	CostUSD   float64 `json:"cost_usd"`
}

// RemoveBackground calls the provider and downloads both artifacts.
func (c *HTTPClient) RemoveBackground(ctx context.Context, sourceURL, sku, sha256 string) (Result, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		return c.call(ctx, sourceURL, sku, sha256)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{}, fmt.Errorf("segmentation: provider circuit open: %w", err)
		}
		return Result{}, err
	}
	return raw.(Result), nil
}

func (c *HTTPClient) call(ctx context.Context, sourceURL, sku, sha256 string) (Result, error) {
	body, err := json.Marshal(removeBackgroundRequest{ImageURL: sourceURL, SKU: sku, SHA256: sha256})
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/remove-background", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("segmentation: provider returned status %d", resp.StatusCode)
	}

	var out removeBackgroundResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("segmentation: decode response: %w", err)
	}

	cutout, err := c.download(ctx, out.CutoutURL)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: download cutout: %w", err)
	}
	mask, err := c.download(ctx, out.MaskURL)
	if err != nil {
		return Result{}, fmt.Errorf("segmentation: download mask: %w", err)
	}

	cost := out.CostUSD
	if cost == 0 {
		cost = c.cfg.CostUSD
	}

	return Result{Cutout: cutout, Mask: mask, CostUSD: cost, Provider: c.cfg.Endpoint}, nil
}

func (c *HTTPClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
