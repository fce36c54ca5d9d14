package segmentation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientRemoveBackground(t *testing.T) {
	var assetServer *httptest.Server
	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/remove-background" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req removeBackgroundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SKU != "SKU-1" {
			t.Errorf("sku = %q, want SKU-1", req.SKU)
		}
		_ = json.NewEncoder(w).Encode(removeBackgroundResponse{
			CutoutURL: assetServer.URL + "/cutout.png",
			MaskURL:   assetServer.URL + "/mask.png",
			CostUSD:   0.05,
		})
	}))
	defer providerServer.Close()

	assetServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cutout.png":
			w.Write([]byte("cutout-bytes"))
		case "/mask.png":
			w.Write([]byte("mask-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer assetServer.Close()

	client := NewHTTPClient(Config{Endpoint: providerServer.URL})
	result, err := client.RemoveBackground(context.Background(), "http://img/a.jpg", "SKU-1", "aa")
	if err != nil {
		t.Fatalf("RemoveBackground: %v", err)
	}
	if string(result.Cutout) != "cutout-bytes" {
		t.Errorf("cutout = %q", result.Cutout)
	}
	if string(result.Mask) != "mask-bytes" {
		t.Errorf("mask = %q", result.Mask)
	}
	if result.CostUSD != 0.05 {
		t.Errorf("cost = %v, want 0.05", result.CostUSD)
	}
}

func TestHTTPClientProviderError(t *testing.T) {
	providerServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer providerServer.Close()

	client := NewHTTPClient(Config{Endpoint: providerServer.URL})
	if _, err := client.RemoveBackground(context.Background(), "http://img/a.jpg", "SKU-1", "aa"); err == nil {
		t.Fatal("expected an error from a 500 provider response")
	}
}
