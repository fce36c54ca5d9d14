package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestRouter(ing *Ingress) *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/source/images", ing.Handle)
	return r
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"sku":"a"}`)
	good := sign("correct-secret", body)
	if !verifySignature("correct-secret", body, good) {
		t.Fatal("expected matching signature to verify")
	}
	if verifySignature("wrong-secret", body, good) {
		t.Fatal("expected mismatched secret to fail verification")
	}
}

func TestVerifySignatureRejectsEmpty(t *testing.T) {
	if verifySignature("secret", []byte("body"), "") {
		t.Fatal("empty signature must never verify")
	}
}

func TestHandleMissingSignatureUnauthorized(t *testing.T) {
	ing := New(Config{Secret: "shh"}, nil)
	router := newTestRouter(ing)

	body := []byte(`{"sku":"SKU-1","imageUrl":"http://img/a.jpg","sha256":"` + strings.Repeat("a", 64) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/source/images", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleValidationFailure(t *testing.T) {
	ing := New(Config{SkipVerify: true}, nil)
	router := newTestRouter(ing)

	body := []byte(`{"sku":"","imageUrl":"http://x","sha256":"too-short"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/source/images", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleUnconfiguredSecretInProductionIsFatal(t *testing.T) {
	ing := New(Config{IsProduction: true}, nil)
	router := newTestRouter(ing)

	body := []byte(`{"sku":"SKU-1","imageUrl":"http://img/a.jpg","sha256":"` + strings.Repeat("a", 64) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/source/images", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestPayloadSizeCapReturns413(t *testing.T) {
	ing := New(Config{SkipVerify: true, MaxBytes: 16}, nil)
	router := newTestRouter(ing)

	body := bytes.Repeat([]byte("a"), 17)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/source/images", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}
