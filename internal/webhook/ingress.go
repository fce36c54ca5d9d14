// Package webhook implements the WebhookIngress of spec §4.3: payload
// validation, HMAC signature verification, size-cap enforcement, and
// idempotent job creation, hosted as a Gin handler.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/adhtanjung/productphoto/internal/jobstore"
	"github.com/adhtanjung/productphoto/internal/utils"
)

// Payload is the ingress body of spec §4.3. Unknown fields are ignored
// by json.Unmarshal by default, matching the contract.
type Payload struct {
	Event     string `json:"event"`
	SKU       string `json:"sku" validate:"required,min=1,max=100,alphanumdash"`
	ImageURL  string `json:"imageUrl" validate:"required,http_url"`
	SHA256    string `json:"sha256" validate:"required,len=64,hexadecimal,lowercase"`
	Theme     string `json:"theme"`
	TakenAt   string `json:"takenAt"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("alphanumdash", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
		return true
	})
	return v
}

// Config configures signature verification and ingress limits.
type Config struct {
	Secret          string
	SignatureHeader string // default "x-source-signature"
	MaxBytes        int64  // default 10 MiB
	SkipVerify      bool   // honored only outside production
	IsProduction    bool
	MaxImagesPerSKU int
	DefaultTheme    string
}

func (c Config) withDefaults() Config {
	if c.SignatureHeader == "" {
		c.SignatureHeader = "x-source-signature"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.DefaultTheme == "" {
		c.DefaultTheme = "default"
	}
	return c
}

// Ingress hosts the webhook handler.
type Ingress struct {
	cfg   Config
	store *jobstore.Store
}

// New constructs an Ingress.
func New(cfg Config, store *jobstore.Store) *Ingress {
	return &Ingress{cfg: cfg.withDefaults(), store: store}
}

// Handle is the /webhooks/source/images handler (spec §6.1).
func (ing *Ingress) Handle(c *gin.Context) {
	if ing.cfg.Secret == "" {
		if ing.cfg.IsProduction {
			utils.SendError(c, http.StatusInternalServerError, "webhook secret is not configured", nil)
			return
		}
		if !ing.cfg.SkipVerify {
			utils.SendError(c, http.StatusInternalServerError, "webhook secret is not configured", nil)
			return
		}
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, ing.cfg.MaxBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			utils.SendError(c, http.StatusRequestEntityTooLarge, "payload exceeds maximum size", nil)
			return
		}
		utils.SendError(c, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	if ing.cfg.Secret != "" {
		sig := c.GetHeader(ing.cfg.SignatureHeader)
		if !verifySignature(ing.cfg.Secret, body, sig) {
			utils.SendError(c, http.StatusUnauthorized, "invalid signature", nil)
			return
		}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.SendError(c, http.StatusBadRequest, "malformed JSON body", err)
		return
	}

	if err := validate.Struct(payload); err != nil {
		utils.SendError(c, http.StatusBadRequest, "validation failed", fmt.Errorf("%s", fieldErrors(err)))
		return
	}

	theme := strings.TrimSpace(payload.Theme)
	if theme == "" {
		theme = ing.cfg.DefaultTheme
	}
	sha256Lower := strings.ToLower(payload.SHA256)

	if ing.store != nil && ing.cfg.MaxImagesPerSKU > 0 {
		reached, err := ing.store.HasReachedImageLimit(c.Request.Context(), payload.SKU, ing.cfg.MaxImagesPerSKU)
		if err != nil {
			utils.SendError(c, http.StatusInternalServerError, "failed to check sku admission limit", err)
			return
		}
		if reached {
			utils.SendError(c, http.StatusTooManyRequests, "per-sku image limit reached", nil)
			return
		}
	}

	job, created, err := ing.store.CreateJob(c.Request.Context(), payload.SKU, payload.ImageURL, sha256Lower, theme)
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "failed to create job", err)
		return
	}

	if created {
		c.JSON(http.StatusCreated, gin.H{"jobId": job.ID, "status": "created"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": job.ID, "status": "duplicate"})
}

// verifySignature reports whether hexSig is hex(HMAC-SHA256(secret,
// body)), compared in constant time.
func verifySignature(secret string, body []byte, hexSig string) bool {
	if hexSig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(strings.TrimSpace(hexSig))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	var parts []string
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
