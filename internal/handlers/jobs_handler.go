package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adhtanjung/productphoto/internal/jobs"
	"github.com/adhtanjung/productphoto/internal/jobstore"
	"github.com/adhtanjung/productphoto/internal/objectstore"
	"github.com/adhtanjung/productphoto/internal/utils"
)

// JobsHandler serves the job-management routes of spec §6.2.
type JobsHandler struct {
	store         *jobstore.Store
	objects       *objectstore.Store
	presignTTL    time.Duration
	maxRetries    int
}

// NewJobsHandler constructs a JobsHandler.
func NewJobsHandler(store *jobstore.Store, objects *objectstore.Store, presignTTL time.Duration, maxRetries int) *JobsHandler {
	if presignTTL == 0 {
		presignTTL = time.Hour
	}
	return &JobsHandler{store: store, objects: objects, presignTTL: presignTTL, maxRetries: maxRetries}
}

// List handles GET /jobs.
func (h *JobsHandler) List(c *gin.Context) {
	page, limit := utils.GetPagination(c)
	f := jobstore.ListFilter{
		Status: jobstore.Status(c.Query("status")),
		SKU:    c.Query("sku"),
		Theme:  c.Query("theme"),
		Limit:  limit,
		Offset: utils.GetOffset(page, limit),
	}

	list, err := h.store.ListJobs(c.Request.Context(), f)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "jobs listed", list)
}

// Get handles GET /jobs/:id.
func (h *JobsHandler) Get(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobstore.ErrNotFound) {
		utils.SendError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "job fetched", job)
}

// Retry handles POST /jobs/:id/retry: requires the job be terminal FAILED,
// resets it to NEW via the StateMachine's retry transition.
func (h *JobsHandler) Retry(c *gin.Context) {
	id := c.Param("id")

	job, err := h.store.GetJob(c.Request.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		utils.SendError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	if !jobs.CanRetry(job, h.maxRetries) {
		utils.SendError(c, http.StatusConflict, "job is not eligible for retry", nil)
		return
	}

	updated, err := h.store.UpdateStatus(c.Request.Context(), id, jobs.StatusNew, func(j *jobs.Job) {})
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "job reset to NEW", updated)
}

// Fail handles POST /jobs/:id/fail: administrative fail of any non-terminal
// job.
func (h *JobsHandler) Fail(c *gin.Context) {
	id := c.Param("id")

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.SendValidationError(c, err)
		return
	}
	if body.Code == "" {
		body.Code = string(jobs.ErrUnknown)
	}

	updated, err := h.store.FailJob(c.Request.Context(), id, jobs.ErrorKind(body.Code), body.Message, "")
	if errors.Is(err, jobstore.ErrNotFound) {
		utils.SendError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "job failed administratively", updated)
}

// Presign handles GET /jobs/:id/presign?type=...&index=...: returns a
// presigned GET URL for a named artifact.
func (h *JobsHandler) Presign(c *gin.Context) {
	id := c.Param("id")
	artifactType := c.Query("type")
	index, _ := strconv.Atoi(c.DefaultQuery("index", "0"))

	job, err := h.store.GetJob(c.Request.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		utils.SendError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}

	key, err := artifactKey(job, artifactType, index)
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if key == "" {
		utils.SendError(c, http.StatusNotFound, "artifact not yet produced", nil)
		return
	}

	url, err := h.objects.GetPresignedGetURL(c.Request.Context(), key, h.presignTTL)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "presigned URL generated", gin.H{"key": key, "url": url})
}

func artifactKey(job *jobs.Job, artifactType string, index int) (string, error) {
	switch artifactType {
	case "original":
		return job.Artifacts.Original, nil
	case "cutout":
		return job.Artifacts.Cutout, nil
	case "mask":
		return job.Artifacts.Mask, nil
	case "manifest":
		return job.Artifacts.Manifest, nil
	case "background":
		return indexed(job.Artifacts.Backgrounds, index), nil
	case "composite":
		return indexed(job.Artifacts.Composites, index), nil
	case "derivative":
		return indexed(job.Artifacts.Derivatives, index), nil
	default:
		return "", errors.New("unknown artifact type: " + artifactType)
	}
}

func indexed(keys []string, index int) string {
	if index < 0 || index >= len(keys) {
		return ""
	}
	return keys[index]
}

// Stats handles GET /jobs/stats.
func (h *JobsHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "stats computed", stats)
}
