package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/adhtanjung/productphoto/internal/processor"
	"github.com/adhtanjung/productphoto/internal/utils"
)

// ProcessorHandler serves the /processor/* lifecycle routes of spec §6.2.
type ProcessorHandler struct {
	proc *processor.Processor
}

// NewProcessorHandler constructs a ProcessorHandler.
func NewProcessorHandler(proc *processor.Processor) *ProcessorHandler {
	return &ProcessorHandler{proc: proc}
}

// Start handles POST /processor/start.
func (h *ProcessorHandler) Start(c *gin.Context) {
	h.proc.Start(context.Background())
	utils.SendSuccess(c, "processor started", h.proc.Status())
}

// Stop handles POST /processor/stop.
func (h *ProcessorHandler) Stop(c *gin.Context) {
	h.proc.Stop()
	utils.SendSuccess(c, "processor stopped", h.proc.Status())
}

// Status handles POST /processor/status.
func (h *ProcessorHandler) Status(c *gin.Context) {
	utils.SendSuccess(c, "processor status", h.proc.Status())
}
