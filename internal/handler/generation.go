package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/pkg/response"
)

type GenerationHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
}

func NewGenerationHandler(svc *service.GenerationService, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/generate. The generation cost is deducted before
// the job is queued.
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.CFGScale == 0 {
		req.CFGScale = 7
	}

	result, err := h.service.StartGeneration(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return ledgerError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generate/status/:jobId
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/generate/result/:jobId
func (h *GenerationHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/generate/cancel/:jobId. Jobs that have not
// started are refunded.
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.CancelGeneration(c.Context(), middleware.GetUserID(c), jobID)
	if err != nil {
		return jobError(c, err)
	}

	return response.OK(c, result)
}

func jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.ValidationError(c, "Job not completed yet", nil)
	case errors.Is(err, service.ErrJobFinished):
		return response.Conflict(c, "Job already finished")
	default:
		return response.ServiceError(c, err.Error())
	}
}
