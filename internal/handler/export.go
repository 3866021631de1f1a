package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lilseedabe/FlickMV-sub003/internal/middleware"
	"github.com/lilseedabe/FlickMV-sub003/internal/model"
	"github.com/lilseedabe/FlickMV-sub003/internal/service"
	"github.com/lilseedabe/FlickMV-sub003/pkg/response"
)

type ExportHandler struct {
	service   *service.ExportService
	validator *validator.Validate
}

func NewExportHandler(svc *service.ExportService, v *validator.Validate) *ExportHandler {
	return &ExportHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/exports
// @Summary      Submit export job
// @Description  Queue a new export job for a project
// @Tags         Exports
// @Accept       json
// @Produce      json
// @Param        request body model.CreateExportRequest true "Export request"
// @Success      202 {object} model.CreateExportResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /api/exports [post]
func (h *ExportHandler) Create(c *fiber.Ctx) error {
	var req model.CreateExportRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/exports/:jobId
// @Summary      Get export job status
// @Description  Full job record with computed ETA and presentation fields
// @Tags         Exports
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ExportStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/exports/{jobId} [get]
func (h *ExportHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/exports/:jobId/cancel
// @Summary      Cancel export job
// @Description  Cancel a queued or processing export job
// @Tags         Exports
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ExportCancelResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/exports/{jobId}/cancel [post]
func (h *ExportHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Cancel(c.Context(), jobID)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/exports/:jobId/retry
// @Summary      Retry failed export job
// @Description  Requeue a failed export job, within its retry cap
// @Tags         Exports
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.ExportRetryResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/exports/{jobId}/retry [post]
func (h *ExportHandler) Retry(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Retry(c.Context(), jobID)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, result)
}

// Download handles GET /api/exports/:jobId/download
// @Summary      Download export output
// @Description  Redirects to the output artifact and bumps the download counter
// @Tags         Exports
// @Param        jobId path string true "Job ID"
// @Success      302
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Router       /api/exports/{jobId}/download [get]
func (h *ExportHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	url, err := h.service.DownloadURL(c.Context(), jobID)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Redirect(url, fiber.StatusFound)
}

func (h *ExportHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, model.ErrConflict):
		return response.Conflict(c, err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		return response.InvalidTransition(c, err.Error())
	case errors.Is(err, model.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) []string {
	var details []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			detail := fmt.Sprintf("Field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
			if fe.Param() != "" {
				detail = fmt.Sprintf("%s (value: %s)", detail, fe.Param())
			}
			details = append(details, detail)
		}
	}
	return details
}
