package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-result-api/internal/dto"
	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
	"github.com/noah-isme/lab-result-api/pkg/response"
)

type resultService interface {
	Create(ctx context.Context, req dto.CreateResultRequest, actor string) (*dto.TransitionResponse, error)
	Get(ctx context.Context, id string) (*models.TestResult, error)
	List(ctx context.Context, query dto.ResultQuery) ([]models.TestResult, *models.Pagination, error)
	GetHistory(ctx context.Context, id string) ([]models.Amendment, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*dto.TransitionResponse, error)
}

// ResultHandler exposes the result lifecycle over REST.
type ResultHandler struct {
	service resultService
}

// NewResultHandler constructs the handler.
func NewResultHandler(service resultService) *ResultHandler {
	return &ResultHandler{service: service}
}

// Create godoc
// @Summary Register a test result
// @Description Creates a pending result; when value is supplied the result is entered in the same call.
// @Tags Results
// @Accept json
// @Produce json
// @Param payload body dto.CreateResultRequest true "Result payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /results [post]
func (h *ResultHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid result payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && req.TenantID == "" {
		req.TenantID = claims.TenantID
	}
	resp, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Versioned(c, http.StatusCreated, resp, resp.Result.Version)
}

// List godoc
// @Summary List results
// @Tags Results
// @Produce json
// @Param patient_id query string false "Patient ID"
// @Param test_id query string false "Test ID"
// @Param order_id query string false "Order ID"
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /results [get]
func (h *ResultHandler) List(c *gin.Context) {
	query := dto.ResultQuery{
		PatientID: strings.TrimSpace(c.Query("patient_id")),
		TestID:    strings.TrimSpace(c.Query("test_id")),
		OrderID:   strings.TrimSpace(c.Query("order_id")),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				query.Status = append(query.Status, models.ResultStatus(part))
			}
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		query.PageSize = size
	}

	results, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, pagination)
}

// Get godoc
// @Summary Get a result
// @Description The ETag header carries the version token to send back on transitions.
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Success 304 "Not modified"
// @Failure 404 {object} response.Envelope
// @Router /results/{id} [get]
func (h *ResultHandler) Get(c *gin.Context) {
	result, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if version, ok := response.ParseETag(c.GetHeader("If-None-Match")); ok && version == result.Version {
		c.Header("ETag", response.FormatETag(result.Version))
		c.Status(http.StatusNotModified)
		return
	}
	response.Versioned(c, http.StatusOK, result, result.Version)
}

// History godoc
// @Summary Get the amendment history of a result
// @Tags Results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /results/{id}/history [get]
func (h *ResultHandler) History(c *gin.Context) {
	history, err := h.service.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Transition godoc
// @Summary Apply a lifecycle event to a result
// @Description expectedVersion may be sent in the body or as an If-Match header.
// @Tags Results
// @Accept json
// @Produce json
// @Param id path string true "Result ID"
// @Param If-Match header string false "Version token read from the result"
// @Param payload body dto.TransitionRequest true "Transition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 428 {object} response.Envelope
// @Router /results/{id}/transitions [post]
func (h *ResultHandler) Transition(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	if req.ExpectedVersion == 0 {
		if version, ok := response.ParseETag(c.GetHeader("If-Match")); ok {
			req.ExpectedVersion = version
		}
	}
	resp, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Versioned(c, http.StatusOK, resp, resp.Result.Version)
}
