package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-result-api/internal/dto"
	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
	"github.com/noah-isme/lab-result-api/pkg/response"
)

type evaluationService interface {
	Evaluate(ctx context.Context, req dto.EvaluateRequest) (models.ValidationOutcome, error)
}

type ruleCache interface {
	Invalidate(ctx context.Context, testID string) error
}

// RuleHandler exposes dry-run evaluation and rule cache administration.
type RuleHandler struct {
	evaluator evaluationService
	rules     ruleCache
}

// NewRuleHandler constructs the handler.
func NewRuleHandler(evaluator evaluationService, rules ruleCache) *RuleHandler {
	return &RuleHandler{evaluator: evaluator, rules: rules}
}

// Evaluate godoc
// @Summary Evaluate a candidate value against the test's rules
// @Description Pure evaluation; no result is read or written.
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body dto.EvaluateRequest true "Evaluation input"
// @Success 200 {object} response.Envelope
// @Router /evaluations [post]
func (h *RuleHandler) Evaluate(c *gin.Context) {
	var req dto.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid evaluation payload"))
		return
	}
	outcome, err := h.evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Invalidate godoc
// @Summary Drop cached rules for a test
// @Description Use "*" as testId to drop every cached rule set.
// @Tags Rules
// @Param testId path string true "Test ID"
// @Success 204
// @Router /rules/{testId}/invalidate [post]
func (h *RuleHandler) Invalidate(c *gin.Context) {
	testID := c.Param("testId")
	if testID == "*" {
		testID = ""
	}
	if err := h.rules.Invalidate(c.Request.Context(), testID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
