package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

const ruleCacheKeyPrefix = "rules:test:"

// RuleRepository is the read-only source of validation rules.
type RuleRepository interface {
	ListActiveByTest(ctx context.Context, testID string) ([]models.ValidationRule, error)
}

// RuleService resolves rules for a test through the cache and runs the evaluator.
type RuleService struct {
	repo    RuleRepository
	cache   *CacheService
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRuleService constructs the rule service. cache may be nil.
func NewRuleService(repo RuleRepository, cache *CacheService, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleService{repo: repo, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

func ruleCacheKey(testID string) string {
	return ruleCacheKeyPrefix + testID
}

// RulesForTest returns the active rules configured for a test.
func (s *RuleService) RulesForTest(ctx context.Context, testID string) ([]models.ValidationRule, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "testId is required")
	}

	var cached []models.ValidationRule
	if hit, _ := s.cache.Get(ctx, ruleCacheKey(testID), &cached); hit {
		return cached, nil
	}

	rules, err := s.repo.ListActiveByTest(ctx, testID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load validation rules")
	}
	if rules == nil {
		rules = []models.ValidationRule{}
	}
	if err := s.cache.Set(ctx, ruleCacheKey(testID), rules, s.ttl); err != nil {
		s.logger.Debug("rule cache write skipped", zap.String("test_id", testID), zap.Error(err))
	}
	return rules, nil
}

// Invalidate drops cached rules for a test, or for every test when testID is empty.
func (s *RuleService) Invalidate(ctx context.Context, testID string) error {
	pattern := ruleCacheKeyPrefix + "*"
	if testID = strings.TrimSpace(testID); testID != "" {
		pattern = ruleCacheKey(testID)
	}
	if err := s.cache.Invalidate(ctx, pattern); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to invalidate rule cache for %q", pattern))
	}
	s.logger.Info("rule cache invalidated", zap.String("pattern", pattern))
	return nil
}

// Evaluate loads the rules for the input's test and evaluates the candidate value.
func (s *RuleService) Evaluate(ctx context.Context, input models.EvaluationInput) (models.ValidationOutcome, error) {
	rules, err := s.RulesForTest(ctx, input.TestID)
	if err != nil {
		return models.ValidationOutcome{}, err
	}
	return s.EvaluateWith(input, rules), nil
}

// EvaluateWith evaluates against an already resolved rule set and records the verdict.
func (s *RuleService) EvaluateWith(input models.EvaluationInput, rules []models.ValidationRule) models.ValidationOutcome {
	outcome := EvaluateRules(input, rules)
	for _, warning := range outcome.ConfigurationWarnings {
		s.logger.Warn("rule configuration incomplete",
			zap.String("code", appErrors.ErrConfigurationWarning.Code),
			zap.String("test_id", input.TestID),
			zap.String("detail", warning),
		)
	}
	s.metrics.ObserveEvaluation(string(outcome.Flag), outcome.IsValid)
	return outcome
}
