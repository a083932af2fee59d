package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// ValidationRuleRepository reads per-test validation rules. Rules are owned by an
// external administration module, so this repository never writes.
type ValidationRuleRepository struct {
	db *sqlx.DB
}

// NewValidationRuleRepository constructs the repository.
func NewValidationRuleRepository(db *sqlx.DB) *ValidationRuleRepository {
	return &ValidationRuleRepository{db: db}
}

// ListActiveByTest returns the active rules configured for a test.
func (r *ValidationRuleRepository) ListActiveByTest(ctx context.Context, testID string) ([]models.ValidationRule, error) {
	const query = `SELECT id, test_id, rule_type, min_value, max_value, critical_low, critical_high,
       absurd_low, absurd_high, delta_threshold, COALESCE(delta_type, '') AS delta_type, delta_window_hours,
       COALESCE(gender, '') AS gender, age_min_years, age_max_years, action, active, updated_at
	FROM validation_rules WHERE test_id = $1 AND active = TRUE ORDER BY rule_type, id`
	var rules []models.ValidationRule
	if err := r.db.SelectContext(ctx, &rules, query, testID); err != nil {
		return nil, fmt.Errorf("list validation rules for %s: %w", testID, err)
	}
	return rules, nil
}
