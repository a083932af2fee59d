package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-result-api/internal/models"
)

func TestValidationRuleRepositoryListActiveByTest(t *testing.T) {
	db, mock, cleanup := newResultRepoMock(t)
	defer cleanup()

	repo := NewValidationRuleRepository(db)
	columns := []string{"id", "test_id", "rule_type", "min_value", "max_value", "critical_low", "critical_high",
		"absurd_low", "absurd_high", "delta_threshold", "delta_type", "delta_window_hours",
		"gender", "age_min_years", "age_max_years", "action", "active", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("rule-1", "potassium", "critical", nil, nil, 2.5, 6.0, nil, nil, nil, "", nil, "", nil, nil, "warn", true, time.Now()).
		AddRow("rule-2", "potassium", "delta", nil, nil, nil, nil, nil, nil, 50.0, "percent", 72, "", nil, nil, "block", true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM validation_rules WHERE test_id = $1 AND active = TRUE")).
		WithArgs("potassium").
		WillReturnRows(rows)

	rules, err := repo.ListActiveByTest(context.Background(), "potassium")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, models.RuleTypeCritical, rules[0].RuleType)
	require.NotNil(t, rules[0].CriticalHigh)
	assert.Equal(t, 6.0, *rules[0].CriticalHigh)
	assert.Nil(t, rules[0].MinValue)

	assert.Equal(t, models.DeltaTypePercent, rules[1].DeltaType)
	require.NotNil(t, rules[1].DeltaWindowHours)
	assert.Equal(t, 72, *rules[1].DeltaWindowHours)
	assert.True(t, rules[1].Blocks())
	require.NoError(t, mock.ExpectationsWereMet())
}
