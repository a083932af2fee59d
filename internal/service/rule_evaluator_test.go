package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-result-api/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

var evalTime = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func TestEvaluateRulesAboveReferenceRange(t *testing.T) {
	input := models.EvaluationInput{
		TestID:         "glucose",
		Value:          "250",
		ReferenceRange: &models.ReferenceRange{Low: floatPtr(70), High: floatPtr(100), Unit: "mg/dL"},
		At:             evalTime,
	}

	outcome := EvaluateRules(input, nil)
	assert.True(t, outcome.IsValid)
	assert.False(t, outcome.IsCritical)
	assert.Equal(t, models.FlagAbnormalHigh, outcome.Flag)
	assert.Equal(t, []models.ResultFlag{models.FlagAbnormalHigh}, outcome.Flags)
	assert.Equal(t, []string{"above reference range"}, outcome.Warnings)
	assert.Empty(t, outcome.Errors)
}

func TestEvaluateRulesWithinRangeIsNormal(t *testing.T) {
	input := models.EvaluationInput{
		TestID:         "glucose",
		Value:          "85",
		ReferenceRange: &models.ReferenceRange{Low: floatPtr(70), High: floatPtr(100)},
		At:             evalTime,
	}

	outcome := EvaluateRules(input, nil)
	assert.True(t, outcome.IsValid)
	assert.Equal(t, models.FlagNormal, outcome.Flag)
	assert.Equal(t, []models.ResultFlag{models.FlagNormal}, outcome.Flags)
	assert.Empty(t, outcome.Warnings)
}

func TestEvaluateRulesRangeBoundaryIsInclusive(t *testing.T) {
	input := models.EvaluationInput{
		TestID:         "glucose",
		Value:          "100",
		ReferenceRange: &models.ReferenceRange{Low: floatPtr(70), High: floatPtr(100)},
		At:             evalTime,
	}
	assert.Equal(t, models.FlagNormal, EvaluateRules(input, nil).Flag)
}

func TestEvaluateRulesCriticalHigh(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "k-crit", TestID: "potassium", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(6.0), Action: models.RuleActionWarn, Active: true},
	}
	input := models.EvaluationInput{TestID: "potassium", Value: "6.5", At: evalTime}

	outcome := EvaluateRules(input, rules)
	assert.True(t, outcome.IsValid)
	assert.True(t, outcome.IsCritical)
	assert.True(t, outcome.RequiresReview)
	assert.Equal(t, []models.ResultFlag{models.FlagCriticalHigh}, outcome.Flags)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "critical high")
}

func TestEvaluateRulesCriticalThresholdIsInclusive(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "k-crit", RuleType: models.RuleTypeCritical, CriticalLow: floatPtr(2.5), Active: true},
	}
	outcome := EvaluateRules(models.EvaluationInput{TestID: "potassium", Value: "2.5", At: evalTime}, rules)
	assert.True(t, outcome.IsCritical)
	assert.Equal(t, models.FlagCriticalLow, outcome.Flag)
}

func TestEvaluateRulesCriticalSuppressesAbnormalInSameDirection(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "k-crit", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(6.0), Active: true},
	}
	input := models.EvaluationInput{
		TestID:         "potassium",
		Value:          "6.5",
		ReferenceRange: &models.ReferenceRange{Low: floatPtr(3.5), High: floatPtr(5.1)},
		At:             evalTime,
	}

	outcome := EvaluateRules(input, rules)
	assert.Equal(t, []models.ResultFlag{models.FlagCriticalHigh}, outcome.Flags)
	assert.Contains(t, outcome.Warnings, "above reference range")
}

func TestEvaluateRulesPercentDelta(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "cr-delta", TestID: "creatinine", RuleType: models.RuleTypeDelta, DeltaThreshold: floatPtr(50), DeltaType: models.DeltaTypePercent, Action: models.RuleActionWarn, Active: true},
	}
	input := models.EvaluationInput{
		TestID:      "creatinine",
		Value:       "8.5",
		PatientID:   "patient-1",
		PriorValues: []models.PriorValue{{ResultID: "r-0", Value: "4.5", EnteredAt: evalTime.Add(-24 * time.Hour)}},
		At:          evalTime,
	}

	outcome := EvaluateRules(input, rules)
	assert.True(t, outcome.IsValid)
	assert.True(t, outcome.RequiresReview)
	require.Len(t, outcome.Warnings, 1)
	assert.Equal(t, "delta check: 88.9% change from previous value 4.5 exceeds 50%", outcome.Warnings[0])
	require.NotNil(t, outcome.Delta)
	assert.True(t, outcome.Delta.Exceeded)
	assert.Equal(t, "r-0", outcome.Delta.PriorResultID)
}

func TestEvaluateRulesBlockingDelta(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "hb-delta", RuleType: models.RuleTypeDelta, DeltaThreshold: floatPtr(2), Action: models.RuleActionBlock, Active: true},
	}
	input := models.EvaluationInput{
		TestID:      "hemoglobin",
		Value:       "9",
		PriorValues: []models.PriorValue{{ResultID: "r-0", Value: "13.5", EnteredAt: evalTime.Add(-time.Hour)}},
		At:          evalTime,
	}

	outcome := EvaluateRules(input, rules)
	assert.False(t, outcome.IsValid)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "change of -4.5")
}

func TestEvaluateRulesDeltaPriorSelection(t *testing.T) {
	rule := models.ValidationRule{ID: "delta", RuleType: models.RuleTypeDelta, DeltaThreshold: floatPtr(1), DeltaWindowHours: intPtr(48), Active: true}
	same := evalTime.Add(-2 * time.Hour)

	tests := []struct {
		name      string
		priors    []models.PriorValue
		wantPrior string
		wantDelta bool
	}{
		{
			name: "most recent wins",
			priors: []models.PriorValue{
				{ResultID: "old", Value: "1", EnteredAt: evalTime.Add(-10 * time.Hour)},
				{ResultID: "new", Value: "9", EnteredAt: evalTime.Add(-1 * time.Hour)},
			},
			wantPrior: "new",
			wantDelta: true,
		},
		{
			name: "equal timestamps prefer later entry",
			priors: []models.PriorValue{
				{ResultID: "first", Value: "5", EnteredAt: same},
				{ResultID: "second", Value: "9", EnteredAt: same},
			},
			wantPrior: "second",
			wantDelta: true,
		},
		{
			name: "outside window ignored",
			priors: []models.PriorValue{
				{ResultID: "stale", Value: "1", EnteredAt: evalTime.Add(-72 * time.Hour)},
			},
		},
		{
			name: "future entries ignored",
			priors: []models.PriorValue{
				{ResultID: "later", Value: "1", EnteredAt: evalTime.Add(time.Hour)},
			},
		},
		{
			name: "non numeric skipped",
			priors: []models.PriorValue{
				{ResultID: "numeric", Value: "4.6", EnteredAt: evalTime.Add(-5 * time.Hour)},
				{ResultID: "text", Value: "hemolysed", EnteredAt: evalTime.Add(-1 * time.Hour)},
			},
			wantPrior: "numeric",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			outcome := EvaluateRules(models.EvaluationInput{TestID: "t", Value: "5", PriorValues: tc.priors, At: evalTime}, []models.ValidationRule{rule})
			if tc.wantPrior == "" {
				assert.Nil(t, outcome.Delta)
				return
			}
			require.NotNil(t, outcome.Delta)
			assert.Equal(t, tc.wantPrior, outcome.Delta.PriorResultID)
			assert.Equal(t, tc.wantDelta, outcome.Delta.Exceeded)
		})
	}
}

func TestEvaluateRulesPercentDeltaSkipsZeroPrior(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "delta", RuleType: models.RuleTypeDelta, DeltaThreshold: floatPtr(10), DeltaType: models.DeltaTypePercent, Active: true},
	}
	input := models.EvaluationInput{
		TestID:      "crp",
		Value:       "12",
		PriorValues: []models.PriorValue{{ResultID: "r-0", Value: "0", EnteredAt: evalTime.Add(-time.Hour)}},
		At:          evalTime,
	}

	outcome := EvaluateRules(input, rules)
	assert.Nil(t, outcome.Delta)
	assert.False(t, outcome.RequiresReview)
}

func TestEvaluateRulesAbsurdAlwaysBlocks(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "k-absurd", RuleType: models.RuleTypeAbsurd, AbsurdHigh: floatPtr(15), Action: models.RuleActionWarn, Active: true},
		{ID: "k-crit", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(6), Active: true},
	}

	outcome := EvaluateRules(models.EvaluationInput{TestID: "potassium", Value: "55", At: evalTime}, rules)
	assert.False(t, outcome.IsValid)
	assert.True(t, outcome.IsCritical)
	assert.Equal(t, models.FlagAbsurd, outcome.Flag)
	assert.Equal(t, []models.ResultFlag{models.FlagAbsurd, models.FlagCriticalHigh}, outcome.Flags)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0], "physiologically possible")
}

func TestEvaluateRulesBlockingRangeRule(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "ph-range", RuleType: models.RuleTypeRange, MinValue: floatPtr(6.8), MaxValue: floatPtr(7.8), Action: models.RuleActionBlock, Active: true},
	}
	outcome := EvaluateRules(models.EvaluationInput{TestID: "ph", Value: "6.5", At: evalTime}, rules)
	assert.False(t, outcome.IsValid)
	assert.Equal(t, []string{"below reference range"}, outcome.Errors)
	assert.Equal(t, models.FlagAbnormalLow, outcome.Flag)
}

func TestEvaluateRulesMostSpecificRangeRule(t *testing.T) {
	birth := evalTime.AddDate(-40, 0, 0)
	rules := []models.ValidationRule{
		{ID: "hb-any", RuleType: models.RuleTypeRange, MinValue: floatPtr(12), MaxValue: floatPtr(17.5), Active: true},
		{ID: "hb-female", RuleType: models.RuleTypeRange, MinValue: floatPtr(12), MaxValue: floatPtr(15.5), Gender: "female", Active: true},
		{ID: "hb-male", RuleType: models.RuleTypeRange, MinValue: floatPtr(13.5), MaxValue: floatPtr(17.5), Gender: "male", Active: true},
	}

	female := EvaluateRules(models.EvaluationInput{TestID: "hb", Value: "16", Patient: &models.PatientContext{Gender: "F", BirthDate: &birth}, At: evalTime}, rules)
	assert.Equal(t, models.FlagAbnormalHigh, female.Flag)

	male := EvaluateRules(models.EvaluationInput{TestID: "hb", Value: "16", Patient: &models.PatientContext{Gender: "male", BirthDate: &birth}, At: evalTime}, rules)
	assert.Equal(t, models.FlagNormal, male.Flag)

	unknown := EvaluateRules(models.EvaluationInput{TestID: "hb", Value: "16", At: evalTime}, rules)
	assert.Equal(t, models.FlagNormal, unknown.Flag)
}

func TestEvaluateRulesAgeScopedRuleNeedsBirthDate(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "ped", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(5), AgeMaxYears: intPtr(12), Active: true},
	}
	child := evalTime.AddDate(-8, 0, 0)

	withAge := EvaluateRules(models.EvaluationInput{TestID: "k", Value: "5.5", Patient: &models.PatientContext{BirthDate: &child}, At: evalTime}, rules)
	assert.True(t, withAge.IsCritical)

	withoutAge := EvaluateRules(models.EvaluationInput{TestID: "k", Value: "5.5", At: evalTime}, rules)
	assert.False(t, withoutAge.IsCritical)
}

func TestEvaluateRulesWithoutInstantSkipsAgeScope(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "ped", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(5), AgeMaxYears: intPtr(12), Active: true},
		{ID: "adult", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(6), AgeMinYears: intPtr(18), Active: true},
	}
	born := time.Now().UTC().AddDate(-8, 0, 0)
	input := models.EvaluationInput{TestID: "k", Value: "5.5", Patient: &models.PatientContext{BirthDate: &born}}

	first := EvaluateRules(input, rules)
	second := EvaluateRules(input, rules)
	assert.False(t, first.IsCritical)
	assert.Equal(t, first, second)
}

func TestEvaluateRulesInactiveRulesIgnored(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "off", RuleType: models.RuleTypeAbsurd, AbsurdHigh: floatPtr(1), Active: false},
	}
	outcome := EvaluateRules(models.EvaluationInput{TestID: "t", Value: "50", At: evalTime}, rules)
	assert.True(t, outcome.IsValid)
}

func TestEvaluateRulesNonNumericValue(t *testing.T) {
	outcome := EvaluateRules(models.EvaluationInput{TestID: "glucose", Value: "high", At: evalTime}, nil)
	assert.False(t, outcome.IsValid)
	assert.Equal(t, []string{`value "high" is not numeric`}, outcome.Errors)
}

func TestEvaluateRulesEmptyValue(t *testing.T) {
	outcome := EvaluateRules(models.EvaluationInput{TestID: "glucose", Value: "  ", At: evalTime}, nil)
	assert.False(t, outcome.IsValid)
	assert.Equal(t, []string{"value is required"}, outcome.Errors)
}

func TestEvaluateRulesQualitative(t *testing.T) {
	rr := &models.ReferenceRange{ResultType: models.ResultTypeQualitative, AllowedValues: []string{"Negative", "Positive"}}

	ok := EvaluateRules(models.EvaluationInput{TestID: "hcg", Value: "negative", ReferenceRange: rr, At: evalTime}, nil)
	assert.True(t, ok.IsValid)

	bad := EvaluateRules(models.EvaluationInput{TestID: "hcg", Value: "maybe", ReferenceRange: rr, At: evalTime}, nil)
	assert.False(t, bad.IsValid)
	require.Len(t, bad.Errors, 1)
	assert.Contains(t, bad.Errors[0], "Negative, Positive")
}

func TestEvaluateRulesConfigurationWarnings(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "crit-empty", RuleType: models.RuleTypeCritical, Active: true},
		{ID: "delta-empty", RuleType: models.RuleTypeDelta, Active: true},
	}
	input := models.EvaluationInput{
		TestID:         "sodium",
		Value:          "140",
		ReferenceRange: &models.ReferenceRange{Unit: "mmol/L"},
		At:             evalTime,
	}

	outcome := EvaluateRules(input, rules)
	assert.True(t, outcome.IsValid)
	assert.Len(t, outcome.ConfigurationWarnings, 3)
	assert.Equal(t, outcome.ConfigurationWarnings, outcome.Warnings)
}

func TestEvaluateRulesIsIdempotent(t *testing.T) {
	rules := []models.ValidationRule{
		{ID: "d", RuleType: models.RuleTypeDelta, DeltaThreshold: floatPtr(10), DeltaType: models.DeltaTypePercent, Active: true},
		{ID: "c", RuleType: models.RuleTypeCritical, CriticalHigh: floatPtr(6), Active: true},
		{ID: "a", RuleType: models.RuleTypeAbsurd, AbsurdHigh: floatPtr(20), Active: true},
	}
	input := models.EvaluationInput{
		TestID:         "potassium",
		Value:          "6.2",
		ReferenceRange: &models.ReferenceRange{Low: floatPtr(3.5), High: floatPtr(5.1)},
		PriorValues:    []models.PriorValue{{ResultID: "p", Value: "4.0", EnteredAt: evalTime.Add(-time.Hour)}},
		At:             evalTime,
	}

	first := EvaluateRules(input, rules)
	second := EvaluateRules(input, rules)
	assert.Equal(t, first, second)
	assert.Equal(t, "6.2", input.Value)
	assert.Equal(t, "d", rules[0].ID)
}
