package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// Messages surfaced by the evaluator. Callers and clients match on these strings.
const (
	msgValueRequired      = "value is required"
	msgAboveRange         = "above reference range"
	msgBelowRange         = "below reference range"
	msgAbsurdHigh         = "value %s is above the physiologically possible limit %s"
	msgAbsurdLow          = "value %s is below the physiologically possible limit %s"
	msgCriticalHigh       = "critical high: value %s is above %s"
	msgCriticalLow        = "critical low: value %s is below %s"
	msgNotNumeric         = "value %q is not numeric"
	msgNotAllowed         = "value %q is not one of the allowed values: %s"
	msgDeltaPercent       = "delta check: %s%% change from previous value %s exceeds %s%%"
	msgDeltaAbsolute      = "delta check: change of %s from previous value %s exceeds %s"
	msgRuleMissingBounds  = "%s rule %s for test %s has no bounds; rule skipped"
	msgRuleMissingDelta   = "delta rule %s for test %s has no threshold; rule skipped"
	msgRangeMissingBounds = "reference range for test %s has no bounds; range check skipped"
	msgNoAllowedValues    = "qualitative reference range for test %s lists no allowed values"
)

var ruleTypeOrder = map[models.RuleType]int{
	models.RuleTypeAbsurd:   0,
	models.RuleTypeCritical: 1,
	models.RuleTypeRange:    2,
	models.RuleTypeDelta:    3,
}

// EvaluateRules computes the merged verdict of rules for one candidate value.
// It has no side effects and returns identical outcomes for identical inputs.
func EvaluateRules(input models.EvaluationInput, rules []models.ValidationRule) models.ValidationOutcome {
	e := &evaluation{input: input, outcome: models.ValidationOutcome{IsValid: true}}
	e.run(applicableRules(input, rules))
	return e.finish()
}

type evaluation struct {
	input   models.EvaluationInput
	outcome models.ValidationOutcome
	flags   []models.ResultFlag
}

func (e *evaluation) run(rules []models.ValidationRule) {
	value := strings.TrimSpace(e.input.Value)
	if value == "" {
		e.block(msgValueRequired)
		return
	}

	switch e.input.ReferenceRange.Kind() {
	case models.ResultTypeQualitative:
		e.checkAllowedValues(value)
		return
	case models.ResultTypeText:
		return
	}

	candidate, err := decimal.NewFromString(value)
	if err != nil {
		e.block(fmt.Sprintf(msgNotNumeric, value))
		return
	}

	var rangeRules, deltaRules []models.ValidationRule
	for _, rule := range rules {
		switch rule.RuleType {
		case models.RuleTypeAbsurd:
			e.checkAbsurd(candidate, rule)
		case models.RuleTypeCritical:
			e.checkCritical(candidate, rule)
		case models.RuleTypeRange:
			rangeRules = append(rangeRules, rule)
		case models.RuleTypeDelta:
			deltaRules = append(deltaRules, rule)
		}
	}
	e.checkRange(candidate, rangeRules)
	for _, rule := range deltaRules {
		e.checkDelta(candidate, rule)
	}
}

func (e *evaluation) checkAllowedValues(value string) {
	allowed := e.input.ReferenceRange.AllowedValues
	if len(allowed) == 0 {
		e.configWarning(fmt.Sprintf(msgNoAllowedValues, e.input.TestID))
		return
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), value) {
			return
		}
	}
	e.block(fmt.Sprintf(msgNotAllowed, value, strings.Join(allowed, ", ")))
}

// Absurd hits always block, whatever the rule's configured action.
func (e *evaluation) checkAbsurd(v decimal.Decimal, rule models.ValidationRule) {
	if rule.AbsurdLow == nil && rule.AbsurdHigh == nil {
		e.configWarning(fmt.Sprintf(msgRuleMissingBounds, rule.RuleType, rule.ID, e.input.TestID))
		return
	}
	if high := bound(rule.AbsurdHigh); high != nil && v.GreaterThan(*high) {
		e.flag(models.FlagAbsurd)
		e.block(fmt.Sprintf(msgAbsurdHigh, v.String(), high.String()))
	}
	if low := bound(rule.AbsurdLow); low != nil && v.LessThan(*low) {
		e.flag(models.FlagAbsurd)
		e.block(fmt.Sprintf(msgAbsurdLow, v.String(), low.String()))
	}
}

// Critical hits never block; they demand review and notification.
func (e *evaluation) checkCritical(v decimal.Decimal, rule models.ValidationRule) {
	if rule.CriticalLow == nil && rule.CriticalHigh == nil {
		e.configWarning(fmt.Sprintf(msgRuleMissingBounds, rule.RuleType, rule.ID, e.input.TestID))
		return
	}
	if high := bound(rule.CriticalHigh); high != nil && v.GreaterThanOrEqual(*high) {
		e.critical(models.FlagCriticalHigh, fmt.Sprintf(msgCriticalHigh, v.String(), high.String()))
	}
	if low := bound(rule.CriticalLow); low != nil && v.LessThanOrEqual(*low) {
		e.critical(models.FlagCriticalLow, fmt.Sprintf(msgCriticalLow, v.String(), low.String()))
	}
}

func (e *evaluation) critical(flag models.ResultFlag, message string) {
	e.flag(flag)
	e.outcome.IsCritical = true
	e.outcome.RequiresReview = true
	e.warn(message)
}

// checkRange uses the most specific applicable range rule, falling back to the
// reference range copied onto the result.
func (e *evaluation) checkRange(v decimal.Decimal, rules []models.ValidationRule) {
	var low, high *decimal.Decimal
	blocks := false
	switch {
	case len(rules) > 0:
		rule := mostSpecific(rules)
		if rule.MinValue == nil && rule.MaxValue == nil {
			e.configWarning(fmt.Sprintf(msgRuleMissingBounds, rule.RuleType, rule.ID, e.input.TestID))
			return
		}
		low, high, blocks = bound(rule.MinValue), bound(rule.MaxValue), rule.Blocks()
	case e.input.ReferenceRange != nil:
		if !e.input.ReferenceRange.HasBounds() {
			e.configWarning(fmt.Sprintf(msgRangeMissingBounds, e.input.TestID))
			return
		}
		low, high = bound(e.input.ReferenceRange.Low), bound(e.input.ReferenceRange.High)
	default:
		return
	}

	report := e.warn
	if blocks {
		report = e.block
	}
	if high != nil && v.GreaterThan(*high) {
		if !e.has(models.FlagCriticalHigh) {
			e.flag(models.FlagAbnormalHigh)
		}
		report(msgAboveRange)
	}
	if low != nil && v.LessThan(*low) {
		if !e.has(models.FlagCriticalLow) {
			e.flag(models.FlagAbnormalLow)
		}
		report(msgBelowRange)
	}
}

func (e *evaluation) checkDelta(v decimal.Decimal, rule models.ValidationRule) {
	if rule.DeltaThreshold == nil {
		e.configWarning(fmt.Sprintf(msgRuleMissingDelta, rule.ID, e.input.TestID))
		return
	}
	prior, prev, ok := e.mostRecentPrior(rule.DeltaWindowHours)
	if !ok {
		return
	}
	threshold := decimal.NewFromFloat(*rule.DeltaThreshold)
	deltaType := rule.DeltaType
	if deltaType == "" {
		deltaType = models.DeltaTypeAbsolute
	}

	var change decimal.Decimal
	var message string
	switch deltaType {
	case models.DeltaTypePercent:
		if prev.IsZero() {
			return
		}
		change = v.Sub(prev).Div(prev.Abs()).Mul(decimal.NewFromInt(100))
		message = fmt.Sprintf(msgDeltaPercent, change.StringFixed(1), prior.Value, threshold.String())
	default:
		change = v.Sub(prev)
		message = fmt.Sprintf(msgDeltaAbsolute, change.String(), prior.Value, threshold.String())
	}

	exceeded := change.Abs().GreaterThan(threshold)
	check := &models.DeltaCheck{
		PriorResultID: prior.ResultID,
		PriorValue:    prior.Value,
		Change:        change.StringFixed(2),
		Type:          deltaType,
		Threshold:     threshold.String(),
		Exceeded:      exceeded,
	}
	if e.outcome.Delta == nil || (exceeded && !e.outcome.Delta.Exceeded) {
		e.outcome.Delta = check
	}
	if !exceeded {
		return
	}
	e.outcome.RequiresReview = true
	if rule.Blocks() {
		e.block(message)
		return
	}
	e.warn(message)
}

// mostRecentPrior picks the latest numeric prior entered no later than the candidate;
// on equal timestamps the later list entry wins.
func (e *evaluation) mostRecentPrior(windowHours *int) (models.PriorValue, decimal.Decimal, bool) {
	var (
		best    models.PriorValue
		bestVal decimal.Decimal
		found   bool
	)
	at := e.input.At
	for _, prior := range e.input.PriorValues {
		if !at.IsZero() {
			if prior.EnteredAt.After(at) {
				continue
			}
			if windowHours != nil && *windowHours > 0 && at.Sub(prior.EnteredAt) > time.Duration(*windowHours)*time.Hour {
				continue
			}
		}
		parsed, err := decimal.NewFromString(strings.TrimSpace(prior.Value))
		if err != nil {
			continue
		}
		if !found || !prior.EnteredAt.Before(best.EnteredAt) {
			best, bestVal, found = prior, parsed, true
		}
	}
	return best, bestVal, found
}

func (e *evaluation) block(message string) {
	e.outcome.IsValid = false
	e.outcome.Errors = append(e.outcome.Errors, message)
}

func (e *evaluation) warn(message string) {
	e.outcome.Warnings = append(e.outcome.Warnings, message)
}

func (e *evaluation) configWarning(message string) {
	e.outcome.ConfigurationWarnings = append(e.outcome.ConfigurationWarnings, message)
	e.outcome.Warnings = append(e.outcome.Warnings, message)
}

func (e *evaluation) flag(flag models.ResultFlag) {
	if !e.has(flag) {
		e.flags = append(e.flags, flag)
	}
}

func (e *evaluation) has(flag models.ResultFlag) bool {
	for _, f := range e.flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (e *evaluation) finish() models.ValidationOutcome {
	flags := append([]models.ResultFlag(nil), e.flags...)
	if len(flags) == 0 {
		flags = []models.ResultFlag{models.FlagNormal}
	}
	sort.SliceStable(flags, func(i, j int) bool {
		return flags[i].Severity() > flags[j].Severity()
	})

	out := e.outcome
	out.Flags = flags
	out.Flag = flags[0]
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}

// applicableRules keeps active rules whose demographic scope matches the patient,
// ordered by evaluation priority then id. A zero input.At leaves the age unknown, so
// age-scoped rules do not apply.
func applicableRules(input models.EvaluationInput, rules []models.ValidationRule) []models.ValidationRule {
	at := input.At
	out := make([]models.ValidationRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if _, known := ruleTypeOrder[rule.RuleType]; !known {
			continue
		}
		if !inScope(rule, input.Patient, at) {
			continue
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ruleTypeOrder[out[i].RuleType] != ruleTypeOrder[out[j].RuleType] {
			return ruleTypeOrder[out[i].RuleType] < ruleTypeOrder[out[j].RuleType]
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func inScope(rule models.ValidationRule, patient *models.PatientContext, at time.Time) bool {
	if gender := strings.ToLower(strings.TrimSpace(rule.Gender)); gender != "" && gender != "any" {
		if patient.NormalizedGender() != gender {
			return false
		}
	}
	if rule.AgeMinYears == nil && rule.AgeMaxYears == nil {
		return true
	}
	age, ok := patient.AgeYears(at)
	if !ok {
		return false
	}
	if rule.AgeMinYears != nil && age < *rule.AgeMinYears {
		return false
	}
	if rule.AgeMaxYears != nil && age > *rule.AgeMaxYears {
		return false
	}
	return true
}

func specificity(rule models.ValidationRule) int {
	score := 0
	if g := strings.TrimSpace(rule.Gender); g != "" && !strings.EqualFold(g, "any") {
		score++
	}
	if rule.AgeMinYears != nil || rule.AgeMaxYears != nil {
		score++
	}
	return score
}

func mostSpecific(rules []models.ValidationRule) models.ValidationRule {
	best := rules[0]
	for _, rule := range rules[1:] {
		if specificity(rule) > specificity(best) {
			best = rule
		}
	}
	return best
}

func bound(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
