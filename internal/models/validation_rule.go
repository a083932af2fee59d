package models

import "time"

// RuleType enumerates validation rule families.
type RuleType string

const (
	RuleTypeRange    RuleType = "range"
	RuleTypeCritical RuleType = "critical"
	RuleTypeAbsurd   RuleType = "absurd"
	RuleTypeDelta    RuleType = "delta"
)

// RuleAction decides whether a rule hit blocks or only warns.
type RuleAction string

const (
	RuleActionWarn  RuleAction = "warn"
	RuleActionBlock RuleAction = "block"
)

// DeltaType selects how a delta change is measured.
type DeltaType string

const (
	DeltaTypeAbsolute DeltaType = "absolute"
	DeltaTypePercent  DeltaType = "percent"
)

// ValidationRule is the per-test configuration of one rule type.
type ValidationRule struct {
	ID               string     `db:"id" json:"id"`
	TestID           string     `db:"test_id" json:"testId"`
	RuleType         RuleType   `db:"rule_type" json:"ruleType"`
	MinValue         *float64   `db:"min_value" json:"minValue,omitempty"`
	MaxValue         *float64   `db:"max_value" json:"maxValue,omitempty"`
	CriticalLow      *float64   `db:"critical_low" json:"criticalLow,omitempty"`
	CriticalHigh     *float64   `db:"critical_high" json:"criticalHigh,omitempty"`
	AbsurdLow        *float64   `db:"absurd_low" json:"absurdLow,omitempty"`
	AbsurdHigh       *float64   `db:"absurd_high" json:"absurdHigh,omitempty"`
	DeltaThreshold   *float64   `db:"delta_threshold" json:"deltaThreshold,omitempty"`
	DeltaType        DeltaType  `db:"delta_type" json:"deltaType,omitempty"`
	DeltaWindowHours *int       `db:"delta_window_hours" json:"deltaWindowHours,omitempty"`
	Gender           string     `db:"gender" json:"gender,omitempty"`
	AgeMinYears      *int       `db:"age_min_years" json:"ageMinYears,omitempty"`
	AgeMaxYears      *int       `db:"age_max_years" json:"ageMaxYears,omitempty"`
	Action           RuleAction `db:"action" json:"action"`
	Active           bool       `db:"active" json:"active"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// Blocks reports whether a hit on this rule refuses the value.
func (r ValidationRule) Blocks() bool {
	return r.Action == RuleActionBlock
}

// DeltaCheck describes the comparison against the prior value.
type DeltaCheck struct {
	PriorResultID string    `json:"priorResultId"`
	PriorValue    string    `json:"priorValue"`
	Change        string    `json:"change"`
	Type          DeltaType `json:"type"`
	Threshold     string    `json:"threshold"`
	Exceeded      bool      `json:"exceeded"`
}

// ValidationOutcome is the merged verdict of every applicable rule.
type ValidationOutcome struct {
	IsValid               bool         `json:"isValid"`
	IsCritical            bool         `json:"isCritical"`
	RequiresReview        bool         `json:"requiresReview"`
	Flag                  ResultFlag   `json:"flag"`
	Flags                 []ResultFlag `json:"flags"`
	Warnings              []string     `json:"warnings"`
	Errors                []string     `json:"errors"`
	ConfigurationWarnings []string     `json:"configurationWarnings,omitempty"`
	Delta                 *DeltaCheck  `json:"delta,omitempty"`
}

// Clone returns a deep copy of the outcome.
func (o *ValidationOutcome) Clone() *ValidationOutcome {
	if o == nil {
		return nil
	}
	out := *o
	out.Flags = append([]ResultFlag(nil), o.Flags...)
	out.Warnings = append([]string(nil), o.Warnings...)
	out.Errors = append([]string(nil), o.Errors...)
	out.ConfigurationWarnings = append([]string(nil), o.ConfigurationWarnings...)
	if o.Delta != nil {
		d := *o.Delta
		out.Delta = &d
	}
	return &out
}

// EvaluationInput is everything the evaluator needs for one candidate value.
type EvaluationInput struct {
	TestID         string
	Value          string
	PatientID      string
	ReferenceRange *ReferenceRange
	PriorValues    []PriorValue
	Patient        *PatientContext
	// At is the evaluation instant used for patient age and the delta window. When zero,
	// age-scoped rules are skipped and priors are not filtered by time.
	At time.Time
}
