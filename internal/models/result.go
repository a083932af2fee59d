package models

import (
	"strings"
	"time"
)

// ResultStatus enumerates the lifecycle states of a test result.
type ResultStatus string

const (
	ResultStatusPending       ResultStatus = "pending"
	ResultStatusEntered       ResultStatus = "entered"
	ResultStatusPreliminary   ResultStatus = "preliminary"
	ResultStatusPendingReview ResultStatus = "pending_review"
	ResultStatusVerified      ResultStatus = "verified"
	ResultStatusFinal         ResultStatus = "final"
	ResultStatusRejected      ResultStatus = "rejected"
	ResultStatusAmended       ResultStatus = "amended"
	ResultStatusCorrected     ResultStatus = "corrected"
)

// ResultStatuses lists every status in lifecycle order.
var ResultStatuses = []ResultStatus{
	ResultStatusPending,
	ResultStatusEntered,
	ResultStatusPreliminary,
	ResultStatusPendingReview,
	ResultStatusVerified,
	ResultStatusFinal,
	ResultStatusRejected,
	ResultStatusAmended,
	ResultStatusCorrected,
}

// Valid reports whether the status is a known lifecycle state.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusPending, ResultStatusEntered, ResultStatusPreliminary, ResultStatusPendingReview,
		ResultStatusVerified, ResultStatusFinal, ResultStatusRejected, ResultStatusAmended, ResultStatusCorrected:
		return true
	}
	return false
}

// IsPreFinal reports whether edits in this state are corrections.
func (s ResultStatus) IsPreFinal() bool {
	switch s {
	case ResultStatusEntered, ResultStatusPreliminary, ResultStatusPendingReview, ResultStatusCorrected:
		return true
	}
	return false
}

// IsPostFinal reports whether edits in this state are amendments.
func (s ResultStatus) IsPostFinal() bool {
	return s == ResultStatusFinal || s == ResultStatusAmended
}

// IsTerminal reports whether no event can leave this state.
func (s ResultStatus) IsTerminal() bool {
	return s == ResultStatusRejected
}

// ResultFlag classifies a value against its rules.
type ResultFlag string

const (
	FlagNormal       ResultFlag = "normal"
	FlagAbnormalLow  ResultFlag = "abnormal_low"
	FlagAbnormalHigh ResultFlag = "abnormal_high"
	FlagCriticalLow  ResultFlag = "critical_low"
	FlagCriticalHigh ResultFlag = "critical_high"
	FlagAbsurd       ResultFlag = "absurd"
)

// Severity orders flags from least to most severe.
func (f ResultFlag) Severity() int {
	switch f {
	case FlagAbsurd:
		return 3
	case FlagCriticalLow, FlagCriticalHigh:
		return 2
	case FlagAbnormalLow, FlagAbnormalHigh:
		return 1
	default:
		return 0
	}
}

// ResultType describes how a test's value is interpreted.
type ResultType string

const (
	ResultTypeNumeric     ResultType = "numeric"
	ResultTypeQualitative ResultType = "qualitative"
	ResultTypeText        ResultType = "text"
)

// ReferenceRange is the reference data copied onto a result at entry time.
type ReferenceRange struct {
	ResultType    ResultType `json:"resultType,omitempty"`
	Low           *float64   `json:"low,omitempty"`
	High          *float64   `json:"high,omitempty"`
	Unit          string     `json:"unit,omitempty"`
	Text          string     `json:"text,omitempty"`
	AllowedValues []string   `json:"allowedValues,omitempty"`
}

// Kind returns the effective result type, defaulting to numeric.
func (r *ReferenceRange) Kind() ResultType {
	if r == nil || r.ResultType == "" {
		return ResultTypeNumeric
	}
	return r.ResultType
}

// HasBounds reports whether at least one numeric bound is configured.
func (r *ReferenceRange) HasBounds() bool {
	return r != nil && (r.Low != nil || r.High != nil)
}

// Clone returns a deep copy of the range.
func (r *ReferenceRange) Clone() *ReferenceRange {
	if r == nil {
		return nil
	}
	out := *r
	out.Low = cloneFloat(r.Low)
	out.High = cloneFloat(r.High)
	if r.AllowedValues != nil {
		out.AllowedValues = append([]string(nil), r.AllowedValues...)
	}
	return &out
}

// PatientContext carries the demographics used to scope range rules.
type PatientContext struct {
	Gender    string     `json:"gender,omitempty"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
}

// AgeYears returns the patient's age in whole years at the given instant.
func (p *PatientContext) AgeYears(at time.Time) (int, bool) {
	if p == nil || p.BirthDate == nil || at.Before(*p.BirthDate) {
		return 0, false
	}
	b := p.BirthDate.UTC()
	at = at.UTC()
	years := at.Year() - b.Year()
	if at.Month() < b.Month() || (at.Month() == b.Month() && at.Day() < b.Day()) {
		years--
	}
	return years, true
}

// NormalizedGender lowercases the gender for rule matching and expands m/f.
func (p *PatientContext) NormalizedGender() string {
	if p == nil {
		return ""
	}
	switch g := strings.ToLower(strings.TrimSpace(p.Gender)); g {
	case "m":
		return "male"
	case "f":
		return "female"
	default:
		return g
	}
}

// CriticalNotification records who was told about a critical value and when.
type CriticalNotification struct {
	NotifiedPerson   string    `json:"notifiedPerson"`
	NotificationTime string    `json:"notificationTime"`
	RecordedBy       string    `json:"recordedBy"`
	RecordedAt       time.Time `json:"recordedAt"`
}

// SeniorReview annotates a pending review with an escalation request.
type SeniorReview struct {
	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
	Notes       string    `json:"notes,omitempty"`
}

// ReviewOverride records a reviewer accepting a value the evaluator would block.
type ReviewOverride struct {
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
	Note   string    `json:"note"`
	Errors []string  `json:"errors"`
}

// TestResult is one measured or observed value for one test on one sample.
type TestResult struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	OrderID   string `json:"orderId"`
	SampleID  string `json:"sampleId"`
	PatientID string `json:"patientId"`
	TestID    string `json:"testId"`

	Value                  string          `json:"value"`
	Unit                   string          `json:"unit,omitempty"`
	ReferenceRangeSnapshot *ReferenceRange `json:"referenceRangeSnapshot,omitempty"`
	Flag                   ResultFlag      `json:"flag,omitempty"`
	Status                 ResultStatus    `json:"status"`

	EnteredBy       string     `json:"enteredBy,omitempty"`
	EnteredAt       *time.Time `json:"enteredAt,omitempty"`
	VerifiedBy      string     `json:"verifiedBy,omitempty"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
	FinalizedBy     string     `json:"finalizedBy,omitempty"`
	FinalizedAt     *time.Time `json:"finalizedAt,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	CorrectedBy     string     `json:"correctedBy,omitempty"`
	CorrectedAt     *time.Time `json:"correctedAt,omitempty"`
	AmendedBy       string     `json:"amendedBy,omitempty"`
	AmendedAt       *time.Time `json:"amendedAt,omitempty"`

	CriticalNotification *CriticalNotification `json:"criticalNotification,omitempty"`
	SeniorReview         *SeniorReview         `json:"seniorReview,omitempty"`
	ReviewOverride       *ReviewOverride       `json:"reviewOverride,omitempty"`
	LastOutcome          *ValidationOutcome    `json:"lastOutcome,omitempty"`
	Patient              *PatientContext       `json:"patient,omitempty"`

	Amendments []Amendment `json:"amendments"`
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy so callers can compute a next state without touching the stored one.
func (r *TestResult) Clone() *TestResult {
	if r == nil {
		return nil
	}
	out := *r
	out.ReferenceRangeSnapshot = r.ReferenceRangeSnapshot.Clone()
	out.EnteredAt = cloneTime(r.EnteredAt)
	out.VerifiedAt = cloneTime(r.VerifiedAt)
	out.FinalizedAt = cloneTime(r.FinalizedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	out.CorrectedAt = cloneTime(r.CorrectedAt)
	out.AmendedAt = cloneTime(r.AmendedAt)
	if r.CriticalNotification != nil {
		cn := *r.CriticalNotification
		out.CriticalNotification = &cn
	}
	if r.SeniorReview != nil {
		sr := *r.SeniorReview
		out.SeniorReview = &sr
	}
	if r.ReviewOverride != nil {
		ro := *r.ReviewOverride
		ro.Errors = append([]string(nil), r.ReviewOverride.Errors...)
		out.ReviewOverride = &ro
	}
	out.LastOutcome = r.LastOutcome.Clone()
	if r.Patient != nil {
		p := *r.Patient
		p.BirthDate = cloneTime(r.Patient.BirthDate)
		out.Patient = &p
	}
	out.Amendments = make([]Amendment, len(r.Amendments))
	copy(out.Amendments, r.Amendments)
	return &out
}

// TransitionEvent names a requested lifecycle change.
type TransitionEvent string

const (
	EventEnterValue          TransitionEvent = "enter_value"
	EventMarkPreliminary     TransitionEvent = "mark_preliminary"
	EventSubmitForReview     TransitionEvent = "submit_for_review"
	EventEditValue           TransitionEvent = "edit_value"
	EventReject              TransitionEvent = "reject"
	EventRequestSeniorReview TransitionEvent = "request_senior_review"
	EventRecordNotification  TransitionEvent = "record_notification"
	EventVerify              TransitionEvent = "verify"
	EventApprove             TransitionEvent = "approve"
	EventAmend               TransitionEvent = "amend"
)

// TransitionEvents lists every supported event.
var TransitionEvents = []TransitionEvent{
	EventEnterValue,
	EventMarkPreliminary,
	EventSubmitForReview,
	EventEditValue,
	EventReject,
	EventRequestSeniorReview,
	EventRecordNotification,
	EventVerify,
	EventApprove,
	EventAmend,
}

// TransitionPayload carries the event-specific inputs of a transition.
type TransitionPayload struct {
	NewValue         *string `json:"newValue,omitempty"`
	ReasonCode       string  `json:"reasonCode,omitempty"`
	Notes            string  `json:"notes,omitempty"`
	RejectionReason  string  `json:"rejectionReason,omitempty"`
	NotifiedPerson   string  `json:"notifiedPerson,omitempty"`
	NotificationTime string  `json:"notificationTime,omitempty"`
	Override         bool    `json:"override,omitempty"`
	OverrideNote     string  `json:"overrideNote,omitempty"`
}

// ResultFilter narrows result listings.
type ResultFilter struct {
	PatientID string
	TestID    string
	OrderID   string
	Status    []ResultStatus
	Limit     int
	Offset    int
}

// PriorValue is an earlier value of the same test for the same patient.
type PriorValue struct {
	ResultID  string    `json:"resultId" db:"id"`
	Value     string    `json:"value" db:"value"`
	EnteredAt time.Time `json:"enteredAt" db:"entered_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
