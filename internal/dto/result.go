package dto

import (
	"time"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// CreateResultRequest registers a result for an ordered test. When Value is set the
// result is entered immediately.
type CreateResultRequest struct {
	ID             string                 `json:"id" validate:"omitempty,max=64"`
	TenantID       string                 `json:"tenantId" validate:"omitempty,max=64"`
	OrderID        string                 `json:"orderId" validate:"required,max=64"`
	SampleID       string                 `json:"sampleId" validate:"required,max=64"`
	PatientID      string                 `json:"patientId" validate:"required,max=64"`
	TestID         string                 `json:"testId" validate:"required,max=64"`
	Unit           string                 `json:"unit" validate:"omitempty,max=32"`
	ReferenceRange *models.ReferenceRange `json:"referenceRange"`
	Patient        *models.PatientContext `json:"patient"`
	Value          *string                `json:"value"`
}

// TransitionRequest asks for one lifecycle event on a result.
type TransitionRequest struct {
	Event           models.TransitionEvent   `json:"event" validate:"required,oneof=enter_value mark_preliminary submit_for_review edit_value reject request_senior_review record_notification verify approve amend"`
	ExpectedVersion int64                    `json:"expectedVersion" validate:"required,min=1"`
	Payload         models.TransitionPayload `json:"payload"`
}

// EvaluateRequest runs the rule evaluator without touching any result.
type EvaluateRequest struct {
	TestID         string                 `json:"testId" validate:"required"`
	Value          string                 `json:"value"`
	PatientID      string                 `json:"patientId"`
	ReferenceRange *models.ReferenceRange `json:"referenceRange"`
	PriorValues    []models.PriorValue    `json:"priorValues"`
	Patient        *models.PatientContext `json:"patient"`
	At             *time.Time             `json:"at"`
}

// ResultQuery filters result listings.
type ResultQuery struct {
	PatientID string
	TestID    string
	OrderID   string
	Status    []models.ResultStatus
	Page      int
	PageSize  int
}

// TransitionResponse pairs the updated result with the evaluation that gated it.
type TransitionResponse struct {
	Result  *models.TestResult        `json:"result"`
	Outcome *models.ValidationOutcome `json:"outcome,omitempty"`
	Change  *models.Amendment         `json:"change,omitempty"`
}
