package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

// ChangeRequest describes a value change to be written to a result's history.
type ChangeRequest struct {
	NewValue   string
	NewFlag    models.ResultFlag
	Actor      string
	ReasonCode string
	Notes      string
}

// AmendmentRecorder appends immutable change records to a result.
type AmendmentRecorder struct {
	clock Clock
}

// NewAmendmentRecorder constructs the recorder.
func NewAmendmentRecorder(clock Clock) *AmendmentRecorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AmendmentRecorder{clock: clock}
}

// RecordChange appends one record for the change and returns it. Edits of a finalized
// result are amendments and need a reason code; earlier edits are corrections.
func (r *AmendmentRecorder) RecordChange(result *models.TestResult, change ChangeRequest) (models.Amendment, error) {
	var kind models.ChangeKind
	switch {
	case result.Status.IsPostFinal():
		kind = models.ChangeKindAmendment
	case result.Status.IsPreFinal():
		kind = models.ChangeKindCorrection
	default:
		return models.Amendment{}, appErrors.WithDetails(appErrors.ErrInvalidTransition,
			fmt.Sprintf("value of a %s result cannot be changed", result.Status),
			map[string]interface{}{"status": result.Status})
	}

	if strings.TrimSpace(change.Actor) == "" {
		return models.Amendment{}, appErrors.Clone(appErrors.ErrValidation, "actor is required")
	}

	code, detail := models.ParseReasonCode(change.ReasonCode)
	if kind == models.ChangeKindAmendment && code == "" {
		return models.Amendment{}, appErrors.WithDetails(appErrors.ErrValidation,
			"reasonCode is required to amend a finalized result",
			map[string]interface{}{"missingFields": []string{"reasonCode"}})
	}

	timestamp := r.clock.Now().UTC()
	seq := 1
	if n := len(result.Amendments); n > 0 {
		last := result.Amendments[n-1]
		seq = last.Seq + 1
		if timestamp.Before(last.Timestamp) {
			timestamp = last.Timestamp
		}
	}

	amendment := models.Amendment{
		Seq:           seq,
		Kind:          kind,
		Timestamp:     timestamp,
		Actor:         change.Actor,
		PreviousValue: result.Value,
		NewValue:      change.NewValue,
		PreviousFlag:  result.Flag,
		NewFlag:       change.NewFlag,
		ReasonCode:    code,
		ReasonDetail:  detail,
		Notes:         strings.TrimSpace(change.Notes),
	}
	result.Amendments = append(result.Amendments, amendment)
	return amendment, nil
}
