package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

// Evaluator scores a candidate value for the result being transitioned.
type Evaluator func(value string) models.ValidationOutcome

// TransitionCommand is a requested lifecycle event.
type TransitionCommand struct {
	Event   models.TransitionEvent
	Payload models.TransitionPayload
	Actor   string
}

// TransitionDecision is the computed next state of a result.
type TransitionDecision struct {
	Next          *models.TestResult
	Outcome       *models.ValidationOutcome
	Amendment     *models.Amendment
	Notifications []models.NotificationType
}

type transitionRule struct {
	from []models.ResultStatus
	to   models.ResultStatus
	// keep leaves the status unchanged.
	keep bool
}

var preFinalEditable = []models.ResultStatus{
	models.ResultStatusEntered,
	models.ResultStatusPreliminary,
	models.ResultStatusPendingReview,
	models.ResultStatusCorrected,
}

var transitionTable = map[models.TransitionEvent]transitionRule{
	models.EventEnterValue: {
		from: []models.ResultStatus{models.ResultStatusPending},
		to:   models.ResultStatusEntered,
	},
	models.EventMarkPreliminary: {
		from: []models.ResultStatus{models.ResultStatusEntered, models.ResultStatusCorrected},
		to:   models.ResultStatusPreliminary,
	},
	models.EventSubmitForReview: {
		from: []models.ResultStatus{models.ResultStatusEntered, models.ResultStatusPreliminary, models.ResultStatusCorrected},
		to:   models.ResultStatusPendingReview,
	},
	models.EventEditValue: {
		from: preFinalEditable,
		to:   models.ResultStatusCorrected,
	},
	models.EventReject: {
		from: preFinalEditable,
		to:   models.ResultStatusRejected,
	},
	models.EventRequestSeniorReview: {
		from: []models.ResultStatus{models.ResultStatusPendingReview},
		keep: true,
	},
	models.EventRecordNotification: {
		from: []models.ResultStatus{models.ResultStatusPendingReview, models.ResultStatusVerified},
		keep: true,
	},
	models.EventVerify: {
		from: []models.ResultStatus{models.ResultStatusPendingReview},
		to:   models.ResultStatusVerified,
	},
	models.EventApprove: {
		from: []models.ResultStatus{models.ResultStatusPendingReview, models.ResultStatusVerified},
		to:   models.ResultStatusFinal,
	},
	models.EventAmend: {
		from: []models.ResultStatus{models.ResultStatusFinal, models.ResultStatusAmended},
		to:   models.ResultStatusAmended,
	},
}

// ResultLifecycle enforces the result state machine. It computes next states only;
// persisting them is the concurrency guard's job.
type ResultLifecycle struct {
	recorder            *AmendmentRecorder
	clock               Clock
	requireOverrideNote bool
}

// NewResultLifecycle constructs the state machine.
func NewResultLifecycle(recorder *AmendmentRecorder, clock Clock, requireOverrideNote bool) *ResultLifecycle {
	if clock == nil {
		clock = SystemClock{}
	}
	if recorder == nil {
		recorder = NewAmendmentRecorder(clock)
	}
	return &ResultLifecycle{recorder: recorder, clock: clock, requireOverrideNote: requireOverrideNote}
}

// Target reports the status an event leads to from the given status.
func (l *ResultLifecycle) Target(from models.ResultStatus, event models.TransitionEvent) (models.ResultStatus, bool) {
	rule, ok := transitionTable[event]
	if !ok || !containsStatus(rule.from, from) {
		return "", false
	}
	if rule.keep {
		return from, true
	}
	return rule.to, true
}

// Apply validates cmd against the current state and returns the next state.
// current is never modified.
func (l *ResultLifecycle) Apply(current *models.TestResult, cmd TransitionCommand, evaluate Evaluator) (*TransitionDecision, error) {
	if strings.TrimSpace(cmd.Actor) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor is required")
	}
	target, ok := l.Target(current.Status, cmd.Event)
	if !ok {
		return nil, invalidTransition(current.Status, cmd.Event)
	}

	next := current.Clone()
	decision := &TransitionDecision{Next: next}
	now := l.clock.Now().UTC()
	p := cmd.Payload

	switch cmd.Event {
	case models.EventEnterValue:
		value := next.Value
		if p.NewValue != nil {
			value = strings.TrimSpace(*p.NewValue)
		}
		outcome := evaluate(value)
		if !outcome.IsValid {
			return nil, validationBlocked(outcome)
		}
		next.Value = value
		next.Flag = outcome.Flag
		next.EnteredBy = cmd.Actor
		next.EnteredAt = &now
		l.attachOutcome(decision, outcome)

	case models.EventMarkPreliminary, models.EventSubmitForReview:

	case models.EventEditValue:
		value, err := changedValue(current, p)
		if err != nil {
			return nil, err
		}
		outcome := evaluate(value)
		if !outcome.IsValid {
			return nil, validationBlocked(outcome)
		}
		amendment, err := l.recorder.RecordChange(next, ChangeRequest{
			NewValue:   value,
			NewFlag:    outcome.Flag,
			Actor:      cmd.Actor,
			ReasonCode: p.ReasonCode,
			Notes:      p.Notes,
		})
		if err != nil {
			return nil, err
		}
		next.Value = value
		next.Flag = outcome.Flag
		next.CorrectedBy = cmd.Actor
		next.CorrectedAt = &now
		// A corrected value needs a fresh critical call and review decision.
		next.CriticalNotification = nil
		next.ReviewOverride = nil
		decision.Amendment = &amendment
		l.attachOutcome(decision, outcome)

	case models.EventReject:
		reason := strings.TrimSpace(p.RejectionReason)
		if reason == "" {
			return nil, missingFields("rejectionReason is required to reject a result", "rejectionReason")
		}
		next.RejectedBy = cmd.Actor
		next.RejectedAt = &now
		next.RejectionReason = reason

	case models.EventRequestSeniorReview:
		next.SeniorReview = &models.SeniorReview{RequestedBy: cmd.Actor, RequestedAt: now, Notes: strings.TrimSpace(p.Notes)}

	case models.EventRecordNotification:
		if missing := missingAckFields(p); len(missing) > 0 {
			return nil, missingFields("notifiedPerson and notificationTime are required", missing...)
		}
		next.CriticalNotification = notificationFrom(p, cmd.Actor, now)

	case models.EventVerify, models.EventApprove:
		outcome := evaluate(current.Value)
		if outcome.IsCritical {
			ack, err := acknowledgment(current, p, cmd.Actor, now)
			if err != nil {
				return nil, err
			}
			next.CriticalNotification = ack
		}
		// An override recorded at verification carries over to approval.
		if !outcome.IsValid && (p.Override || current.ReviewOverride == nil) {
			override, err := l.override(outcome, p, cmd.Actor, now)
			if err != nil {
				return nil, err
			}
			next.ReviewOverride = override
		}
		next.Flag = outcome.Flag
		if cmd.Event == models.EventVerify || next.VerifiedBy == "" {
			next.VerifiedBy = cmd.Actor
			next.VerifiedAt = &now
		}
		if cmd.Event == models.EventApprove {
			next.FinalizedBy = cmd.Actor
			next.FinalizedAt = &now
			decision.Notifications = append(decision.Notifications, models.NotificationResultFinalized)
		}
		l.attachOutcome(decision, outcome)

	case models.EventAmend:
		if strings.TrimSpace(p.ReasonCode) == "" {
			return nil, missingFields("reasonCode is required to amend a finalized result", "reasonCode")
		}
		value, err := changedValue(current, p)
		if err != nil {
			return nil, err
		}
		outcome := evaluate(value)
		if !outcome.IsValid {
			return nil, validationBlocked(outcome)
		}
		amendment, err := l.recorder.RecordChange(next, ChangeRequest{
			NewValue:   value,
			NewFlag:    outcome.Flag,
			Actor:      cmd.Actor,
			ReasonCode: p.ReasonCode,
			Notes:      p.Notes,
		})
		if err != nil {
			return nil, err
		}
		next.Value = value
		next.Flag = outcome.Flag
		next.AmendedBy = cmd.Actor
		next.AmendedAt = &now
		decision.Amendment = &amendment
		decision.Notifications = append(decision.Notifications, models.NotificationResultAmended)
		l.attachOutcome(decision, outcome)

	default:
		return nil, invalidTransition(current.Status, cmd.Event)
	}

	next.Status = target
	return decision, nil
}

func (l *ResultLifecycle) attachOutcome(decision *TransitionDecision, outcome models.ValidationOutcome) {
	decision.Outcome = &outcome
	decision.Next.LastOutcome = outcome.Clone()
	if outcome.IsCritical {
		decision.Notifications = append(decision.Notifications, models.NotificationResultCritical)
	}
}

func (l *ResultLifecycle) override(outcome models.ValidationOutcome, p models.TransitionPayload, actor string, now time.Time) (*models.ReviewOverride, error) {
	if !p.Override {
		return nil, validationBlocked(outcome)
	}
	note := strings.TrimSpace(p.OverrideNote)
	if note == "" && l.requireOverrideNote {
		return nil, missingFields("overrideNote is required to override blocking validation errors", "overrideNote")
	}
	return &models.ReviewOverride{Actor: actor, At: now, Note: note, Errors: append([]string(nil), outcome.Errors...)}, nil
}

func acknowledgment(current *models.TestResult, p models.TransitionPayload, actor string, now time.Time) (*models.CriticalNotification, error) {
	missing := missingAckFields(p)
	if len(missing) == 0 {
		return notificationFrom(p, actor, now), nil
	}
	if current.CriticalNotification != nil {
		ack := *current.CriticalNotification
		return &ack, nil
	}
	return nil, appErrors.WithDetails(appErrors.ErrCriticalAckRequired,
		"critical result requires notifiedPerson and notificationTime before approval",
		map[string]interface{}{"missingFields": missing})
}

func missingAckFields(p models.TransitionPayload) []string {
	missing := make([]string, 0, 2)
	if strings.TrimSpace(p.NotifiedPerson) == "" {
		missing = append(missing, "notifiedPerson")
	}
	if strings.TrimSpace(p.NotificationTime) == "" {
		missing = append(missing, "notificationTime")
	}
	return missing
}

func notificationFrom(p models.TransitionPayload, actor string, now time.Time) *models.CriticalNotification {
	return &models.CriticalNotification{
		NotifiedPerson:   strings.TrimSpace(p.NotifiedPerson),
		NotificationTime: strings.TrimSpace(p.NotificationTime),
		RecordedBy:       actor,
		RecordedAt:       now,
	}
}

func changedValue(current *models.TestResult, p models.TransitionPayload) (string, error) {
	if p.NewValue == nil {
		return "", missingFields("newValue is required", "newValue")
	}
	value := strings.TrimSpace(*p.NewValue)
	if value == current.Value {
		return "", appErrors.Clone(appErrors.ErrValidation, "newValue matches the current value")
	}
	return value, nil
}

func invalidTransition(status models.ResultStatus, event models.TransitionEvent) error {
	details := map[string]interface{}{"status": status, "event": event}
	var message string
	switch {
	case event == models.EventEditValue && status.IsPostFinal():
		message = "result is finalized; use amend to change its value"
	case status.IsTerminal():
		message = fmt.Sprintf("result is %s and accepts no further transitions", status)
	default:
		if _, known := transitionTable[event]; !known {
			message = fmt.Sprintf("unknown event %q", event)
		} else {
			message = fmt.Sprintf("event %s is not allowed from status %s", event, status)
		}
	}
	return appErrors.WithDetails(appErrors.ErrInvalidTransition, message, details)
}

func validationBlocked(outcome models.ValidationOutcome) error {
	return appErrors.WithDetails(appErrors.ErrValidationBlocked, strings.Join(outcome.Errors, "; "), map[string]interface{}{
		"errors":   outcome.Errors,
		"warnings": outcome.Warnings,
		"flags":    outcome.Flags,
	})
}

func missingFields(message string, fields ...string) error {
	return appErrors.WithDetails(appErrors.ErrValidation, message, map[string]interface{}{"missingFields": fields})
}

func containsStatus(list []models.ResultStatus, status models.ResultStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
