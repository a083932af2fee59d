package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lab-result-api/internal/dto"
	"github.com/noah-isme/lab-result-api/internal/models"
	"github.com/noah-isme/lab-result-api/internal/repository"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

// AuditWriter persists audit trail entries.
type AuditWriter interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// ResultServiceOptions carries the optional collaborators of ResultService.
type ResultServiceOptions struct {
	Clock      Clock
	Validator  *validator.Validate
	Metrics    *MetricsService
	Audit      AuditWriter
	Notifier   NotificationDispatcher
	AuditTrail bool
	Logger     *zap.Logger
}

// ResultService is the entry point of the result engine. Transition is the only
// operation that changes an existing result.
type ResultService struct {
	store      ResultStore
	guard      *ConcurrencyGuard
	lifecycle  *ResultLifecycle
	rules      *RuleService
	clock      Clock
	validator  *validator.Validate
	metrics    *MetricsService
	audit      AuditWriter
	notifier   NotificationDispatcher
	auditTrail bool
	logger     *zap.Logger
}

// NewResultService constructs the service.
func NewResultService(store ResultStore, guard *ConcurrencyGuard, lifecycle *ResultLifecycle, rules *RuleService, opts ResultServiceOptions) *ResultService {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotificationDispatcher(opts.Logger)
	}
	return &ResultService{
		store:      store,
		guard:      guard,
		lifecycle:  lifecycle,
		rules:      rules,
		clock:      opts.Clock,
		validator:  opts.Validator,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		notifier:   opts.Notifier,
		auditTrail: opts.AuditTrail,
		logger:     opts.Logger,
	}
}

// Create registers a pending result and, when a value is supplied, enters it.
func (s *ResultService) Create(ctx context.Context, req dto.CreateResultRequest, actor string) (*dto.TransitionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result payload")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actor is required")
	}

	now := s.clock.Now().UTC()
	result := &models.TestResult{
		ID:                     strings.TrimSpace(req.ID),
		TenantID:               req.TenantID,
		OrderID:                req.OrderID,
		SampleID:               req.SampleID,
		PatientID:              req.PatientID,
		TestID:                 req.TestID,
		Unit:                   req.Unit,
		ReferenceRangeSnapshot: req.ReferenceRange.Clone(),
		Patient:                req.Patient,
		Status:                 models.ResultStatusPending,
		Flag:                   models.FlagNormal,
		Amendments:             []models.Amendment{},
		CreatedAt:              now,
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Unit == "" && result.ReferenceRangeSnapshot != nil {
		result.Unit = result.ReferenceRangeSnapshot.Unit
	}

	if err := s.store.Create(ctx, result); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrVersionConflict, fmt.Sprintf("result %s already exists", result.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to create result")
	}
	s.writeAudit(ctx, models.AuditActionResultCreate, actor, result.ID, nil, map[string]interface{}{
		"status":  result.Status,
		"testId":  result.TestID,
		"version": result.Version,
	})

	if req.Value == nil {
		return &dto.TransitionResponse{Result: result}, nil
	}
	resp, err := s.Transition(ctx, result.ID, dto.TransitionRequest{
		Event:           models.EventEnterValue,
		ExpectedVersion: result.Version,
		Payload:         models.TransitionPayload{NewValue: req.Value},
	}, actor)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr != nil {
			return nil, appErrors.WithDetails(appErr, "", map[string]interface{}{"resultId": result.ID, "version": result.Version})
		}
		return nil, err
	}
	return resp, nil
}

// Get returns one result.
func (s *ResultService) Get(ctx context.Context, id string) (*models.TestResult, error) {
	result, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, id, "failed to load result")
	}
	return result, nil
}

// List returns a page of results.
func (s *ResultService) List(ctx context.Context, query dto.ResultQuery) ([]models.TestResult, *models.Pagination, error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	results, total, err := s.store.List(ctx, models.ResultFilter{
		PatientID: query.PatientID,
		TestID:    query.TestID,
		OrderID:   query.OrderID,
		Status:    query.Status,
		Limit:     size,
		Offset:    (page - 1) * size,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list results")
	}
	return results, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetHistory returns the amendment ledger of a result in recorded order.
func (s *ResultService) GetHistory(ctx context.Context, id string) ([]models.Amendment, error) {
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, storeError(err, id, "failed to load result history")
	}
	return history, nil
}

// Evaluate scores a candidate value without side effects on any result.
func (s *ResultService) Evaluate(ctx context.Context, req dto.EvaluateRequest) (models.ValidationOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.ValidationOutcome{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}
	at := s.clock.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}
	return s.rules.Evaluate(ctx, models.EvaluationInput{
		TestID:         req.TestID,
		Value:          req.Value,
		PatientID:      req.PatientID,
		ReferenceRange: req.ReferenceRange,
		PriorValues:    req.PriorValues,
		Patient:        req.Patient,
		At:             at,
	})
}

// Transition applies one lifecycle event. The read, the evaluation against prior values,
// and the conditional write share one store transaction.
func (s *ResultService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*dto.TransitionResponse, error) {
	start := time.Now()
	if req.ExpectedVersion <= 0 {
		return nil, missingFields("expectedVersion is required; read the result and pass its version", "expectedVersion")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	cmd := TransitionCommand{Event: req.Event, Payload: req.Payload, Actor: strings.TrimSpace(actor)}
	var decision *TransitionDecision
	var previous models.TestResult
	result, err := s.guard.ApplyTransition(ctx, id, req.ExpectedVersion, func(ctx context.Context, tx repository.ResultTx, current *models.TestResult) (*models.TestResult, error) {
		evaluate, err := s.evaluatorFor(ctx, tx, current, req.Event)
		if err != nil {
			return nil, err
		}
		d, err := s.lifecycle.Apply(current, cmd, evaluate)
		if err != nil {
			return nil, err
		}
		decision = d
		previous = *current
		return d.Next, nil
	})
	s.metrics.ObserveTransition(string(req.Event), outcomeCode(err), time.Since(start))
	if err != nil {
		s.logger.Info("result transition refused",
			zap.String("result_id", id),
			zap.String("event", string(req.Event)),
			zap.String("actor", cmd.Actor),
			zap.String("code", outcomeCode(err)),
		)
		return nil, err
	}

	s.writeAudit(ctx, models.AuditActionResultTransition, cmd.Actor, result.ID,
		map[string]interface{}{"status": previous.Status, "value": previous.Value, "flag": previous.Flag, "version": previous.Version},
		map[string]interface{}{"event": req.Event, "status": result.Status, "value": result.Value, "flag": result.Flag, "version": result.Version},
	)
	for _, notificationType := range decision.Notifications {
		s.notifier.Dispatch(ctx, models.ResultNotification{
			ID:         uuid.NewString(),
			Type:       notificationType,
			ResultID:   result.ID,
			TenantID:   result.TenantID,
			PatientID:  result.PatientID,
			TestID:     result.TestID,
			Status:     result.Status,
			Flag:       result.Flag,
			Value:      result.Value,
			Version:    result.Version,
			Actor:      cmd.Actor,
			OccurredAt: s.clock.Now().UTC(),
		})
	}

	return &dto.TransitionResponse{Result: result, Outcome: decision.Outcome, Change: decision.Amendment}, nil
}

// evaluatorFor resolves rules and prior values only for events that re-run the evaluator.
func (s *ResultService) evaluatorFor(ctx context.Context, tx repository.ResultTx, current *models.TestResult, event models.TransitionEvent) (Evaluator, error) {
	switch event {
	case models.EventEnterValue, models.EventEditValue, models.EventVerify, models.EventApprove, models.EventAmend:
	default:
		return func(string) models.ValidationOutcome {
			return models.ValidationOutcome{IsValid: true, Flag: current.Flag}
		}, nil
	}

	rules, err := s.rules.RulesForTest(ctx, current.TestID)
	if err != nil {
		return nil, err
	}
	priors, err := tx.PriorValues(ctx, current.PatientID, current.TestID, current.ID)
	if err != nil {
		return nil, err
	}
	at := s.clock.Now().UTC()
	if current.EnteredAt != nil {
		at = *current.EnteredAt
	}
	return func(value string) models.ValidationOutcome {
		return s.rules.EvaluateWith(models.EvaluationInput{
			TestID:         current.TestID,
			Value:          value,
			PatientID:      current.PatientID,
			ReferenceRange: current.ReferenceRangeSnapshot,
			PriorValues:    priors,
			Patient:        current.Patient,
			At:             at,
		}, rules)
	}, nil
}

// Audit entries are best effort; the transition has already committed.
func (s *ResultService) writeAudit(ctx context.Context, action, actor, resultID string, before, after map[string]interface{}) {
	if !s.auditTrail || s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   models.AuditResourceResult,
		ResourceID: &resultID,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if actor != "" {
		entry.UserID = &actor
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("result_id", resultID), zap.String("action", action), zap.Error(err))
	}
}

func storeError(err error, id, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("result %s not found", id))
	}
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, message)
}

func outcomeCode(err error) string {
	if err == nil {
		return "ok"
	}
	return appErrors.FromError(err).Code
}
