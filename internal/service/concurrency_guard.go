package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/lab-result-api/internal/models"
	"github.com/noah-isme/lab-result-api/internal/repository"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

const defaultMaxConflictRetries = 3

// ResultStore is the document store holding results.
type ResultStore interface {
	Create(ctx context.Context, result *models.TestResult) error
	GetByID(ctx context.Context, id string) (*models.TestResult, error)
	List(ctx context.Context, filter models.ResultFilter) ([]models.TestResult, int, error)
	History(ctx context.Context, id string) ([]models.Amendment, error)
	InTx(ctx context.Context, fn func(tx repository.ResultTx) error) error
}

// TransitionFunc computes the next state of current inside the guard's transaction.
type TransitionFunc func(ctx context.Context, tx repository.ResultTx, current *models.TestResult) (*models.TestResult, error)

// ConcurrencyGuard is the only writer of existing results. Each write is conditional on
// the version the caller read.
type ConcurrencyGuard struct {
	store      ResultStore
	maxRetries int
	metrics    *MetricsService
	logger     *zap.Logger
}

// NewConcurrencyGuard constructs the guard.
func NewConcurrencyGuard(store ResultStore, maxRetries int, metrics *MetricsService, logger *zap.Logger) *ConcurrencyGuard {
	if maxRetries <= 0 {
		maxRetries = defaultMaxConflictRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConcurrencyGuard{store: store, maxRetries: maxRetries, metrics: metrics, logger: logger}
}

// ApplyTransition reads the result, checks expectedVersion, runs fn and writes the result
// back in one transaction. A stale expectedVersion fails at once; store-level write
// conflicts are retried up to the configured bound. Errors returned by fn are never retried.
func (g *ConcurrencyGuard) ApplyTransition(ctx context.Context, resultID string, expectedVersion int64, fn TransitionFunc) (*models.TestResult, error) {
	for attempt := 0; ; attempt++ {
		var committed *models.TestResult
		err := g.store.InTx(ctx, func(tx repository.ResultTx) error {
			current, err := tx.Get(ctx, resultID)
			if err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return staleVersion(resultID, expectedVersion, current.Version)
			}
			next, err := fn(ctx, tx, current)
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, next, expectedVersion); err != nil {
				return err
			}
			committed = next
			return nil
		})
		if err == nil {
			return committed, nil
		}

		if errors.Is(err, repository.ErrVersionConflict) && attempt < g.maxRetries && ctx.Err() == nil {
			g.metrics.RecordConflict("retried")
			g.logger.Debug("retrying result write after store conflict",
				zap.String("result_id", resultID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil, g.translate(resultID, err)
	}
}

func (g *ConcurrencyGuard) translate(resultID string, err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("result %s not found", resultID))
	case errors.Is(err, repository.ErrVersionConflict):
		g.metrics.RecordConflict("surfaced")
		return appErrors.Wrap(err, appErrors.ErrVersionConflict.Code, appErrors.ErrVersionConflict.Status, appErrors.ErrVersionConflict.Message)
	case errors.As(err, &appErr):
		if appErr.Code == appErrors.ErrVersionConflict.Code {
			g.metrics.RecordConflict("surfaced")
		}
		return appErr
	default:
		g.logger.Error("result store failure", zap.String("result_id", resultID), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, appErrors.ErrPersistence.Message)
	}
}

func staleVersion(resultID string, expected, current int64) error {
	return appErrors.WithDetails(appErrors.ErrVersionConflict,
		fmt.Sprintf("result %s is at version %d, not %d; re-read and retry", resultID, current, expected),
		map[string]interface{}{"expectedVersion": expected, "currentVersion": current})
}
