package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-result-api/internal/models"
)

func enteredResult(id, patientID, testID, value string, at time.Time, status models.ResultStatus) *models.TestResult {
	entered := at
	return &models.TestResult{ID: id, PatientID: patientID, TestID: testID, Value: value, Status: status, EnteredAt: &entered}
}

func TestMemoryResultStoreCreateAndGetReturnsCopies(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	result := &models.TestResult{ID: "res-1", PatientID: "pat-1", TestID: "glucose", Status: models.ResultStatusPending}
	require.NoError(t, store.Create(ctx, result))
	assert.Equal(t, int64(1), result.Version)

	found, err := store.GetByID(ctx, "res-1")
	require.NoError(t, err)
	found.Value = "mutated"

	again, err := store.GetByID(ctx, "res-1")
	require.NoError(t, err)
	assert.Empty(t, again.Value)

	_, err = store.GetByID(ctx, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestMemoryResultStoreFailedTxLeavesStateUntouched(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.TestResult{ID: "res-1", Status: models.ResultStatusPending}))

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx ResultTx) error {
		current, err := tx.Get(ctx, "res-1")
		require.NoError(t, err)
		current.Status = models.ResultStatusEntered
		require.NoError(t, tx.Put(ctx, current, 1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := store.GetByID(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusPending, found.Status)
	assert.Equal(t, int64(1), found.Version)
}

func TestMemoryResultStorePutChecksVersionAndLedger(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.TestResult{ID: "res-1", Status: models.ResultStatusEntered}))

	err := store.InTx(ctx, func(tx ResultTx) error {
		current, _ := tx.Get(ctx, "res-1")
		current.Amendments = append(current.Amendments, models.Amendment{Seq: 1, Kind: models.ChangeKindCorrection})
		return tx.Put(ctx, current, 1)
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx ResultTx) error {
		current, _ := tx.Get(ctx, "res-1")
		return tx.Put(ctx, current, 1)
	})
	assert.True(t, errors.Is(err, ErrVersionConflict))

	err = store.InTx(ctx, func(tx ResultTx) error {
		current, _ := tx.Get(ctx, "res-1")
		current.Amendments = nil
		return tx.Put(ctx, current, current.Version)
	})
	assert.True(t, errors.Is(err, ErrVersionConflict))

	history, err := store.History(ctx, "res-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemoryResultStorePriorValues(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, enteredResult("a", "pat-1", "crea", "4.1", base, models.ResultStatusFinal)))
	require.NoError(t, store.Create(ctx, enteredResult("b", "pat-1", "crea", "4.5", base.Add(time.Hour), models.ResultStatusFinal)))
	require.NoError(t, store.Create(ctx, enteredResult("c", "pat-1", "crea", "9.9", base.Add(2*time.Hour), models.ResultStatusRejected)))
	require.NoError(t, store.Create(ctx, enteredResult("d", "pat-2", "crea", "1.0", base, models.ResultStatusFinal)))
	require.NoError(t, store.Create(ctx, &models.TestResult{ID: "e", PatientID: "pat-1", TestID: "crea", Status: models.ResultStatusPending}))

	var priors []models.PriorValue
	require.NoError(t, store.InTx(ctx, func(tx ResultTx) error {
		var err error
		priors, err = tx.PriorValues(ctx, "pat-1", "crea", "e")
		return err
	}))
	require.Len(t, priors, 2)
	assert.Equal(t, "a", priors[0].ResultID)
	assert.Equal(t, "b", priors[1].ResultID)
}

func TestMemoryResultStoreListFiltersAndPaginates(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, enteredResult("a", "pat-1", "glu", "90", base, models.ResultStatusFinal)))
	require.NoError(t, store.Create(ctx, enteredResult("b", "pat-1", "glu", "95", base.Add(time.Hour), models.ResultStatusFinal)))
	require.NoError(t, store.Create(ctx, enteredResult("c", "pat-1", "glu", "99", base.Add(2*time.Hour), models.ResultStatusEntered)))

	results, total, err := store.List(ctx, models.ResultFilter{PatientID: "pat-1", Status: []models.ResultStatus{models.ResultStatusFinal}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestMemoryResultStoreSerializesWriters(t *testing.T) {
	store := NewMemoryResultStore(10)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &models.TestResult{ID: "res-1", Status: models.ResultStatusPendingReview}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.InTx(ctx, func(tx ResultTx) error {
				current, err := tx.Get(ctx, "res-1")
				if err != nil {
					return err
				}
				current.Status = models.ResultStatusFinal
				return tx.Put(ctx, current, 1)
			})
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, ErrVersionConflict) {
			conflicts++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)
}

func TestMemoryRuleRepositoryReturnsActiveRules(t *testing.T) {
	high := 6.0
	repo := NewMemoryRuleRepository(
		models.ValidationRule{TestID: "k", RuleType: models.RuleTypeCritical, CriticalHigh: &high, Active: true},
		models.ValidationRule{TestID: "k", RuleType: models.RuleTypeRange, Active: false},
	)
	rules, err := repo.ListActiveByTest(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.NotEmpty(t, rules[0].ID)
	assert.Equal(t, models.RuleActionWarn, rules[0].Action)
}
