package repository

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// MemoryResultStore is an in-process result store used for local runs and tests.
// Transactions hold the store lock for their whole duration, so writers are serialized.
type MemoryResultStore struct {
	mu         sync.Mutex
	results    map[string]*models.TestResult
	priorLimit int
}

// NewMemoryResultStore constructs an empty store.
func NewMemoryResultStore(priorLimit int) *MemoryResultStore {
	if priorLimit <= 0 {
		priorLimit = defaultPriorLimit
	}
	return &MemoryResultStore{results: make(map[string]*models.TestResult), priorLimit: priorLimit}
}

// Create inserts a new result at version 1.
func (s *MemoryResultStore) Create(ctx context.Context, result *models.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if _, exists := s.results[result.ID]; exists {
		return ErrVersionConflict
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	result.UpdatedAt = result.CreatedAt
	result.Version = 1
	if result.Amendments == nil {
		result.Amendments = []models.Amendment{}
	}
	s.results[result.ID] = result.Clone()
	return nil
}

// GetByID returns a copy of the stored result.
func (s *MemoryResultStore) GetByID(ctx context.Context, id string) (*models.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// History returns a copy of the amendment ledger.
func (s *MemoryResultStore) History(ctx context.Context, id string) ([]models.Amendment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	history := make([]models.Amendment, len(result.Amendments))
	copy(history, result.Amendments)
	return history, nil
}

// List returns results matching the filter, most recently entered first.
func (s *MemoryResultStore) List(ctx context.Context, filter models.ResultFilter) ([]models.TestResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[models.ResultStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}

	matched := make([]*models.TestResult, 0, len(s.results))
	for _, result := range s.results {
		if filter.PatientID != "" && result.PatientID != filter.PatientID {
			continue
		}
		if filter.TestID != "" && result.TestID != filter.TestID {
			continue
		}
		if filter.OrderID != "" && result.OrderID != filter.OrderID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[result.Status]; !ok {
				continue
			}
		}
		matched = append(matched, result)
	}
	sort.Slice(matched, func(i, j int) bool {
		return enteredBefore(matched[j], matched[i])
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	results := make([]models.TestResult, 0, end-offset)
	for _, result := range matched[offset:end] {
		results = append(results, *result.Clone())
	}
	return results, total, nil
}

// InTx runs fn with exclusive access; staged writes are applied only when fn succeeds.
func (s *MemoryResultStore) InTx(ctx context.Context, fn func(tx ResultTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryResultTx{store: s, staged: make(map[string]*models.TestResult)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, result := range tx.staged {
		s.results[id] = result
	}
	return nil
}

func (s *MemoryResultStore) get(id string) (*models.TestResult, error) {
	result, ok := s.results[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return result.Clone(), nil
}

type memoryResultTx struct {
	store  *MemoryResultStore
	staged map[string]*models.TestResult
}

func (t *memoryResultTx) current(id string) (*models.TestResult, bool) {
	if staged, ok := t.staged[id]; ok {
		return staged, true
	}
	result, ok := t.store.results[id]
	return result, ok
}

func (t *memoryResultTx) Get(ctx context.Context, id string) (*models.TestResult, error) {
	result, ok := t.current(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return result.Clone(), nil
}

func (t *memoryResultTx) PriorValues(ctx context.Context, patientID, testID, excludeID string) ([]models.PriorValue, error) {
	candidates := make([]*models.TestResult, 0)
	for id := range t.store.results {
		result, _ := t.current(id)
		if result.ID == excludeID || result.PatientID != patientID || result.TestID != testID {
			continue
		}
		if result.Status == models.ResultStatusRejected || result.EnteredAt == nil {
			continue
		}
		candidates = append(candidates, result)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return enteredBefore(candidates[i], candidates[j])
	})
	if len(candidates) > t.store.priorLimit {
		candidates = candidates[len(candidates)-t.store.priorLimit:]
	}
	priors := make([]models.PriorValue, 0, len(candidates))
	for _, result := range candidates {
		priors = append(priors, models.PriorValue{ResultID: result.ID, Value: result.Value, EnteredAt: *result.EnteredAt})
	}
	return priors, nil
}

func (t *memoryResultTx) Put(ctx context.Context, result *models.TestResult, expectedVersion int64) error {
	current, ok := t.current(result.ID)
	if !ok {
		return sql.ErrNoRows
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	// The ledger only grows: every stored entry must survive unchanged.
	if len(result.Amendments) < len(current.Amendments) {
		return ErrVersionConflict
	}
	for i := range current.Amendments {
		if result.Amendments[i] != current.Amendments[i] {
			return ErrVersionConflict
		}
	}
	result.Version = expectedVersion + 1
	result.UpdatedAt = time.Now().UTC()
	t.staged[result.ID] = result.Clone()
	return nil
}

// enteredBefore orders by entry time then id, with unentered results first.
func enteredBefore(a, b *models.TestResult) bool {
	switch {
	case a.EnteredAt == nil && b.EnteredAt == nil:
		return a.ID < b.ID
	case a.EnteredAt == nil:
		return true
	case b.EnteredAt == nil:
		return false
	case !a.EnteredAt.Equal(*b.EnteredAt):
		return a.EnteredAt.Before(*b.EnteredAt)
	default:
		return a.ID < b.ID
	}
}

// MemoryRuleRepository serves validation rules from memory.
type MemoryRuleRepository struct {
	mu    sync.RWMutex
	rules map[string][]models.ValidationRule
}

// NewMemoryRuleRepository constructs a repository seeded with the given rules.
func NewMemoryRuleRepository(rules ...models.ValidationRule) *MemoryRuleRepository {
	repo := &MemoryRuleRepository{rules: make(map[string][]models.ValidationRule)}
	repo.Seed(rules...)
	return repo
}

// Seed adds rules, assigning identifiers when missing.
func (r *MemoryRuleRepository) Seed(rules ...models.ValidationRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		if rule.Action == "" {
			rule.Action = models.RuleActionWarn
		}
		key := strings.TrimSpace(rule.TestID)
		r.rules[key] = append(r.rules[key], rule)
	}
}

// ListActiveByTest returns active rules configured for a test.
func (r *MemoryRuleRepository) ListActiveByTest(ctx context.Context, testID string) ([]models.ValidationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules := make([]models.ValidationRule, 0, len(r.rules[testID]))
	for _, rule := range r.rules[testID] {
		if rule.Active {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// MemoryAuditRepository keeps audit entries in memory.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

// NewMemoryAuditRepository constructs an empty audit log.
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

// Create appends an audit entry.
func (r *MemoryAuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, *entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *MemoryAuditRepository) Entries() []models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditLog(nil), r.entries...)
}
