package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lab-result-api/internal/models"
)

// ErrVersionConflict signals that a conditional write lost against a concurrent change.
var ErrVersionConflict = errors.New("result version conflict")

// ResultTx is the read-modify-write view of the store inside one transaction.
type ResultTx interface {
	Get(ctx context.Context, id string) (*models.TestResult, error)
	PriorValues(ctx context.Context, patientID, testID, excludeID string) ([]models.PriorValue, error)
	Put(ctx context.Context, result *models.TestResult, expectedVersion int64) error
}

const defaultPriorLimit = 20

// ResultRepository stores results as JSON documents with an append-only amendment ledger.
type ResultRepository struct {
	db         *sqlx.DB
	priorLimit int
}

// NewResultRepository constructs the repository.
func NewResultRepository(db *sqlx.DB, priorLimit int) *ResultRepository {
	if priorLimit <= 0 {
		priorLimit = defaultPriorLimit
	}
	return &ResultRepository{db: db, priorLimit: priorLimit}
}

type resultRow struct {
	Document []byte `db:"document"`
	Version  int64  `db:"version"`
}

type amendmentRow struct {
	Seq      int    `db:"seq"`
	Document []byte `db:"document"`
}

type resultQueryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Create inserts a new result at version 1.
func (r *ResultRepository) Create(ctx context.Context, result *models.TestResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = result.CreatedAt
	result.Version = 1
	if result.Amendments == nil {
		result.Amendments = []models.Amendment{}
	}

	doc, err := encodeResult(result)
	if err != nil {
		return err
	}
	const query = `INSERT INTO test_results
	(id, tenant_id, order_id, sample_id, patient_id, test_id, value, flag, status, version, entered_at, document, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := r.db.ExecContext(ctx, query,
		result.ID, result.TenantID, result.OrderID, result.SampleID, result.PatientID, result.TestID,
		result.Value, string(result.Flag), string(result.Status), result.Version, result.EnteredAt, doc,
		result.CreatedAt, result.UpdatedAt,
	); err != nil {
		return translateConflict(fmt.Errorf("create result: %w", err))
	}
	return nil
}

// GetByID fetches a result and its amendment history.
func (r *ResultRepository) GetByID(ctx context.Context, id string) (*models.TestResult, error) {
	return getResult(ctx, r.db, id)
}

// History returns the amendment ledger of a result ordered by sequence.
func (r *ResultRepository) History(ctx context.Context, id string) ([]models.Amendment, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM test_results WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("check result %s: %w", id, err)
	}
	if !exists {
		return nil, sql.ErrNoRows
	}
	return listAmendments(ctx, r.db, id)
}

// List returns results matching the filter, most recently entered first, plus the total count.
func (r *ResultRepository) List(ctx context.Context, filter models.ResultFilter) ([]models.TestResult, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.TestID != "" {
		args = append(args, filter.TestID)
		conditions = append(conditions, fmt.Sprintf("test_id = $%d", len(args)))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM test_results"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT document, version FROM test_results%s ORDER BY entered_at DESC NULLS LAST, id DESC LIMIT %d OFFSET %d", where, limit, offset)

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	results := make([]models.TestResult, 0, len(rows))
	for _, row := range rows {
		result, err := decodeResult(row)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, *result)
	}
	return results, total, nil
}

// InTx runs fn inside a repeatable-read transaction so the prior-value reads and the
// conditional write observe one snapshot. Serialization failures surface as ErrVersionConflict.
func (r *ResultRepository) InTx(ctx context.Context, fn func(tx ResultTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlResultTx{tx: tx, priorLimit: r.priorLimit}); err != nil {
		return translateConflict(err)
	}
	if err = tx.Commit(); err != nil {
		return translateConflict(fmt.Errorf("commit result tx: %w", err))
	}
	return nil
}

type sqlResultTx struct {
	tx         *sqlx.Tx
	priorLimit int
}

func (t *sqlResultTx) Get(ctx context.Context, id string) (*models.TestResult, error) {
	return getResult(ctx, t.tx, id)
}

func (t *sqlResultTx) PriorValues(ctx context.Context, patientID, testID, excludeID string) ([]models.PriorValue, error) {
	const query = `SELECT id, value, entered_at FROM test_results
	WHERE patient_id = $1 AND test_id = $2 AND id <> $3 AND status <> $4 AND entered_at IS NOT NULL
	ORDER BY entered_at DESC, id DESC LIMIT $5`
	var priors []models.PriorValue
	if err := t.tx.SelectContext(ctx, &priors, query, patientID, testID, excludeID, string(models.ResultStatusRejected), t.priorLimit); err != nil {
		return nil, fmt.Errorf("list prior values: %w", err)
	}
	// Oldest first so later entries win ties.
	for i, j := 0, len(priors)-1; i < j; i, j = i+1, j-1 {
		priors[i], priors[j] = priors[j], priors[i]
	}
	return priors, nil
}

func (t *sqlResultTx) Put(ctx context.Context, result *models.TestResult, expectedVersion int64) error {
	var lastSeq int
	if err := t.tx.GetContext(ctx, &lastSeq, `SELECT COALESCE(MAX(seq), 0) FROM result_amendments WHERE result_id = $1`, result.ID); err != nil {
		return fmt.Errorf("read amendment sequence: %w", err)
	}

	result.Version = expectedVersion + 1
	result.UpdatedAt = time.Now().UTC()
	doc, err := encodeResult(result)
	if err != nil {
		return err
	}

	const update = `UPDATE test_results SET value = $1, flag = $2, status = $3, version = $4, entered_at = $5, document = $6, updated_at = $7
	WHERE id = $8 AND version = $9`
	res, err := t.tx.ExecContext(ctx, update,
		result.Value, string(result.Flag), string(result.Status), result.Version, result.EnteredAt, doc, result.UpdatedAt,
		result.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check result update rows: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}

	const insert = `INSERT INTO result_amendments (result_id, seq, kind, recorded_at, actor, document) VALUES ($1, $2, $3, $4, $5, $6)`
	for _, amendment := range result.Amendments {
		if amendment.Seq <= lastSeq {
			continue
		}
		payload, err := json.Marshal(amendment)
		if err != nil {
			return fmt.Errorf("marshal amendment: %w", err)
		}
		if _, err := t.tx.ExecContext(ctx, insert, result.ID, amendment.Seq, string(amendment.Kind), amendment.Timestamp, amendment.Actor, payload); err != nil {
			return fmt.Errorf("append amendment %d: %w", amendment.Seq, err)
		}
	}
	return nil
}

func getResult(ctx context.Context, q resultQueryer, id string) (*models.TestResult, error) {
	var row resultRow
	if err := q.GetContext(ctx, &row, `SELECT document, version FROM test_results WHERE id = $1`, id); err != nil {
		return nil, err
	}
	result, err := decodeResult(row)
	if err != nil {
		return nil, err
	}
	amendments, err := listAmendments(ctx, q, id)
	if err != nil {
		return nil, err
	}
	result.Amendments = amendments
	return result, nil
}

func listAmendments(ctx context.Context, q resultQueryer, id string) ([]models.Amendment, error) {
	var rows []amendmentRow
	if err := q.SelectContext(ctx, &rows, `SELECT seq, document FROM result_amendments WHERE result_id = $1 ORDER BY seq`, id); err != nil {
		return nil, fmt.Errorf("list amendments: %w", err)
	}
	amendments := make([]models.Amendment, 0, len(rows))
	for _, row := range rows {
		var amendment models.Amendment
		if err := json.Unmarshal(row.Document, &amendment); err != nil {
			return nil, fmt.Errorf("decode amendment %d: %w", row.Seq, err)
		}
		amendment.Seq = row.Seq
		amendments = append(amendments, amendment)
	}
	return amendments, nil
}

// The ledger table is the source of truth for amendments; the document omits them.
func encodeResult(result *models.TestResult) ([]byte, error) {
	doc := *result
	doc.Amendments = nil
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}

func decodeResult(row resultRow) (*models.TestResult, error) {
	var result models.TestResult
	if err := json.Unmarshal(row.Document, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	result.Version = row.Version
	if result.Amendments == nil {
		result.Amendments = []models.Amendment{}
	}
	return &result, nil
}

// Serialization failures, deadlocks, and duplicate ledger rows all mean another writer won.
func translateConflict(err error) error {
	if err == nil || errors.Is(err, ErrVersionConflict) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", ErrVersionConflict, pqErr.Message)
		}
	}
	return err
}
