// Package memory provides an in-process persistence implementation backed by go-memdb.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/hashicorp/go-memdb"
)

const (
	tableWorkflows  = "workflows"
	tableExecutions = "executions"
	tableEntities   = "entities"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableWorkflows: {
				Name: tableWorkflows,
				Indexes: map[string]*memdb.IndexSchema{
					"id":  {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"key": {Name: "key", Unique: true, AllowMissing: true, Indexer: &memdb.StringFieldIndex{Field: "Key"}},
				},
			},
			tableExecutions: {
				Name: tableExecutions,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"pair": {Name: "pair", Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "WorkflowID"},
						&memdb.StringFieldIndex{Field: "EntityID"},
					}}},
					"status": {Name: "status", Indexer: &memdb.StringFieldIndex{Field: "Status"}},
				},
			},
			tableEntities: {
				Name: tableEntities,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Type"},
						&memdb.StringFieldIndex{Field: "ID"},
					}}},
				},
			},
		},
	}
}

// Persistence keeps everything in memory. Stored values are copies, callers never share state with the store.
type Persistence struct {
	db *memdb.MemDB

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	entityRepo    *EntityRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() (*Persistence, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}

	return &Persistence{
		db:            db,
		workflowRepo:  &WorkflowRepository{db: db},
		executionRepo: &ExecutionRepository{db: db},
		entityRepo:    &EntityRepository{db: db},
	}, nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) EntityRepository() persistence.EntityRepository {
	return p.entityRepo
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// clone deep-copies through the JSON representation so maps in contexts are never shared.
func clone[T any](in *T) (*T, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	var out T

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

type WorkflowRepository struct {
	db *memdb.MemDB
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableWorkflows, "key", workflow.Key)
	if err != nil {
		return fmt.Errorf("failed to lookup workflow key: %w", err)
	}

	if existing != nil && existing.(*models.WorkflowDefinition).ID != workflow.ID {
		return persistence.NewWorkflowError("Save", workflow.Key, persistence.ErrWorkflowKeyConflict)
	}

	stored, err := clone(workflow)
	if err != nil {
		return fmt.Errorf("failed to copy workflow %s: %w", workflow.ID, err)
	}

	err = txn.Insert(tableWorkflows, stored)
	if err != nil {
		return fmt.Errorf("failed to insert workflow %s: %w", workflow.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.first("GetByID", "id", id)
}

func (r *WorkflowRepository) GetByKey(_ context.Context, key string) (*models.WorkflowDefinition, error) {
	return r.first("GetByKey", "key", key)
}

func (r *WorkflowRepository) first(op, index, value string) (*models.WorkflowDefinition, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableWorkflows, index, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow %s: %w", value, err)
	}

	if raw == nil {
		return nil, persistence.NewWorkflowError(op, value, persistence.ErrWorkflowNotFound)
	}

	return clone(raw.(*models.WorkflowDefinition))
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableWorkflows, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.WorkflowDefinition, 0)

	for raw := it.Next(); raw != nil; raw = it.Next() {
		workflow := raw.(*models.WorkflowDefinition)
		if !opts.Match(workflow) {
			continue
		}

		copied, err := clone(workflow)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, copied)
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

type ExecutionRepository struct {
	db *memdb.MemDB
}

// Create runs the in-flight check and the insert inside one write transaction.
// memdb serializes write transactions, which makes the pair check atomic.
func (r *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := inflight(txn, execution.WorkflowID, execution.EntityID)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", existing.ID, persistence.ErrDuplicateExecution)
	}

	execution.Version = 1

	stored, err := clone(execution)
	if err != nil {
		return fmt.Errorf("failed to copy execution %s: %w", execution.ID, err)
	}

	err = txn.Insert(tableExecutions, stored)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableExecutions, "id", execution.ID)
	if err != nil {
		return fmt.Errorf("failed to query execution %s: %w", execution.ID, err)
	}

	if raw == nil {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	if raw.(*models.Execution).Version != execution.Version {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrConcurrentUpdate)
	}

	if execution.IsInflight() {
		other, err := inflight(txn, execution.WorkflowID, execution.EntityID)
		if err != nil {
			return err
		}

		if other != nil && other.ID != execution.ID {
			return persistence.NewExecutionError("Save", execution.ID, persistence.ErrDuplicateExecution)
		}
	}

	execution.Version++

	stored, err := clone(execution)
	if err != nil {
		execution.Version--

		return fmt.Errorf("failed to copy execution %s: %w", execution.ID, err)
	}

	err = txn.Insert(tableExecutions, stored)
	if err != nil {
		execution.Version--

		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	txn.Commit()

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableExecutions, "id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution %s: %w", id, err)
	}

	if raw == nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return clone(raw.(*models.Execution))
}

func (r *ExecutionRepository) FindInflight(_ context.Context, workflowID, entityID string) (*models.Execution, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	execution, err := inflight(txn, workflowID, entityID)
	if err != nil || execution == nil {
		return nil, err
	}

	return clone(execution)
}

func (r *ExecutionRepository) LatestTerminal(_ context.Context, workflowID, entityID string) (*models.Execution, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	pair, err := byPair(txn, workflowID, entityID)
	if err != nil {
		return nil, err
	}

	var latest *models.Execution

	for _, execution := range pair {
		if !execution.Status.IsTerminal() || execution.CompletedAt == nil {
			continue
		}

		if latest == nil || execution.CompletedAt.After(*latest.CompletedAt) {
			latest = execution
		}
	}

	if latest == nil {
		return nil, nil
	}

	return clone(latest)
}

func (r *ExecutionRepository) Count(_ context.Context, workflowID, entityID string) (int, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	pair, err := byPair(txn, workflowID, entityID)
	if err != nil {
		return 0, err
	}

	return len(pair), nil
}

func (r *ExecutionRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return r.collect(func(e *models.Execution) bool { return e.IsDue(now) }, func(a, b *models.Execution) bool {
		return a.NextScheduledAt.Before(b.NextScheduledAt)
	}, limit)
}

func (r *ExecutionRepository) Stalled(_ context.Context, updatedBefore time.Time, limit int) ([]*models.Execution, error) {
	return r.collect(func(e *models.Execution) bool {
		return e.Status == models.ExecutionStatusRunning && e.UpdatedAt.Before(updatedBefore)
	}, func(a, b *models.Execution) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}, limit)
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	return r.collect(opts.Match, func(a, b *models.Execution) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}, opts.Limit)
}

func (r *ExecutionRepository) collect(keep func(*models.Execution) bool, less func(a, b *models.Execution) bool, limit int) ([]*models.Execution, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableExecutions, "id")
	if err != nil {
		return nil, fmt.Errorf("failed to scan executions: %w", err)
	}

	matched := make([]*models.Execution, 0)

	for raw := it.Next(); raw != nil; raw = it.Next() {
		execution := raw.(*models.Execution)
		if keep(execution) {
			matched = append(matched, execution)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*models.Execution, 0, len(matched))

	for _, execution := range matched {
		copied, err := clone(execution)
		if err != nil {
			return nil, err
		}

		out = append(out, copied)
	}

	return out, nil
}

func byPair(txn *memdb.Txn, workflowID, entityID string) ([]*models.Execution, error) {
	it, err := txn.Get(tableExecutions, "pair", workflowID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for %s: %w", models.PairKey(workflowID, entityID), err)
	}

	executions := make([]*models.Execution, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		executions = append(executions, raw.(*models.Execution))
	}

	return executions, nil
}

func inflight(txn *memdb.Txn, workflowID, entityID string) (*models.Execution, error) {
	pair, err := byPair(txn, workflowID, entityID)
	if err != nil {
		return nil, err
	}

	for _, execution := range pair {
		if execution.IsInflight() {
			return execution, nil
		}
	}

	return nil, nil
}

type EntityRepository struct {
	db *memdb.MemDB
}

func (r *EntityRepository) Get(_ context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableEntities, "id", string(entityType), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s %s: %w", entityType, id, err)
	}

	if raw == nil {
		return nil, persistence.NewEntityError("Get", string(entityType), id, persistence.ErrEntityNotFound)
	}

	return clone(raw.(*models.Entity))
}

func (r *EntityRepository) Save(_ context.Context, entity *models.Entity) error {
	stored, err := clone(entity)
	if err != nil {
		return fmt.Errorf("failed to copy %s %s: %w", entity.Type, entity.ID, err)
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	err = txn.Insert(tableEntities, stored)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", entity.Type, entity.ID, err)
	}

	txn.Commit()

	return nil
}
