package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type executionDocument struct {
	ID              string     `bson:"_id"`
	WorkflowID      string     `bson:"workflow_id"`
	EntityID        string     `bson:"entity_id"`
	Status          string     `bson:"status"`
	InflightKey     string     `bson:"inflight_key,omitempty"`
	NextScheduledAt time.Time  `bson:"next_scheduled_at"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
	Version         int64      `bson:"version"`
	Body            bson.M     `bson:"body"`
}

func newExecutionDocument(execution *models.Execution) (*executionDocument, error) {
	body, err := toBSON(execution)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution %s: %w", execution.ID, err)
	}

	return &executionDocument{
		ID:              execution.ID,
		WorkflowID:      execution.WorkflowID,
		EntityID:        execution.EntityID,
		Status:          string(execution.Status),
		InflightKey:     execution.InflightKey(),
		NextScheduledAt: execution.NextScheduledAt,
		CompletedAt:     execution.CompletedAt,
		CreatedAt:       execution.CreatedAt,
		UpdatedAt:       execution.UpdatedAt,
		Version:         execution.Version,
		Body:            body,
	}, nil
}

func (d *executionDocument) execution() (*models.Execution, error) {
	var execution models.Execution

	err := fromBSON(d.Body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", d.ID, err)
	}

	execution.Version = d.Version

	return &execution, nil
}

type ExecutionRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// Create relies on the unique partial index over inflight_key for atomic duplicate suppression.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	execution.Version = 1

	doc, err := newExecutionDocument(execution)
	if err != nil {
		return err
	}

	_, err = r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewExecutionError("Create", execution.ID, persistence.ErrDuplicateExecution)
		}

		return fmt.Errorf("failed to insert execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	expected := execution.Version
	execution.Version = expected + 1

	doc, err := newExecutionDocument(execution)
	if err != nil {
		execution.Version = expected

		return err
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": execution.ID, "version": expected}, doc)
	if err != nil {
		execution.Version = expected

		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewExecutionError("Save", execution.ID, persistence.ErrDuplicateExecution)
		}

		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	if result.MatchedCount == 1 {
		return nil
	}

	execution.Version = expected

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": execution.ID})
	if err != nil {
		return fmt.Errorf("failed to check execution %s: %w", execution.ID, err)
	}

	if count == 0 {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("Save", execution.ID, persistence.ErrConcurrentUpdate)
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := r.findOne(ctx, bson.M{"_id": id}, nil)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (r *ExecutionRepository) FindInflight(ctx context.Context, workflowID, entityID string) (*models.Execution, error) {
	return r.findOne(ctx, bson.M{"inflight_key": models.PairKey(workflowID, entityID)}, nil)
}

func (r *ExecutionRepository) LatestTerminal(ctx context.Context, workflowID, entityID string) (*models.Execution, error) {
	filter := bson.M{
		"workflow_id":  workflowID,
		"entity_id":    entityID,
		"status":       bson.M{"$in": statusStrings(models.TerminalStatuses())},
		"completed_at": bson.M{"$exists": true},
	}

	return r.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "completed_at", Value: -1}}))
}

func (r *ExecutionRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.Execution, error) {
	var doc executionDocument

	var err error
	if opts != nil {
		err = r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.collection.FindOne(ctx, filter).Decode(&doc)
	}

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return doc.execution()
}

func (r *ExecutionRepository) Count(ctx context.Context, workflowID, entityID string) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"workflow_id": workflowID, "entity_id": entityID})
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}

	return int(count), nil
}

func (r *ExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	filter := bson.M{
		"status": bson.M{"$in": []string{
			string(models.ExecutionStatusPending),
			string(models.ExecutionStatusRetrying),
		}},
		"next_scheduled_at": bson.M{"$lte": now},
	}

	return r.find(ctx, filter, bson.D{{Key: "next_scheduled_at", Value: 1}}, limit)
}

func (r *ExecutionRepository) Stalled(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.Execution, error) {
	filter := bson.M{
		"status":     string(models.ExecutionStatusRunning),
		"updated_at": bson.M{"$lt": updatedBefore},
	}

	return r.find(ctx, filter, bson.D{{Key: "updated_at", Value: 1}}, limit)
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	filter := bson.M{}

	if opts.WorkflowID != "" {
		filter["workflow_id"] = opts.WorkflowID
	}

	if opts.EntityID != "" {
		filter["entity_id"] = opts.EntityID
	}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	return r.find(ctx, filter, bson.D{{Key: "created_at", Value: -1}}, opts.Limit)
}

func (r *ExecutionRepository) find(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]*models.Execution, error) {
	findOptions := options.Find().SetSort(sort)
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeCursor(ctx, r.logger, cursor)

	executions := make([]*models.Execution, 0)

	for cursor.Next(ctx) {
		var doc executionDocument

		err := cursor.Decode(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}

		execution, err := doc.execution()
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, cursor.Err()
}

func statusStrings(statuses []models.ExecutionStatus) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}

	return out
}
