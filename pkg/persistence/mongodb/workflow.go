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

type workflowDocument struct {
	ID          string    `bson:"_id"`
	Key         string    `bson:"key"`
	Status      string    `bson:"status"`
	TriggerType string    `bson:"trigger_type"`
	EntityType  string    `bson:"entity_type"`
	CreatedAt   time.Time `bson:"created_at"`
	Body        bson.M    `bson:"body"`
}

type WorkflowRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	body, err := toBSON(workflow)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", workflow.ID, err)
	}

	doc := workflowDocument{
		ID:          workflow.ID,
		Key:         workflow.Key,
		Status:      string(workflow.Status),
		TriggerType: string(workflow.TriggerType),
		EntityType:  string(workflow.EntityType),
		CreatedAt:   workflow.CreatedAt,
		Body:        body,
	}

	_, err = r.collection.ReplaceOne(ctx, bson.M{"_id": workflow.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return persistence.NewWorkflowError("Save", workflow.Key, persistence.ErrWorkflowKeyConflict)
		}

		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.findOne(ctx, "GetByID", id, bson.M{"_id": id})
}

func (r *WorkflowRepository) GetByKey(ctx context.Context, key string) (*models.WorkflowDefinition, error) {
	return r.findOne(ctx, "GetByKey", key, bson.M{"key": key})
}

func (r *WorkflowRepository) findOne(ctx context.Context, op, ref string, filter bson.M) (*models.WorkflowDefinition, error) {
	var doc workflowDocument

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewWorkflowError(op, ref, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", ref, err)
	}

	var workflow models.WorkflowDefinition

	err = fromBSON(doc.Body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", ref, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	filter := bson.M{}

	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	if opts.TriggerType != "" {
		filter["trigger_type"] = string(opts.TriggerType)
	}

	if opts.EntityType != "" {
		filter["entity_type"] = string(opts.EntityType)
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeCursor(ctx, r.logger, cursor)

	workflows := make([]*models.WorkflowDefinition, 0)

	for cursor.Next(ctx) {
		var doc workflowDocument

		err := cursor.Decode(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode workflow: %w", err)
		}

		var workflow models.WorkflowDefinition

		err = fromBSON(doc.Body, &workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to decode workflow %s: %w", doc.ID, err)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, cursor.Err()
}
