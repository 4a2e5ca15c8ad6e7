// Package mongodb provides MongoDB persistence for workflows, executions and entities.
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/followup/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionWorkflows  = "workflows"
	collectionExecutions = "executions"
	collectionEntities   = "entities"
)

// Persistence implements persistence.Persistence on a MongoDB database.
type Persistence struct {
	client *mongo.Client
	logger *slog.Logger

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	entityRepo    *EntityRepository
}

// NewPersistence connects to uri, pings the server and ensures the indexes the repositories rely on.
func NewPersistence(ctx context.Context, logger *slog.Logger, uri, database string) (*Persistence, error) {
	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetConnectTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)

	p := &Persistence{
		client:        client,
		logger:        logger,
		workflowRepo:  &WorkflowRepository{collection: db.Collection(collectionWorkflows), logger: logger},
		executionRepo: &ExecutionRepository{collection: db.Collection(collectionExecutions), logger: logger},
		entityRepo:    &EntityRepository{collection: db.Collection(collectionEntities)},
	}

	err = p.ensureIndexes(ctx, db)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Connected to MongoDB", "database", database)

	return p, nil
}

func (p *Persistence) ensureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(collectionWorkflows).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("workflows_key_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow indexes: %w", err)
	}

	_, err = db.Collection(collectionExecutions).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// At most one in-flight execution per workflow and entity.
			Keys: bson.D{{Key: "inflight_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("executions_inflight_unique").
				SetPartialFilterExpression(bson.M{"inflight_key": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "completed_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_scheduled_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create execution indexes: %w", err)
	}

	return nil
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

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	err := p.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to disconnect MongoDB client: %w", err)
	}

	return nil
}

// toBSON converts a model into a BSON document through its JSON representation,
// so custom JSON encodings (tagged actions) are kept as nested documents.
func toBSON(v any) (bson.M, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var doc bson.M

	err = bson.UnmarshalExtJSON(data, false, &doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// fromBSON is the inverse of toBSON.
func fromBSON(doc bson.M, out any) error {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

func closeCursor(ctx context.Context, logger *slog.Logger, cursor *mongo.Cursor) {
	err := cursor.Close(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to close cursor", "error", err)
	}
}
