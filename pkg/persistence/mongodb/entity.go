package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type entityDocument struct {
	ID         string    `bson:"_id"`
	EntityType string    `bson:"entity_type"`
	EntityID   string    `bson:"entity_id"`
	Fields     bson.M    `bson:"fields"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

type EntityRepository struct {
	collection *mongo.Collection
}

func entityKey(entityType models.EntityType, id string) string {
	return string(entityType) + "/" + id
}

func (r *EntityRepository) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	var doc entityDocument

	err := r.collection.FindOne(ctx, bson.M{"_id": entityKey(entityType, id)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, persistence.NewEntityError("Get", string(entityType), id, persistence.ErrEntityNotFound)
		}

		return nil, fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}

	entity := &models.Entity{Type: entityType, ID: id, UpdatedAt: doc.UpdatedAt}

	err = fromBSON(doc.Fields, &entity.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", entityType, id, err)
	}

	return entity, nil
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	fields, err := toBSON(entity.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", entity.Type, entity.ID, err)
	}

	doc := entityDocument{
		ID:         entityKey(entity.Type, entity.ID),
		EntityType: string(entity.Type),
		EntityID:   entity.ID,
		Fields:     fields,
		UpdatedAt:  entity.UpdatedAt,
	}

	_, err = r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", entity.Type, entity.ID, err)
	}

	return nil
}
