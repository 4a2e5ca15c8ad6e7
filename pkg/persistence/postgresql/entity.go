package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
)

type EntityRepository struct {
	db *sql.DB
}

func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

func (r *EntityRepository) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	var (
		fields []byte
		entity = models.Entity{Type: entityType, ID: id}
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT fields, updated_at FROM entities WHERE entity_type = $1 AND id = $2`,
		string(entityType), id,
	).Scan(&fields, &entity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("Get", string(entityType), id, persistence.ErrEntityNotFound)
		}

		return nil, fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}

	err = json.Unmarshal(fields, &entity.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", entityType, id, err)
	}

	return &entity, nil
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	fields, err := json.Marshal(entity.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", entity.Type, entity.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, fields, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_type, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
	`, string(entity.Type), entity.ID, fields, entity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", entity.Type, entity.ID, err)
	}

	return nil
}
