package file

import (
	"context"
	"path/filepath"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/sasha-s/go-deadlock"
)

// EntityRepository stores entities under entities/<type>/<id>.json.
type EntityRepository struct {
	store *documents
	mu    *deadlock.RWMutex
}

func collection(entityType models.EntityType) string {
	return filepath.Join("entities", string(entityType))
}

func (er *EntityRepository) Get(_ context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	if !entityType.IsValid() {
		return nil, persistence.NewEntityError("Get", string(entityType), id, persistence.ErrEntityNotFound)
	}

	var entity models.Entity

	found, err := er.store.read(collection(entityType), id, &entity)
	if err != nil {
		return nil, persistence.NewEntityError("Get", string(entityType), id, err)
	}

	if !found {
		return nil, persistence.NewEntityError("Get", string(entityType), id, persistence.ErrEntityNotFound)
	}

	return &entity, nil
}

func (er *EntityRepository) Save(_ context.Context, entity *models.Entity) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	return er.store.write(collection(entity.Type), entity.ID, entity)
}
