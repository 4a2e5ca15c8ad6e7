package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// Context keys that are not entity types.
const (
	ContextKeyEntity    = "entity"
	ContextKeyInput     = "input"
	ContextKeyExecution = "execution"
	ContextKeyNow       = "now"
)

// relations lists the entities loaded next to the primary one, in resolution order.
// Each is found through a "<type>Id" field on the primary or an already loaded relation.
var relations = []models.EntityType{
	models.EntityTypeUser,
	models.EntityTypeApplication,
	models.EntityTypeReferral,
	models.EntityTypeJob,
	models.EntityTypeCompany,
}

// ContextBuilder assembles the data conditions and templates are evaluated against.
type ContextBuilder struct {
	entities persistence.EntityRepository
	clock    clockwork.Clock
}

func NewContextBuilder(entities persistence.EntityRepository, clock clockwork.Clock) *ContextBuilder {
	return &ContextBuilder{entities: entities, clock: clock}
}

// Build loads the entity and its related records from current state. The result holds one key per
// loaded entity type, "entity" for the primary record, "input" for the trigger input, "now", and every
// input key that does not collide with those.
func (b *ContextBuilder) Build(
	ctx context.Context,
	entityType models.EntityType,
	entityID string,
	input map[string]any,
) (map[string]any, error) {
	primary, err := b.entities.Get(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	loaded := map[models.EntityType]*models.Entity{entityType: primary}

	// Two passes reach relations of relations, e.g. application -> job -> company.
	for range 2 {
		for _, relation := range relations {
			if _, ok := loaded[relation]; ok {
				continue
			}

			id := refTo(relation, primary, loaded)
			if id == "" {
				continue
			}

			related, err := b.entities.Get(ctx, relation, id)
			if err != nil {
				if persistence.IsEntityNotFound(err) {
					continue
				}

				return nil, fmt.Errorf("failed to load %s %s: %w", relation, id, err)
			}

			loaded[relation] = related
		}
	}

	data := make(map[string]any, len(loaded)+len(input)+3)

	for key, value := range input {
		data[key] = value
	}

	for t, entity := range loaded {
		data[string(t)] = entity.Snapshot()
	}

	data[ContextKeyEntity] = data[string(entityType)]
	data[ContextKeyNow] = b.clock.Now().UTC().Format(time.RFC3339)

	if input == nil {
		input = map[string]any{}
	}

	data[ContextKeyInput] = input

	return data, nil
}

func refTo(relation models.EntityType, primary *models.Entity, loaded map[models.EntityType]*models.Entity) string {
	field := string(relation) + "Id"

	if id := primary.Ref(field); id != "" {
		return id
	}

	for _, entity := range loaded {
		if id := entity.Ref(field); id != "" {
			return id
		}
	}

	return ""
}
