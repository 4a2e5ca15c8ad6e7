package actions

import (
	"context"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/persistence"
)

// targetEntityID picks the execution's own entity, or a related one through "<type>.id" in the context.
func targetEntityID(entityType models.EntityType, in Input) string {
	if entityType == "" || entityType == in.EntityType {
		return in.EntityID
	}

	value, found := models.Lookup(in.Context, string(entityType)+".id")
	if !found {
		return ""
	}

	id, _ := value.(string)

	return id
}

func (e *Executor) updateStatus(ctx context.Context, actionID string, spec models.UpdateStatus, in Input) (Result, error) {
	if spec.StatusField == "" {
		return Result{}, newError(KindRenderError, actionID, "status field is empty", nil)
	}

	entityType := spec.EntityType
	if entityType == "" {
		entityType = in.EntityType
	}

	entityID := targetEntityID(entityType, in)
	if entityID == "" {
		return Result{}, newError(KindEntityNotFound, actionID, "no related "+string(entityType)+" in context", nil)
	}

	entity, err := e.entities.Get(ctx, entityType, entityID)
	if err != nil {
		if persistence.IsEntityNotFound(err) {
			return Result{}, newError(KindEntityNotFound, actionID, "", err)
		}

		return Result{}, newError(KindStoreFailed, actionID, "load entity", err)
	}

	if entity.Fields == nil {
		entity.Fields = map[string]any{}
	}

	entity.Fields[spec.StatusField] = spec.StatusValue
	entity.UpdatedAt = e.clock.Now().UTC()

	err = e.entities.Save(ctx, entity)
	if err != nil {
		return Result{}, newError(KindStoreFailed, actionID, "save entity", err)
	}

	return Result{
		Output: map[string]any{
			"entity_type": string(entityType),
			"entity_id":   entityID,
			"field":       spec.StatusField,
			"value":       spec.StatusValue,
		},
		Mutation: &Mutation{
			EntityType: entityType,
			EntityID:   entityID,
			Field:      spec.StatusField,
			Value:      spec.StatusValue,
		},
	}, nil
}
