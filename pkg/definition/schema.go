// Package definition parses and validates authored workflow definitions (JSON or YAML)
// and publishes the authoring vocabulary for admin tooling.
package definition

import (
	"github.com/dukex/followup/pkg/models"
)

// Vocabulary is the configuration surface an admin UI builds workflows from.
type Vocabulary struct {
	TriggerTypes []models.TriggerType     `json:"trigger_types"`
	EntityTypes  []models.EntityType      `json:"entity_types"`
	ActionTypes  []models.ActionType      `json:"action_types"`
	Operators    []models.Operator        `json:"operators"`
	ValueTypes   []models.ValueType       `json:"value_types"`
	Logic        []models.Logic           `json:"logic"`
	Strategies   []models.BackoffStrategy `json:"backoff_strategies"`
	Schema       map[string]any           `json:"schema"`
}

// NewVocabulary returns the vocabulary and the JSON schema of a workflow definition.
func NewVocabulary() Vocabulary {
	return Vocabulary{
		TriggerTypes: models.TriggerTypes(),
		EntityTypes:  models.EntityTypes(),
		ActionTypes:  models.ActionTypes(),
		Operators:    models.Operators(),
		ValueTypes:   models.ValueTypes(),
		Logic:        []models.Logic{models.LogicAnd, models.LogicOr},
		Strategies:   []models.BackoffStrategy{models.BackoffConstant, models.BackoffExponential},
		Schema:       Schema(),
	}
}

func enum[T ~string](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}

	return out
}

func object(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = toAny(required)
	}

	return schema
}

// list also accepts null so documents produced from Go values with nil slices validate.
func list(items map[string]any) map[string]any {
	return map[string]any{"type": []any{"array", "null"}, "items": items}
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/definitions/" + name}
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}

var (
	str      = map[string]any{"type": "string"}
	nonEmpty = map[string]any{"type": "string", "minLength": 1}
	count    = map[string]any{"type": "integer", "minimum": 0}
	boolean  = map[string]any{"type": "boolean"}
	logic    = map[string]any{"enum": append(enum([]models.Logic{models.LogicAnd, models.LogicOr}), "")}
)

func messageProperties(extra map[string]any) map[string]any {
	props := map[string]any{
		"template_ref":     str,
		"subject_template": str,
		"body_template":    str,
		"recipient_path":   nonEmpty,
	}

	for k, v := range extra {
		props[k] = v
	}

	return props
}

func actionConfigs() map[models.ActionType]map[string]any {
	return map[models.ActionType]map[string]any{
		models.ActionTypeDelay: object(nil, map[string]any{"hours": count, "minutes": count}),
		models.ActionTypeCondition: object([]string{"conditions"}, map[string]any{
			"conditions":    list(ref("condition")),
			"logic":         logic,
			"true_actions":  list(ref("action")),
			"false_actions": list(ref("action")),
		}),
		models.ActionTypeSendEmail: object([]string{"recipient_path"}, messageProperties(nil)),
		models.ActionTypeSendChatMessage: object([]string{"recipient_path", "template_ref"}, messageProperties(map[string]any{
			"language":   str,
			"parameters": map[string]any{"type": "array", "items": str},
		})),
		models.ActionTypeSendNotification: object([]string{"recipient_path"}, messageProperties(map[string]any{
			"notification_type": str,
		})),
		models.ActionTypeUpdateStatus: object([]string{"status_field", "status_value"}, map[string]any{
			"entity_type":  map[string]any{"enum": append(enum(models.EntityTypes()), "")},
			"status_field": nonEmpty,
			"status_value": str,
		}),
		models.ActionTypeWebhook: object([]string{"url"}, map[string]any{
			"url":           nonEmpty,
			"method":        map[string]any{"enum": toAny([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"})},
			"headers":       map[string]any{"type": "object", "additionalProperties": str},
			"body_template": str,
		}),
	}
}

// Schema returns the draft-07 JSON schema of an authored workflow definition.
func Schema() map[string]any {
	configs := actionConfigs()

	typed := make([]any, 0, len(configs))

	for _, actionType := range models.ActionTypes() {
		typed = append(typed, map[string]any{
			"if": map[string]any{
				"properties": map[string]any{"type": map[string]any{"const": string(actionType)}},
			},
			"then": map[string]any{
				"properties": map[string]any{"config": configs[actionType]},
			},
		})
	}

	action := object([]string{"type", "config"}, map[string]any{
		"id":              str,
		"name":            str,
		"type":            map[string]any{"enum": enum(models.ActionTypes())},
		"enabled":         boolean,
		"stop_on_failure": boolean,
		"config":          map[string]any{"type": "object"},
	})
	action["allOf"] = typed

	condition := object([]string{"field", "operator"}, map[string]any{
		"field":      nonEmpty,
		"operator":   map[string]any{"enum": enum(models.Operators())},
		"value":      map[string]any{},
		"value_type": map[string]any{"enum": enum(models.ValueTypes())},
	})

	schema := object([]string{"key", "name", "trigger_type", "entity_type", "actions"}, map[string]any{
		"id":                    str,
		"key":                   map[string]any{"type": "string", "minLength": 3, "pattern": "^[a-z0-9][a-z0-9_-]*$"},
		"name":                  map[string]any{"type": "string", "minLength": 3},
		"description":           str,
		"trigger_type":          map[string]any{"enum": enum(models.TriggerTypes())},
		"entity_type":           map[string]any{"enum": enum(models.EntityTypes())},
		"entry_conditions":      list(ref("condition")),
		"entry_condition_logic": logic,
		"actions":               map[string]any{"type": "array", "minItems": 1, "items": ref("action")},
		"settings": object(nil, map[string]any{
			"max_executions_per_entity": count,
			"cooldown_hours":            count,
			"allow_re_entry":            boolean,
		}),
		"retry_policy": object(nil, map[string]any{
			"max_retries":         count,
			"retry_delay_minutes": count,
			"strategy":            map[string]any{"enum": enum([]models.BackoffStrategy{models.BackoffConstant, models.BackoffExponential})},
			"max_delay_minutes":   count,
		}),
	})

	schema["$schema"] = "http://json-schema.org/draft-07/schema#"
	schema["definitions"] = map[string]any{
		"action":    action,
		"condition": condition,
	}

	return schema
}
