package models

import "time"

// EntityType names the domain object a workflow execution is scoped to.
type EntityType string

const (
	EntityTypeApplication EntityType = "application"
	EntityTypeReferral    EntityType = "referral"
	EntityTypeJob         EntityType = "job"
	EntityTypeUser        EntityType = "user"
	EntityTypeCompany     EntityType = "company"
)

// EntityTypes lists every entity type workflows can target.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityTypeApplication,
		EntityTypeReferral,
		EntityTypeJob,
		EntityTypeUser,
		EntityTypeCompany,
	}
}

// IsValid reports whether t is a known entity type.
func (t EntityType) IsValid() bool {
	for _, known := range EntityTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// Entity is a domain record as seen by the engine: a type, an id and a bag of fields.
// Relations are expressed as id fields (userId, jobId, companyId, referralId, applicationId).
type Entity struct {
	Type      EntityType     `json:"type"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ref returns the string value of a relation id field, or "" when absent.
func (e *Entity) Ref(field string) string {
	if e == nil || e.Fields == nil {
		return ""
	}

	value, ok := e.Fields[field].(string)
	if !ok {
		return ""
	}

	return value
}

// Snapshot returns a copy of the entity fields with the id included.
func (e *Entity) Snapshot() map[string]any {
	out := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}

	out["id"] = e.ID

	return out
}
