package models

// Logic combines a list of conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Operator is a comparison applied between a resolved context value and a condition value.
type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "not_equals"
	OperatorGreaterThan        Operator = "greater_than"
	OperatorLessThan           Operator = "less_than"
	OperatorGreaterThanOrEqual Operator = "greater_than_or_equal"
	OperatorLessThanOrEqual    Operator = "less_than_or_equal"
	OperatorContains           Operator = "contains"
	OperatorNotContains        Operator = "not_contains"
	OperatorExists             Operator = "exists"
	OperatorNotExists          Operator = "not_exists"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "not_in"
)

// Operators lists the operator vocabulary of the authoring schema.
func Operators() []Operator {
	return []Operator{
		OperatorEquals, OperatorNotEquals,
		OperatorGreaterThan, OperatorLessThan,
		OperatorGreaterThanOrEqual, OperatorLessThanOrEqual,
		OperatorContains, OperatorNotContains,
		OperatorExists, OperatorNotExists,
		OperatorIn, OperatorNotIn,
	}
}

// ValueType declares how both sides of a comparison are coerced before comparing.
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeDate    ValueType = "date"
)

// ValueTypes lists the supported value types.
func ValueTypes() []ValueType {
	return []ValueType{ValueTypeString, ValueTypeNumber, ValueTypeBoolean, ValueTypeDate}
}

// Condition compares the value found at Field (a dotted context path) against Value.
type Condition struct {
	Field     string    `json:"field"                validate:"required"`
	Operator  Operator  `json:"operator"             validate:"required"`
	Value     any       `json:"value,omitempty"`
	ValueType ValueType `json:"value_type,omitempty"`
}
