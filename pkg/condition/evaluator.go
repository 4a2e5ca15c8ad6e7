// Package condition evaluates workflow entry and branch conditions against an execution context.
package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/spf13/cast"
)

var (
	ErrUnknownOperator  = errors.New("unknown condition operator")
	ErrUnknownLogic     = errors.New("unknown condition logic")
	ErrUnknownValueType = errors.New("unknown condition value type")
)

// Evaluate combines conditions with logic against data. An empty list is vacuously true.
// Only configuration problems (unknown operator, logic or value type) produce an error;
// a missing field or a value that cannot be coerced makes the condition false.
func Evaluate(conditions []models.Condition, logic models.Logic, data map[string]any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	switch logic {
	case models.LogicAnd, "":
		for _, c := range conditions {
			ok, err := EvaluateOne(c, data)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case models.LogicOr:
		for _, c := range conditions {
			ok, err := EvaluateOne(c, data)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownLogic, logic)
	}
}

// EvaluateOne resolves c.Field in data and applies the operator.
func EvaluateOne(c models.Condition, data map[string]any) (bool, error) {
	actual, found := models.Lookup(data, c.Field)
	present := found && actual != nil

	valueType, err := resolveValueType(c)
	if err != nil {
		return false, err
	}

	switch c.Operator {
	case models.OperatorExists:
		return present, nil
	case models.OperatorNotExists:
		return !present, nil
	case models.OperatorEquals:
		return present && equal(actual, c.Value, valueType), nil
	case models.OperatorNotEquals:
		return !present || !equal(actual, c.Value, valueType), nil
	case models.OperatorGreaterThan:
		return present && compare(actual, c.Value, valueType, func(n int) bool { return n > 0 }), nil
	case models.OperatorLessThan:
		return present && compare(actual, c.Value, valueType, func(n int) bool { return n < 0 }), nil
	case models.OperatorGreaterThanOrEqual:
		return present && compare(actual, c.Value, valueType, func(n int) bool { return n >= 0 }), nil
	case models.OperatorLessThanOrEqual:
		return present && compare(actual, c.Value, valueType, func(n int) bool { return n <= 0 }), nil
	case models.OperatorContains:
		return present && contains(actual, c.Value, valueType), nil
	case models.OperatorNotContains:
		return !present || !contains(actual, c.Value, valueType), nil
	case models.OperatorIn:
		return present && in(actual, c.Value, valueType), nil
	case models.OperatorNotIn:
		return !present || !in(actual, c.Value, valueType), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
	}
}

// Validate reports configuration errors in conditions without evaluating them.
func Validate(conditions []models.Condition, logic models.Logic) error {
	if logic != "" && logic != models.LogicAnd && logic != models.LogicOr {
		return fmt.Errorf("%w: %q", ErrUnknownLogic, logic)
	}

	for i, c := range conditions {
		if c.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}

		_, err := EvaluateOne(c, nil)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	return nil
}

// resolveValueType returns the declared value type. An empty type means no coercion.
func resolveValueType(c models.Condition) (models.ValueType, error) {
	switch c.ValueType {
	case models.ValueTypeString, models.ValueTypeNumber, models.ValueTypeBoolean, models.ValueTypeDate, "":
		return c.ValueType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownValueType, c.ValueType)
	}
}

// operands prepares both sides of a comparison. With a declared value type both sides are cast
// to it. Without one, numeric kinds are widened to float64 and other values are kept as they
// are, so values of different types never compare equal.
func operands(actual, expected any, valueType models.ValueType) (any, any, bool) {
	if valueType == "" {
		return normalize(actual), normalize(expected), true
	}

	a, err := coerce(actual, valueType)
	if err != nil {
		return nil, nil, false
	}

	e, err := coerce(expected, valueType)
	if err != nil {
		return nil, nil, false
	}

	return a, e, true
}

func normalize(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case *time.Time:
		if v == nil {
			return nil
		}

		return *v
	default:
		return value
	}
}

func coerce(value any, valueType models.ValueType) (any, error) {
	switch valueType {
	case models.ValueTypeNumber:
		return cast.ToFloat64E(value)
	case models.ValueTypeBoolean:
		return cast.ToBoolE(value)
	case models.ValueTypeDate:
		return cast.ToTimeE(value)
	default:
		return cast.ToStringE(value)
	}
}

func equal(actual, expected any, valueType models.ValueType) bool {
	a, e, ok := operands(actual, expected, valueType)
	if !ok {
		return false
	}

	switch av := a.(type) {
	case time.Time:
		ev, ok := e.(time.Time)

		return ok && av.Equal(ev)
	case float64, string, bool:
		return a == e
	default:
		return reflect.DeepEqual(a, e)
	}
}

func compare(actual, expected any, valueType models.ValueType, accept func(int) bool) bool {
	a, e, ok := operands(actual, expected, valueType)
	if !ok {
		return false
	}

	switch av := a.(type) {
	case float64:
		ev, ok := e.(float64)
		if !ok {
			return false
		}

		switch {
		case av < ev:
			return accept(-1)
		case av > ev:
			return accept(1)
		default:
			return accept(0)
		}
	case time.Time:
		ev, ok := e.(time.Time)

		return ok && accept(av.Compare(ev))
	case string:
		ev, ok := e.(string)

		return ok && accept(strings.Compare(av, ev))
	default:
		return false
	}
}

// contains is membership for list values and substring containment for strings. Scalars of
// other types only take part when a value type is declared, in which case both sides are cast
// to strings.
func contains(actual, expected any, valueType models.ValueType) bool {
	if items, ok := asList(actual); ok {
		for _, item := range items {
			if equal(item, expected, valueType) {
				return true
			}
		}

		return false
	}

	if valueType == "" {
		a, ok := actual.(string)
		if !ok {
			return false
		}

		e, ok := expected.(string)

		return ok && strings.Contains(a, e)
	}

	a, err := cast.ToStringE(actual)
	if err != nil {
		return false
	}

	e, err := cast.ToStringE(expected)
	if err != nil {
		return false
	}

	return strings.Contains(a, e)
}

func in(actual, expected any, valueType models.ValueType) bool {
	items, ok := asList(expected)
	if !ok {
		items = []any{expected}
	}

	for _, item := range items {
		if equal(actual, item, valueType) {
			return true
		}
	}

	return false
}

func asList(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}

	if items, ok := value.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}
