package detect

import (
	"reflect"
	"strings"
)

// ConditionKind names the comparison a pre-filter leaf performs
type ConditionKind string

const (
	ConditionEquals             ConditionKind = "Equals"
	ConditionGreaterThan        ConditionKind = "GreaterThan"
	ConditionGreaterThanOrEqual ConditionKind = "GreaterThanOrEqual"
	ConditionLessThan           ConditionKind = "LessThan"
	ConditionLessThanOrEqual    ConditionKind = "LessThanOrEqual"
	ConditionContains           ConditionKind = "Contains"
	ConditionIn                 ConditionKind = "In"

	// ConditionUnsupported is any condition string not listed above. It never matches.
	ConditionUnsupported ConditionKind = "Unsupported"
)

// ParseConditionKind maps a condition string onto a kind. Matching is case sensitive.
func ParseConditionKind(s string) ConditionKind {
	switch ConditionKind(s) {
	case ConditionEquals, ConditionGreaterThan, ConditionGreaterThanOrEqual,
		ConditionLessThan, ConditionLessThanOrEqual, ConditionContains, ConditionIn:
		return ConditionKind(s)
	}
	return ConditionUnsupported
}

// Condition is a single comparison between an event field and a literal
type Condition struct {
	Key   string
	Kind  ConditionKind
	Raw   string // condition string as written, kept for unsupported kinds
	Value any

	// Unreachable keys never resolve, so the field reads as absent
	Unreachable bool
}

// NewCondition builds a condition from its configured parts
func NewCondition(key, condition string, value any) Condition {
	return Condition{
		Key:   key,
		Kind:  ParseConditionKind(condition),
		Raw:   condition,
		Value: value,
	}
}

// Apply evaluates the condition against an event. Incomparable operands yield false.
func (c Condition) Apply(event map[string]any) bool {
	var fieldValue any
	if !c.Unreachable {
		fieldValue = event[c.Key]
	}

	switch c.Kind {
	case ConditionEquals:
		return valuesEqual(fieldValue, c.Value)
	case ConditionGreaterThan:
		return compareOrdered(fieldValue, c.Value, func(cmp int) bool { return cmp > 0 })
	case ConditionGreaterThanOrEqual:
		return compareOrdered(fieldValue, c.Value, func(cmp int) bool { return cmp >= 0 })
	case ConditionLessThan:
		return compareOrdered(fieldValue, c.Value, func(cmp int) bool { return cmp < 0 })
	case ConditionLessThanOrEqual:
		return compareOrdered(fieldValue, c.Value, func(cmp int) bool { return cmp <= 0 })
	case ConditionContains:
		return containsValue(fieldValue, c.Value)
	case ConditionIn:
		return containsValue(c.Value, fieldValue)
	}
	return false
}

// toFloat normalizes every Go numeric type so JSON float64 and YAML int compare by value
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// valuesEqual is type strict except across numeric types.
// Booleans never equal numbers.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !valuesEqual(v, other) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

// compareOrdered compares two numbers or two strings; anything else is not ordered
func compareOrdered(a, b any, accept func(int) bool) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return false
		}
		switch {
		case fa < fb:
			return accept(-1)
		case fa > fb:
			return accept(1)
		default:
			return accept(0)
		}
	}

	sa, ok := a.(string)
	if !ok {
		return false
	}
	sb, ok := b.(string)
	if !ok {
		return false
	}
	return accept(strings.Compare(sa, sb))
}

// containsValue reports whether needle is a member of container:
// substring for two strings, element equality for lists, key membership for maps.
func containsValue(container, needle any) bool {
	switch c := container.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(c, s)
	case []any:
		for _, item := range c {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range c {
			if item == s {
				return true
			}
		}
		return false
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		_, exists := c[s]
		return exists
	}
	return false
}
