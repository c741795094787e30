// Package iamval holds the scalar-or-array value representation shared by
// the scope and condition translators: every IAM list-shaped field may be
// written as a single JSON scalar or a JSON array, and every translator in
// this module branches on that distinction the same way.
package iamval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is either a single T or a list of T, mirroring the scalar-or-array
// polymorphism IAM allows on Action, Resource, Principal and condition
// values.
type Value[T any] struct {
	many []T
	one  bool
}

// One builds a single-valued Value.
func One[T any](v T) Value[T] {
	return Value[T]{many: []T{v}, one: true}
}

// Many builds a multi-valued Value.
func Many[T any](v []T) Value[T] {
	return Value[T]{many: v}
}

// IsOne reports whether this value was written as a JSON scalar.
func (v Value[T]) IsOne() bool { return v.one }

// OneValue returns the single item; callers must check IsOne first.
func (v Value[T]) OneValue() T { return v.many[0] }

// Slice returns all items, whether the value was scalar or array.
func (v Value[T]) Slice() []T { return v.many }

// MapValue applies f to every element, preserving the One/Many tag.
func MapValue[T, O any](v Value[T], f func(T) (O, error)) (Value[O], error) {
	out := make([]O, 0, len(v.many))

	for _, item := range v.many {
		mapped, err := f(item)
		if err != nil {
			return Value[O]{}, err
		}
		out = append(out, mapped)
	}

	if v.one {
		return One(out[0]), nil
	}
	return Many(out), nil
}

// UnmarshalJSON decodes either a bare scalar or a JSON array into a Value.
// IAM's Action/Resource/Principal fields, and every condition attribute
// value, use this polymorphism.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var many []T
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return fmt.Errorf("decoding scalar-or-array value: %w", err)
		}
		*v = Many(many)
		return nil
	}

	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("decoding scalar-or-array value: %w", err)
	}

	*v = One(single)
	return nil
}

// Scope wraps a Value with the positive/negated distinction that IAM
// expresses via the Principal/NotPrincipal, Action/NotAction and
// Resource/NotResource keyword pairs.
type Scope[T any] struct {
	Value   Value[T]
	Negated bool
}

// Id builds a positive (non-negated) scope.
func Id[T any](v Value[T]) Scope[T] { return Scope[T]{Value: v} }

// Not builds a negated scope.
func Not[T any](v Value[T]) Scope[T] { return Scope[T]{Value: v, Negated: true} }

// ConditionValue is one raw value from a Condition block: a string, a bool,
// or a number. JSON numbers are kept as json.Number so integer condition
// values (NumericEquals, …) don't round-trip through float64.
type ConditionValue struct {
	raw any
}

// UnmarshalJSON decodes a single condition value, preserving its JSON kind.
func (c *ConditionValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding condition value: %w", err)
	}

	c.raw = raw
	return nil
}

// ToBool coerces the value to a bool: accepts a JSON bool, or the strings
// "true"/"false".
func (c ConditionValue) ToBool() (bool, error) {
	switch v := c.raw.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected bool, found %q", c.repr())
}

// ToStr coerces the value to a string.
func (c ConditionValue) ToStr() (string, error) {
	if v, ok := c.raw.(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("expected string, found %q", c.repr())
}

// ToInt coerces the value to an int64: accepts a JSON integer, or a
// parseable integer string.
func (c ConditionValue) ToInt() (int64, error) {
	switch v := c.raw.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, found %q", v.String())
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, found %q", v)
		}
		return i, nil
	}
	return 0, fmt.Errorf("expected integer, found %q", c.repr())
}

func (c ConditionValue) repr() string {
	return fmt.Sprintf("%v", c.raw)
}
