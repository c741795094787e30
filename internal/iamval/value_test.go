package iamval

import (
	"encoding/json"
	"testing"
)

func TestValueUnmarshalScalar(t *testing.T) {
	var v Value[string]
	if err := json.Unmarshal([]byte(`"s3:GetObject"`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !v.IsOne() {
		t.Fatal("expected scalar value")
	}
	if got := v.OneValue(); got != "s3:GetObject" {
		t.Errorf("got %q", got)
	}
	if got := v.Slice(); len(got) != 1 || got[0] != "s3:GetObject" {
		t.Errorf("Slice() = %v", got)
	}
}

func TestValueUnmarshalArray(t *testing.T) {
	var v Value[string]
	if err := json.Unmarshal([]byte(`["s3:GetObject", "s3:PutObject"]`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.IsOne() {
		t.Fatal("expected multi value")
	}
	if got := v.Slice(); len(got) != 2 || got[0] != "s3:GetObject" || got[1] != "s3:PutObject" {
		t.Errorf("Slice() = %v", got)
	}
}

func TestMapValuePreservesTag(t *testing.T) {
	one := One("a")
	mapped, err := MapValue(one, func(s string) (int, error) { return len(s), nil })
	if err != nil {
		t.Fatalf("MapValue: %v", err)
	}
	if !mapped.IsOne() || mapped.OneValue() != 1 {
		t.Errorf("mapped = %+v", mapped)
	}

	many := Many([]string{"ab", "cde"})
	mappedMany, err := MapValue(many, func(s string) (int, error) { return len(s), nil })
	if err != nil {
		t.Fatalf("MapValue: %v", err)
	}
	if mappedMany.IsOne() {
		t.Error("expected Many tag preserved")
	}
	if got := mappedMany.Slice(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("Slice() = %v", got)
	}
}

func TestMapValuePropagatesError(t *testing.T) {
	_, err := MapValue(One("x"), func(s string) (string, error) {
		return "", errBoom
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestScopeConstructors(t *testing.T) {
	id := Id(One("a"))
	if id.Negated {
		t.Error("Id should not be negated")
	}
	not := Not(One("a"))
	if !not.Negated {
		t.Error("Not should be negated")
	}
}

func TestConditionValueCoercions(t *testing.T) {
	decode := func(t *testing.T, raw string) ConditionValue {
		t.Helper()
		var c ConditionValue
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("Unmarshal(%s): %v", raw, err)
		}
		return c
	}

	t.Run("bool true literal", func(t *testing.T) {
		b, err := decode(t, `true`).ToBool()
		if err != nil || !b {
			t.Errorf("ToBool() = %v, %v", b, err)
		}
	})

	t.Run("bool string", func(t *testing.T) {
		b, err := decode(t, `"false"`).ToBool()
		if err != nil || b {
			t.Errorf("ToBool() = %v, %v", b, err)
		}
	})

	t.Run("int from number", func(t *testing.T) {
		i, err := decode(t, `42`).ToInt()
		if err != nil || i != 42 {
			t.Errorf("ToInt() = %v, %v", i, err)
		}
	})

	t.Run("int from string", func(t *testing.T) {
		i, err := decode(t, `"42"`).ToInt()
		if err != nil || i != 42 {
			t.Errorf("ToInt() = %v, %v", i, err)
		}
	})

	t.Run("str", func(t *testing.T) {
		s, err := decode(t, `"us-east-1"`).ToStr()
		if err != nil || s != "us-east-1" {
			t.Errorf("ToStr() = %v, %v", s, err)
		}
	})

	t.Run("wrong kind", func(t *testing.T) {
		if _, err := decode(t, `"not-a-bool"`).ToBool(); err == nil {
			t.Error("expected error")
		}
	})
}

var errBoom = boomErr("boom")

type boomErr string

func (e boomErr) Error() string { return string(e) }
