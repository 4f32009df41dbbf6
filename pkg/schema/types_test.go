package schema

import (
	"testing"
)

func TestParseType_Builtins(t *testing.T) {
	cases := map[string]string{
		"string":   "string",
		"int":      "int",
		"float":    "float",
		"bool":     "bool",
		"dict":     "dict",
		"[float]":  "[float]",
		"[string]": "[string]",
		"[dict]":   "[dict]",
	}

	for in, want := range cases {
		typ, err := ParseType(in)
		if err != nil {
			t.Fatalf("ParseType(%q) error = %v", in, err)
		}
		if typ.Name() != want {
			t.Errorf("ParseType(%q).Name() = %q, want %q", in, typ.Name(), want)
		}
	}
}

func TestParseType_Unknown(t *testing.T) {
	if _, err := ParseType("complex128"); err == nil {
		t.Fatal("ParseType should reject unknown type names")
	}
}

func TestValidate_Success(t *testing.T) {
	s := Schema{
		"answer":      String(),
		"retry_count": Int(),
		"threshold":   Float(),
		"done":        Bool(),
		"params":      Slice(Float()),
		"messages":    Slice(Dict()),
		"result":      Dict(),
	}

	data := map[string]any{
		"answer":      "forty-two",
		"retry_count": 3,
		"threshold":   0.5,
		"done":        true,
		"params":      []float64{1.0, 2.5},
		"messages":    []map[string]any{{"role": "user"}},
		"result":      map[string]any{"ok": true},
	}

	if err := Validate(s, data); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_JSONRoundTripValues(t *testing.T) {
	// JSON decoding turns ints into float64 and slices into []any;
	// the schema must still accept them.
	s := Schema{
		"retry_count": Int(),
		"params":      Slice(Float()),
	}

	data := map[string]any{
		"retry_count": float64(3),
		"params":      []any{1.0, 2.5},
	}

	if err := Validate(s, data); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_UndeclaredField(t *testing.T) {
	s := Schema{"answer": String()}

	err := Validate(s, map[string]any{"bogus": 1})
	if err == nil {
		t.Fatal("Validate() should reject undeclared fields")
	}

	aggr, ok := err.(*AggregateError)
	if !ok {
		t.Fatalf("error should be *AggregateError, got %T", err)
	}
	validErr, ok := aggr.Errors[0].(*ValidationError)
	if !ok {
		t.Fatalf("error should be *ValidationError, got %T", aggr.Errors[0])
	}
	if validErr.Key != "bogus" {
		t.Errorf("error Key = %q, want bogus", validErr.Key)
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	s := Schema{
		"answer":      String(),
		"retry_count": Int(),
	}

	data := map[string]any{
		"answer":      "ok",
		"retry_count": "not an int",
	}

	err := Validate(s, data)
	if err == nil {
		t.Fatal("Validate() should return error for type mismatch")
	}

	errs := ValidationErrors(err)
	if len(errs) != 1 {
		t.Fatalf("Validate() = %d errors, want 1", len(errs))
	}
}

func TestZero(t *testing.T) {
	s := Schema{
		"answer":      String(),
		"retry_count": Int(),
		"threshold":   Float(),
		"done":        Bool(),
		"params":      Slice(Float()),
		"result":      Dict(),
	}

	values := Zero(s)

	if values["answer"] != "" {
		t.Errorf("zero string = %v", values["answer"])
	}
	if values["retry_count"] != 0 {
		t.Errorf("zero int = %v", values["retry_count"])
	}
	if values["threshold"] != 0.0 {
		t.Errorf("zero float = %v", values["threshold"])
	}
	if values["done"] != false {
		t.Errorf("zero bool = %v", values["done"])
	}
	if got, ok := values["params"].([]any); !ok || len(got) != 0 {
		t.Errorf("zero slice = %#v", values["params"])
	}
	if got, ok := values["result"].(map[string]any); !ok || len(got) != 0 {
		t.Errorf("zero dict = %#v", values["result"])
	}
}
