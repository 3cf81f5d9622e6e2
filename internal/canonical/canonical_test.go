package canonical_test

import (
	"math/big"
	"testing"

	"github.com/kora-labs/kora-rent/internal/canonical"
)

func TestMarshal_KeyOrderIndependence(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	b := map[string]interface{}{"c": 3, "a": 2, "b": 1}

	got1, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	got2, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(got1) != string(got2) {
		t.Fatalf("expected identical output, got %q vs %q", got1, got2)
	}
	if string(got1) != `{"a":2,"b":1,"c":3}` {
		t.Fatalf("unexpected canonical form: %s", got1)
	}
}

func TestMarshal_Idempotent(t *testing.T) {
	v := map[string]interface{}{
		"z": []interface{}{1, "two", nil, true, false},
		"a": map[string]interface{}{"nested": 5},
	}
	out1, err := canonical.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// Re-marshaling the same structural value must reproduce the same bytes.
	out2, err := canonical.Marshal(v)
	if err != nil {
		t.Fatalf("marshal again: %v", err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("not idempotent: %s vs %s", out1, out2)
	}
}

func TestMarshal_LargeIntegersAsStrings(t *testing.T) {
	big1 := int64(1) << 60
	out, err := canonical.Marshal(map[string]interface{}{"n": big1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"n":"1152921504606846976"}`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestMarshal_SmallIntegersAsNumbers(t *testing.T) {
	out, err := canonical.Marshal(map[string]interface{}{"n": 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"n":42}` {
		t.Fatalf("got %s", out)
	}
}

func TestMarshal_BigIntAlwaysString(t *testing.T) {
	n, ok := new(big.Int).SetString("2000000", 10)
	if !ok {
		t.Fatal("bad big.Int literal")
	}
	out, err := canonical.Marshal(map[string]interface{}{"total": n})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"total":"2000000"}` {
		t.Fatalf("got %s", out)
	}
}

func TestMarshal_StringEscaping(t *testing.T) {
	out, err := canonical.Marshal("line1\nline2\t\"quoted\"\\backslash")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `"line1\nline2\t\"quoted\"\\backslash"`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestMarshal_ArrayPreservesOrder(t *testing.T) {
	out, err := canonical.Marshal([]interface{}{3, 1, 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `[3,1,2]` {
		t.Fatalf("got %s", out)
	}
}

func TestMarshal_NoWhitespace(t *testing.T) {
	out, err := canonical.Marshal(map[string]interface{}{
		"a": []interface{}{1, 2},
		"b": map[string]interface{}{"x": "y"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, c := range out {
		if c == ' ' || c == '\n' || c == '\t' {
			t.Fatalf("unexpected whitespace in %s", out)
		}
	}
}

func TestMarshal_UnsupportedType(t *testing.T) {
	if _, err := canonical.Marshal(3.14); err == nil {
		t.Fatal("expected error for float64")
	}
}
