package capture

import (
	"encoding/json"
	"testing"
)

func TestIsSerializedTruthy(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"null", `{"type":"null"}`, false},
		{"undefined", `{"type":"undefined"}`, false},
		{"false", `{"type":"boolean","value":false}`, false},
		{"true", `{"type":"boolean","value":true}`, true},
		{"zero", `{"type":"number","value":0}`, false},
		{"nonzero", `{"type":"number","value":1}`, true},
		{"empty string", `{"type":"string","value":""}`, false},
		{"nonempty string", `{"type":"string","value":"x"}`, true},
		{"object is truthy", `{"type":"Object"}`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsSerializedTruthy(json.RawMessage(c.raw)); got != c.want {
				t.Errorf("IsSerializedTruthy(%s) = %v, want %v", c.raw, got, c.want)
			}
		})
	}
}

func TestIsSerializedTruthy_MalformedInputIsFalse(t *testing.T) {
	if IsSerializedTruthy(json.RawMessage(`not json`)) {
		t.Error("expected malformed input to be non-truthy")
	}
}

func TestExtractEvaluateResult_PlainValue(t *testing.T) {
	raw := json.RawMessage(`{"result":{"type":"number","value":42},"exceptionDetails":null}`)
	env, threw, err := ExtractEvaluateResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if threw {
		t.Fatal("did not expect threw to be true")
	}
	var e evalEnvelope
	if err := json.Unmarshal(env, &e); err != nil {
		t.Fatalf("failed to decode unwrapped envelope: %v", err)
	}
	if e.Type != "number" {
		t.Errorf("got type %q, want number", e.Type)
	}
}

func TestExtractEvaluateResult_Threw(t *testing.T) {
	raw := json.RawMessage(`{"result":{"type":"undefined"},"exceptionDetails":{"text":"ReferenceError: x is not defined"}}`)
	_, threw, err := ExtractEvaluateResult(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !threw {
		t.Error("expected threw to be true when exceptionDetails is present")
	}
}

func TestProcessResult_TruncatesOversizedArray(t *testing.T) {
	items := make([]evalEnvelope, arrayTruncateCap+10)
	for i := range items {
		items[i] = evalEnvelope{Type: "number", Value: json.RawMessage("1")}
	}
	e := processResult(evalEnvelope{Type: "Array", Items: items})
	if !e.Truncated {
		t.Error("expected oversized array to be marked truncated")
	}
	if len(e.Items) != arrayTruncateCap {
		t.Errorf("got %d items, want %d", len(e.Items), arrayTruncateCap)
	}
}

func TestProcessResult_IdempotentOnArray(t *testing.T) {
	items := make([]evalEnvelope, arrayTruncateCap+5)
	for i := range items {
		items[i] = evalEnvelope{Type: "number", Value: json.RawMessage("1")}
	}
	e := evalEnvelope{Type: "Array", Items: items}
	once := processResult(e)
	twice := processResult(once)
	if len(once.Items) != len(twice.Items) || once.Truncated != twice.Truncated {
		t.Errorf("processResult is not idempotent: once=%+v twice=%+v", once, twice)
	}
}

func TestProcessResult_LeavesSmallObjectUntouched(t *testing.T) {
	obj := map[string]evalEnvelope{"a": {Type: "number", Value: json.RawMessage("1")}}
	e := processResult(evalEnvelope{Type: "Object", Keys: []string{"a"}, Object: obj})
	if e.Truncated {
		t.Error("expected small object not to be truncated")
	}
}

func TestDecodeEnvelope_RoundTrips(t *testing.T) {
	out, err := DecodeEnvelope(json.RawMessage(`{"type":"string","value":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, ok := out.(evalEnvelope)
	if !ok {
		t.Fatalf("expected evalEnvelope, got %T", out)
	}
	if env.describe() != "hello" {
		t.Errorf("got %q, want hello", env.describe())
	}
}
