package step

import "testing"

func TestValidate_EmptyListIsValid(t *testing.T) {
	res := Validate(nil)
	if !res.Valid {
		t.Errorf("empty step list should be valid, got errors: %v", res.Errors)
	}
}

func TestValidate_UnknownActionKey(t *testing.T) {
	res := Validate([]map[string]any{{"frobnicate": true}})
	if res.Valid {
		t.Fatal("expected unknown action key to fail validation")
	}
	if len(res.Errors) != 1 || res.Errors[0].Index != 0 {
		t.Fatalf("expected one issue at index 0, got %+v", res.Errors)
	}
}

func TestValidate_NoActionKey(t *testing.T) {
	res := Validate([]map[string]any{{"readyWhen": "true"}})
	if res.Valid {
		t.Fatal("expected step with only hook keys to fail validation")
	}
}

func TestValidate_MultipleActionKeys(t *testing.T) {
	res := Validate([]map[string]any{{
		"click": map[string]any{"selector": "#a"},
		"hover": map[string]any{"selector": "#b"},
	}})
	if res.Valid {
		t.Fatal("expected step with two action keys to fail validation")
	}
}

func TestValidate_HookKeysTolerated(t *testing.T) {
	res := Validate([]map[string]any{{
		"click":     map[string]any{"selector": "#submit"},
		"readyWhen": "document.readyState === 'complete'",
		"observe":   true,
	}})
	if !res.Valid {
		t.Errorf("hook keys alongside one action key should validate, got: %v", res.Errors)
	}
}

func TestValidate_FillRequiresValueAndLocator(t *testing.T) {
	res := Validate([]map[string]any{{"fill": map[string]any{"selector": "#name"}}})
	if res.Valid {
		t.Fatal("expected fill without value to fail validation")
	}

	res = Validate([]map[string]any{{"fill": map[string]any{"value": "hi"}}})
	if res.Valid {
		t.Fatal("expected fill without a locator to fail validation")
	}

	res = Validate([]map[string]any{{"fill": map[string]any{"value": "hi", "selector": "#name"}}})
	if !res.Valid {
		t.Errorf("expected fill with value and selector to pass, got: %v", res.Errors)
	}
}

func TestValidate_ClickAcceptsPlainStringSelector(t *testing.T) {
	res := Validate([]map[string]any{{"click": "#submit"}})
	if !res.Valid {
		t.Errorf("expected click with a bare string selector to pass, got: %v", res.Errors)
	}
}

func TestValidate_ClickRequiresLocator(t *testing.T) {
	res := Validate([]map[string]any{{"click": map[string]any{}}})
	if res.Valid {
		t.Fatal("expected click with no locator to fail validation")
	}
}

func TestValidate_ClickAcceptsCoordinates(t *testing.T) {
	res := Validate([]map[string]any{{"click": map[string]any{"x": 10.0, "y": 20.0}}})
	if !res.Valid {
		t.Errorf("expected click with x+y to pass, got: %v", res.Errors)
	}
}

func TestValidate_PressRequiresNonEmptyString(t *testing.T) {
	res := Validate([]map[string]any{{"press": ""}})
	if res.Valid {
		t.Fatal("expected empty press to fail validation")
	}
	res = Validate([]map[string]any{{"press": "Enter"}})
	if !res.Valid {
		t.Errorf("expected press with a key name to pass, got: %v", res.Errors)
	}
}

func TestValidate_RefMustMatchSnapshotPattern(t *testing.T) {
	res := Validate([]map[string]any{{"refAt": map[string]any{"ref": "not-a-ref"}}})
	if res.Valid {
		t.Fatal("expected malformed ref to fail validation")
	}
	res = Validate([]map[string]any{{"refAt": map[string]any{"ref": "s3e12"}}})
	if !res.Valid {
		t.Errorf("expected well-formed ref to pass, got: %v", res.Errors)
	}
}

func TestValidate_ScreenshotQualityRange(t *testing.T) {
	res := Validate([]map[string]any{{"screenshot": map[string]any{"quality": 150.0}}})
	if res.Valid {
		t.Fatal("expected out-of-range quality to fail validation")
	}
	res = Validate([]map[string]any{{"screenshot": map[string]any{"quality": 80.0, "format": "jpeg"}}})
	if !res.Valid {
		t.Errorf("expected in-range jpeg quality to pass, got: %v", res.Errors)
	}
}

func TestValidate_ScreenshotQualityRejectedForPNG(t *testing.T) {
	res := Validate([]map[string]any{{"screenshot": map[string]any{"quality": 80.0, "format": "png"}}})
	if res.Valid {
		t.Fatal("expected quality with png format to fail validation")
	}
}

func TestValidate_MultipleStepsReportEachIndex(t *testing.T) {
	res := Validate([]map[string]any{
		{"click": "#ok"},
		{"bogus": true},
		{"press": ""},
	})
	if res.Valid {
		t.Fatal("expected two invalid steps")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 issues, got %d: %+v", len(res.Errors), res.Errors)
	}
	if res.Errors[0].Index != 1 || res.Errors[1].Index != 2 {
		t.Errorf("expected issues at indices 1 and 2, got %d and %d", res.Errors[0].Index, res.Errors[1].Index)
	}
}

func TestClampTimeout(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{1000, 1000},
		{300000, 300000},
		{999999, 300000},
	}
	for _, c := range cases {
		if got := ClampTimeout(c.in); got != c.want {
			t.Errorf("ClampTimeout(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
