// Package step implements the step executor (C11): validation, dispatch,
// hooks, failure diagnostics, and the dynamic-code step kinds
// (pageFunction/poll/pipeline).
package step

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/use-agent/pilot/models"
)

// actionKeys is the closed set of recognized action keys, per §3.
var actionKeys = map[string]bool{
	"goto": true, "wait": true, "click": true, "hover": true, "fill": true,
	"fillForm": true, "press": true, "type": true, "select": true, "selectOption": true,
	"query": true, "queryAll": true, "snapshot": true, "viewport": true, "cookies": true,
	"console": true, "network": true, "assert": true, "scroll": true, "drag": true,
	"eval": true, "pageFunction": true, "poll": true, "pipeline": true,
	"writeSiteProfile": true, "screenshot": true, "refAt": true, "elementsAt": true,
	"elementsNear": true, "switchToFrame": true, "switchToMainFrame": true,
	"listFrames": true, "listTabs": true, "openTab": true, "closeTab": true,
	"back": true, "forward": true, "getBox": true, "waitForNavigation": true,
	"extract": true, "inspect": true,
}

// hookKeys are tolerated alongside any action key; they never count toward
// the "exactly one action key" rule.
var hookKeys = map[string]bool{
	"readyWhen": true, "settledWhen": true, "observe": true,
}

var snapshotRefPattern = regexp.MustCompile(`^s\d+e\d+$`)

// Validate is a total, pure function: same input always yields the same
// {valid, errors}. It never performs any side effect.
func Validate(rawSteps []map[string]any) models.ValidationResult {
	var issues []models.ValidationIssue
	for i, raw := range rawSteps {
		if errs := validateOne(raw); len(errs) > 0 {
			issues = append(issues, models.ValidationIssue{Index: i, Step: raw, Errors: errs})
		}
	}
	return models.ValidationResult{Valid: len(issues) == 0, Errors: issues}
}

func validateOne(raw map[string]any) []string {
	var action string
	count := 0
	for k := range raw {
		if hookKeys[k] {
			continue
		}
		if !actionKeys[k] {
			return []string{fmt.Sprintf("unknown action key %q", k)}
		}
		count++
		action = k
	}
	if count == 0 {
		return []string{"step has no recognized action key"}
	}
	if count > 1 {
		return []string{"step has more than one action key"}
	}

	params := raw[action]
	return validateShape(action, params)
}

func validateShape(action string, params any) []string {
	var errs []string
	switch action {
	case "fill":
		m, ok := asMap(params)
		if !ok {
			return []string{"fill requires an object with value and a locator"}
		}
		if _, ok := m["value"]; !ok {
			errs = append(errs, "fill requires \"value\"")
		}
		if !hasAnyKey(m, "selector", "ref", "label") {
			errs = append(errs, "fill requires one of selector, ref, label")
		}
		errs = append(errs, validateRefShape(m)...)
	case "click", "hover":
		m, ok := asMap(params)
		if !ok {
			if s, isStr := params.(string); isStr && s != "" {
				return nil
			}
			return []string{action + " requires one of selector, ref, text, selectors[], x+y"}
		}
		if !hasAnyKey(m, "selector", "ref", "text", "selectors") && !hasXY(m) {
			errs = append(errs, action+" requires one of selector, ref, text, selectors[], x+y")
		}
		errs = append(errs, validateRefShape(m)...)
	case "press":
		s, ok := params.(string)
		if !ok || s == "" {
			errs = append(errs, "press requires a non-empty string")
		}
	case "refAt":
		m, ok := asMap(params)
		if !ok {
			return []string{"refAt requires an object with ref"}
		}
		errs = append(errs, validateRefShape(m)...)
	case "screenshot":
		m, ok := asMap(params)
		if ok {
			if q, present := m["quality"]; present {
				qn, numOK := asNumber(q)
				if !numOK || qn < 0 || qn > 100 {
					errs = append(errs, "quality must be within [0,100]")
				}
				if f, _ := m["format"].(string); f == "png" {
					errs = append(errs, "quality is not accepted for png")
				}
			}
		}
	default:
		// Other actions tolerate unknown/duck-typed fields per §9 design
		// notes; shape is checked lazily by the handler itself.
	}
	return errs
}

func validateRefShape(m map[string]any) []string {
	var errs []string
	if sel, ok := m["selector"]; ok {
		if s, isStr := sel.(string); !isStr || s == "" {
			errs = append(errs, "selector must be a non-empty string")
		}
	}
	if ref, ok := m["ref"]; ok {
		s, isStr := ref.(string)
		if !isStr || !snapshotRefPattern.MatchString(s) {
			errs = append(errs, "ref must match s{N}e{M}")
		}
	}
	if hasXY(m) {
		x, xOK := asNumber(m["x"])
		y, yOK := asNumber(m["y"])
		if !xOK || !yOK || x < 0 || y < 0 {
			errs = append(errs, "coordinates must be non-negative numbers")
		}
	}
	return errs
}

func hasXY(m map[string]any) bool {
	_, hasX := m["x"]
	_, hasY := m["y"]
	return hasX && hasY
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ClampTimeout clamps a caller-supplied timeout in milliseconds: negative
// clamps to 0, values above 300000 clamp to 300000.
func ClampTimeout(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > 300000 {
		return 300000
	}
	return ms
}
