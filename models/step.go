package models

import "encoding/json"

// ElementRef is the sum-variant element reference accepted by element-
// touching steps: a CSS selector, a snapshot-ref token, visible text, a
// role+name pair, viewport coordinates, or an ordered fallback list of any
// of the above.
type ElementRef struct {
	Selector  string       `json:"selector,omitempty"`
	Ref       string       `json:"ref,omitempty"`       // snapshot-ref token "s{N}e{M}"
	Text      string       `json:"text,omitempty"`      // visible-text match
	Role      string       `json:"role,omitempty"`      // accessibility role
	Name      string       `json:"name,omitempty"`      // accessible name, paired with Role
	X         *float64     `json:"x,omitempty"`
	Y         *float64     `json:"y,omitempty"`
	Fallbacks []ElementRef `json:"fallbacks,omitempty"` // ordered candidate list
}

// Empty reports whether the ref carries no usable locator at all.
func (r ElementRef) Empty() bool {
	return r.Selector == "" && r.Ref == "" && r.Text == "" && r.Role == "" &&
		r.X == nil && r.Y == nil && len(r.Fallbacks) == 0
}

// HasCoordinates reports whether X and Y are both set.
func (r ElementRef) HasCoordinates() bool {
	return r.X != nil && r.Y != nil
}

// Step is one entry in an ordered run: a map with exactly one recognized
// action key plus the optional hook keys (readyWhen/settledWhen/observe).
// Raw is the original decoded step map, kept so the executor can re-inspect
// fields a typed struct does not surface and so error results can echo the
// step's params verbatim.
type Step struct {
	Action string          // the single recognized action key found during validation
	Raw    map[string]any  // the full decoded step, including the action's own params
	Params json.RawMessage // Raw[Action] re-marshaled, handed to the action-specific decoder
}

// Hooks are the three step-scoped function-string hooks that may accompany
// any step's params object.
type Hooks struct {
	ReadyWhen   string `json:"readyWhen,omitempty"`
	SettledWhen string `json:"settledWhen,omitempty"`
	Observe     string `json:"observe,omitempty"`
}

// StatusKind is the two-value status vocabulary used by both StepResult and
// RunReport.
type StatusKind string

const (
	StatusOK    StatusKind = "ok"
	StatusError StatusKind = "error"
)

// FailureContext is the best-effort diagnostic snapshot attached to a failed
// StepResult.
type FailureContext struct {
	Title          *string  `json:"title"`
	URL            *string  `json:"url"`
	VisibleButtons []string `json:"visibleButtons"`
	VisibleLinks   []string `json:"visibleLinks"`
	VisibleErrors  []string `json:"visibleErrors"`
}

// StepResult is the structured outcome of executing one Step.
type StepResult struct {
	Action          string          `json:"action"`
	Status          StatusKind      `json:"status"`
	Output          any             `json:"output,omitempty"`
	Error           string          `json:"error,omitempty"`
	Warning         string          `json:"warning,omitempty"`
	Observation     any             `json:"observation,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"` // only present on error
	SiteProfile     string          `json:"siteProfile,omitempty"`
	ProfileAvail    *bool           `json:"profileAvailable,omitempty"`
	ProfileDomain   string          `json:"profileDomain,omitempty"`
	FailureContext  *FailureContext `json:"failureContext,omitempty"`
}

// RunError is one entry in RunReport.Errors.
type RunError struct {
	Step  int    `json:"step"`
	Error string `json:"error"`
}

// RunReport is the result of executing an ordered Step list.
type RunReport struct {
	ID          string       `json:"id"`
	Status      StatusKind   `json:"status"`
	Steps       []StepResult `json:"steps"`
	Errors      []RunError   `json:"errors"`
	Screenshots [][]byte     `json:"-"`
	ScreenshotCount int      `json:"screenshotCount"`
	Summary     any          `json:"summary,omitempty"`
}

// ValidationIssue is one error found for one step during validation.
type ValidationIssue struct {
	Index  int      `json:"index"`
	Step   any      `json:"step"`
	Errors []string `json:"errors"`
}

// ValidationResult is the total, pure output of validating a step list.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors"`
}
