package step

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/pilot/actionability"
	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/input"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/profile"
	"github.com/use-agent/pilot/resolve"
	"github.com/use-agent/pilot/session"
	"github.com/use-agent/pilot/wait"
)

// Deps bundles every collaborator a step handler may need. Constructed once
// per page session and reused across a run.
type Deps struct {
	Session  *session.Session
	Resolver *resolve.Resolver
	Checker  *actionability.Checker
	Input    *input.Emulator
	Console  *capture.ConsoleCapture
	Network  *capture.NetworkCapture
	Errors   *capture.ErrorAggregator
	Profiles *profile.Store

	DefaultStepTimeout time.Duration
	DefaultPollInterval time.Duration
	Logger             *slog.Logger
}

// Executor validates, dispatches, and wraps each step.
type Executor struct {
	deps Deps
}

// New creates an Executor with the given dependencies.
func New(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultStepTimeout <= 0 {
		deps.DefaultStepTimeout = 30 * time.Second
	}
	if deps.DefaultPollInterval <= 0 {
		deps.DefaultPollInterval = 100 * time.Millisecond
	}
	return &Executor{deps: deps}
}

// RunOptions configures a multi-step Run.
type RunOptions struct {
	// StopOnError stops the run after the first failing step. Run does not
	// default it: the zero value continues past errors, so the CLI, MCP and
	// HTTP front-ends pass true unless told otherwise.
	StopOnError bool
}

// Run validates the entire step list up front (aborting before any side
// effect on failure), then executes steps in order, honoring StopOnError.
func (ex *Executor) Run(ctx context.Context, id string, rawSteps []map[string]any, opts RunOptions) (models.RunReport, error) {
	vr := Validate(rawSteps)
	if !vr.Valid {
		msg := "step validation failed"
		if len(vr.Errors) > 0 {
			msg = fmt.Sprintf("step validation failed: step %d: %v", vr.Errors[0].Index, vr.Errors[0].Errors)
		}
		return models.RunReport{}, models.NewDriverError(models.ErrStepValidation, msg, nil)
	}

	report := models.RunReport{ID: id, Status: models.StatusOK}

	for i, raw := range rawSteps {
		result := ex.ExecuteOne(ctx, raw)
		report.Steps = append(report.Steps, result)
		if result.Status == models.StatusError {
			report.Status = models.StatusError
			report.Errors = append(report.Errors, models.RunError{Step: i, Error: result.Error})
			if opts.StopOnError {
				break
			}
		}
	}

	return report, nil
}

// ExecuteOne validates (defensively), dispatches, and wraps a single
// step, applying readyWhen/settledWhen/observe hooks and attaching
// failure diagnostics on error.
func (ex *Executor) ExecuteOne(ctx context.Context, raw map[string]any) models.StepResult {
	action, params, err := extractAction(raw)
	if err != nil {
		return errorResult("", raw, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, ex.deps.DefaultStepTimeout)
	defer cancel()

	hooks := extractHooks(raw)

	if hooks.ReadyWhen != "" {
		if err := wait.Function(stepCtx, ex.deps.Session, hooks.ReadyWhen, wait.Options{Interval: ex.deps.DefaultPollInterval}); err != nil {
			return ex.withDiagnostics(stepCtx, errorResult(action, raw, err))
		}
	}

	handler, ok := handlers[action]
	if !ok {
		return errorResult(action, raw, models.NewDriverError(models.ErrStepValidation, fmt.Sprintf("unknown action %q", action), nil))
	}

	output, observationSeed, err := handler(stepCtx, ex.deps, params)
	if err != nil {
		return ex.withDiagnostics(stepCtx, errorResult(action, raw, err))
	}

	result := models.StepResult{Action: action, Status: models.StatusOK, Output: output}
	_ = observationSeed

	if hooks.SettledWhen != "" {
		if werr := wait.Function(stepCtx, ex.deps.Session, hooks.SettledWhen, wait.Options{Interval: ex.deps.DefaultPollInterval}); werr != nil {
			result.Warning = "settledWhen timed out"
		}
	}

	if hooks.Observe != "" {
		if obs, oerr := ex.evaluate(stepCtx, hooks.Observe); oerr == nil {
			result.Observation = obs
		}
	}

	return result
}

func errorResult(action string, raw map[string]any, err error) models.StepResult {
	params, _ := json.Marshal(raw[action])
	return models.StepResult{
		Action: action,
		Status: models.StatusError,
		Error:  err.Error(),
		Params: params,
	}
}

func extractAction(raw map[string]any) (string, any, error) {
	for k, v := range raw {
		if hookKeys[k] {
			continue
		}
		if actionKeys[k] {
			return k, v, nil
		}
	}
	return "", nil, models.NewDriverError(models.ErrStepValidation, "step has no recognized action key", nil)
}

func extractHooks(raw map[string]any) models.Hooks {
	var h models.Hooks
	if v, ok := raw["readyWhen"].(string); ok {
		h.ReadyWhen = v
	}
	if v, ok := raw["settledWhen"].(string); ok {
		h.SettledWhen = v
	}
	if v, ok := raw["observe"].(string); ok {
		h.Observe = v
	}
	return h
}

// withDiagnostics attempts best-effort {title, url, visibleButtons,
// visibleLinks, visibleErrors} capture; each sub-capture independently
// catches errors and contributes null/[] on failure.
func (ex *Executor) withDiagnostics(ctx context.Context, result models.StepResult) models.StepResult {
	fc := &models.FailureContext{}

	if title, err := ex.evalString(ctx, "document.title"); err == nil {
		fc.Title = &title
	}
	if u, err := ex.evalString(ctx, "location.href"); err == nil {
		fc.URL = &u
	}
	fc.VisibleButtons = ex.evalStringList(ctx, `Array.from(document.querySelectorAll('button,input[type=submit]')).filter(e=>e.offsetParent!==null).slice(0,20).map(e=>(e.innerText||e.value||'').trim())`)
	fc.VisibleLinks = ex.evalStringList(ctx, `Array.from(document.querySelectorAll('a[href]')).filter(e=>e.offsetParent!==null).slice(0,20).map(e=>e.href)`)
	if ex.deps.Errors != nil {
		for _, e := range ex.deps.Errors.GetCriticalErrors() {
			fc.VisibleErrors = append(fc.VisibleErrors, e.Text)
		}
	}

	result.FailureContext = fc
	return result
}

func (ex *Executor) evalString(ctx context.Context, expr string) (string, error) {
	raw, err := ex.deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return "", err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return "", fmt.Errorf("evaluate failed")
	}
	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return "", err
	}
	return wrapped.Value, nil
}

func (ex *Executor) evalStringList(ctx context.Context, expr string) []string {
	raw, err := ex.deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil
	}
	var wrapped struct {
		Value []string `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return nil
	}
	return wrapped.Value
}

// evaluate backs the observe hook. It routes expr through the same remote
// serializer as handleEval/handlePageFunction so the observation value is
// the tagged envelope shape, not CDP's native RemoteObject shape.
func (ex *Executor) evaluate(ctx context.Context, expr string) (any, error) {
	raw, err := ex.deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    capture.WrapEvalExpression(expr),
		"returnByValue": true,
		"awaitPromise":  true,
	}, 0)
	if err != nil {
		return nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return nil, decErr
	}
	if threw {
		return nil, models.NewDriverError(models.ErrProtocol, "evaluation threw", nil)
	}
	serialized, err := capture.ExtractSerializedValue(env)
	if err != nil {
		return nil, err
	}
	return capture.DecodeEnvelope(serialized)
}

func parseElementRef(m map[string]any) models.ElementRef {
	var ref models.ElementRef
	if s, ok := m["selector"].(string); ok {
		ref.Selector = s
	}
	if s, ok := m["ref"].(string); ok {
		ref.Ref = s
	}
	if s, ok := m["text"].(string); ok {
		ref.Text = s
	}
	if s, ok := m["label"].(string); ok && ref.Text == "" {
		ref.Text = s
	}
	if x, ok := asNumber(m["x"]); ok {
		ref.X = &x
	}
	if y, ok := asNumber(m["y"]); ok {
		ref.Y = &y
	}
	if list, ok := m["selectors"].([]any); ok {
		for _, item := range list {
			if s, isStr := item.(string); isStr {
				ref.Fallbacks = append(ref.Fallbacks, models.ElementRef{Selector: s})
			}
		}
	}
	return ref
}

func elementRefFromAny(params any) models.ElementRef {
	switch v := params.(type) {
	case string:
		return models.ElementRef{Selector: v}
	case map[string]any:
		return parseElementRef(v)
	default:
		return models.ElementRef{}
	}
}

func hostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}
