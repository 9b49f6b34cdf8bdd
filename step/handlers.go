package step

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/pilot/actionability"
	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/input"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/wait"
)

// handlerFunc executes one action's params against deps, returning the
// step's output value (attached to StepResult.Output on success).
type handlerFunc func(ctx context.Context, deps Deps, params any) (any, any, error)

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		"goto":              handleGoto,
		"wait":              handleWait,
		"click":             handleClick,
		"hover":             handleHover,
		"fill":              handleFill,
		"press":             handlePress,
		"type":              handleType,
		"select":            handleSelect,
		"selectOption":      handleSelect,
		"query":             handleQuery,
		"queryAll":          handleQueryAll,
		"viewport":          handleViewport,
		"cookies":           handleCookies,
		"console":           handleConsole,
		"network":           handleNetwork,
		"assert":            handleAssert,
		"scroll":            handleScroll,
		"drag":              handleDrag,
		"eval":              handleEval,
		"pageFunction":      handlePageFunction,
		"poll":              handlePoll,
		"pipeline":          handlePipeline,
		"writeSiteProfile":  handleWriteSiteProfile,
		"screenshot":        handleScreenshot,
		"back":              handleBack,
		"forward":           handleForward,
		"waitForNavigation": handleWaitForNavigation,
		"getBox":            handleGetBox,
		"refAt":             handleRefAt,
		"extract":           handleExtract,
		"inspect":           handleInspect,
		"listTabs":          handleListTabs,
		"fillForm":          handleFillForm,
		"snapshot":          handleSnapshot,
		"elementsAt":        handleElementsAt,
		"elementsNear":      handleElementsNear,
		"switchToFrame":     handleSwitchToFrame,
		"switchToMainFrame": handleSwitchToMainFrame,
		"listFrames":        handleListFrames,
		"openTab":           handleOpenTab,
		"closeTab":          handleCloseTab,
	}
}

func asParamsMap(params any) map[string]any {
	if m, ok := params.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// goto consults the profile store for the navigation host, per the
// site-profile design note: this is the only step with implicit external
// state access.
func handleGoto(ctx context.Context, deps Deps, params any) (any, any, error) {
	var targetURL string
	switch v := params.(type) {
	case string:
		targetURL = v
	case map[string]any:
		targetURL, _ = v["url"].(string)
	}
	if targetURL == "" {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "goto requires a url", nil)
	}

	_, err := deps.Session.Send(ctx, "Page.navigate", map[string]any{"url": targetURL}, 0)
	if err != nil {
		return nil, nil, models.NewDriverError(models.ErrNavigation, "navigation failed", err)
	}

	output := map[string]any{"url": targetURL}

	if deps.Profiles != nil {
		domain := hostFromURL(targetURL)
		if text, ok, perr := deps.Profiles.Get(domain); perr == nil {
			if ok {
				output["siteProfile"] = text
			} else {
				output["profileAvailable"] = false
				output["profileDomain"] = domain
			}
		}
	}

	return output, nil, nil
}

func handleWait(ctx context.Context, deps Deps, params any) (any, any, error) {
	opts := wait.Options{Interval: deps.DefaultPollInterval}
	switch v := params.(type) {
	case string:
		return nil, nil, wait.Selector(ctx, deps.Session, v, false, opts)
	case map[string]any:
		if ms, ok := asNumber(v["timeout"]); ok {
			opts.Timeout = time.Duration(ClampTimeout(int(ms))) * time.Millisecond
		}
		if sel, ok := v["selector"].(string); ok {
			hidden, _ := v["hidden"].(bool)
			return nil, nil, wait.Selector(ctx, deps.Session, sel, hidden, opts)
		}
		if text, ok := v["text"].(string); ok {
			exact, _ := v["exact"].(bool)
			return nil, nil, wait.Text(ctx, deps.Session, text, exact, opts)
		}
		if fn, ok := v["documentReady"].(string); ok {
			return nil, nil, wait.DocumentReady(ctx, deps.Session, fn, opts)
		}
		if ms, ok := asNumber(v["networkIdle"]); ok {
			return nil, nil, wait.NetworkIdle(ctx, deps.Session, time.Duration(ms)*time.Millisecond, opts)
		}
	}
	return nil, nil, models.NewDriverError(models.ErrStepValidation, "wait requires a selector, text, or condition", nil)
}

func handleClick(ctx context.Context, deps Deps, params any) (any, any, error) {
	ref := elementRefFromAny(params)
	resolved, err := deps.Checker.WaitForActionable(ctx, ref, actionability.ActionClick, actionability.Options{Interval: deps.DefaultPollInterval})
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)

	x, y, err := deps.Checker.ClickablePoint(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	if err := deps.Input.Click(ctx, x, y, clickOptsFromParams(params)); err != nil {
		return nil, nil, err
	}
	return map[string]any{"resolvedBy": resolved.ResolvedBy}, nil, nil
}

func clickOptsFromParams(params any) input.ClickOptions {
	var opts input.ClickOptions
	if m, ok := params.(map[string]any); ok {
		if b, ok := m["button"].(string); ok {
			opts.Button = input.MouseButton(b)
		}
		if n, ok := asNumber(m["clickCount"]); ok {
			opts.ClickCount = int(n)
		}
	}
	return opts
}

func handleHover(ctx context.Context, deps Deps, params any) (any, any, error) {
	ref := elementRefFromAny(params)
	resolved, err := deps.Checker.WaitForActionable(ctx, ref, actionability.ActionHover, actionability.Options{Interval: deps.DefaultPollInterval})
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)

	x, y, err := deps.Checker.ClickablePoint(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	return nil, nil, deps.Input.Hover(ctx, x, y)
}

func handleFill(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	value, _ := m["value"].(string)
	ref := parseElementRef(m)

	resolved, err := deps.Checker.WaitForActionable(ctx, ref, actionability.ActionFill, actionability.Options{Interval: deps.DefaultPollInterval})
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)

	if err := deps.Input.InsertText(ctx, value); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func handlePress(ctx context.Context, deps Deps, params any) (any, any, error) {
	combo, _ := params.(string)
	return nil, nil, deps.Input.Press(ctx, combo)
}

func handleType(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	text, _ := m["text"].(string)
	if text == "" {
		if s, ok := params.(string); ok {
			text = s
		}
	}
	return nil, nil, deps.Input.Type(ctx, text)
}

func handleSelect(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	value, _ := m["value"].(string)
	ref := parseElementRef(m)
	resolved, err := deps.Checker.WaitForActionable(ctx, ref, actionability.ActionSelect, actionability.Options{Interval: deps.DefaultPollInterval})
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)

	_, err = deps.Session.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId":            resolved.ObjectID,
		"functionDeclaration": fmt.Sprintf(`function(){ this.value = %s; this.dispatchEvent(new Event('change', {bubbles:true})); }`, jsonStr(value)),
	}, 0)
	return nil, nil, err
}

func handleQuery(ctx context.Context, deps Deps, params any) (any, any, error) {
	ref := elementRefFromAny(params)
	resolved, err := deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)
	return map[string]any{"box": resolved.Box, "resolvedBy": resolved.ResolvedBy}, nil, nil
}

func handleQueryAll(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	selector, _ := m["selector"].(string)
	if selector == "" {
		if s, ok := params.(string); ok {
			selector = s
		}
	}
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    fmt.Sprintf("Array.from(document.querySelectorAll(%s)).length", jsonStr(selector)),
		"returnByValue": true,
	}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode queryAll result", decErr)
	}
	var wrapped struct {
		Value int `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return map[string]any{"count": wrapped.Value}, nil, nil
}

func handleViewport(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	width, _ := asNumber(m["width"])
	height, _ := asNumber(m["height"])
	_, err := deps.Session.Send(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width": int(width), "height": int(height), "deviceScaleFactor": 1, "mobile": false,
	}, 0)
	return nil, nil, err
}

func handleCookies(ctx context.Context, deps Deps, params any) (any, any, error) {
	raw, err := deps.Session.Send(ctx, "Network.getCookies", nil, 0)
	if err != nil {
		return nil, nil, err
	}
	var res any
	_ = json.Unmarshal(raw, &res)
	return res, nil, nil
}

func handleConsole(ctx context.Context, deps Deps, params any) (any, any, error) {
	if deps.Console == nil {
		return []capture.Message{}, nil, nil
	}
	return deps.Console.Messages(), nil, nil
}

func handleNetwork(ctx context.Context, deps Deps, params any) (any, any, error) {
	if deps.Network == nil {
		return []capture.NetworkError{}, nil, nil
	}
	return deps.Network.Errors(), nil, nil
}

type assertion struct {
	Type   string `json:"type"`
	Passed bool   `json:"passed"`
}

func handleAssert(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	var assertions []assertion

	if u, ok := m["url"].(map[string]any); ok {
		current, err := assertEvalString(ctx, deps, "location.href")
		if err != nil {
			return nil, nil, err
		}
		passed := true
		if contains, ok := u["contains"].(string); ok {
			passed = strings.Contains(current, contains)
		}
		if eq, ok := u["equals"].(string); ok {
			passed = current == eq
		}
		assertions = append(assertions, assertion{Type: "url", Passed: passed})
	}

	if text, ok := m["text"].(map[string]any); ok {
		current, err := assertEvalString(ctx, deps, "document.body.innerText")
		if err != nil {
			return nil, nil, err
		}
		passed := true
		if contains, ok := text["contains"].(string); ok {
			passed = strings.Contains(strings.ToLower(current), strings.ToLower(contains))
		}
		assertions = append(assertions, assertion{Type: "text", Passed: passed})
	}

	allPassed := true
	for _, a := range assertions {
		if !a.Passed {
			allPassed = false
		}
	}
	if !allPassed {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "assertion failed", nil)
	}

	return map[string]any{"assertions": assertions}, nil, nil
}

func assertEvalString(ctx context.Context, deps Deps, expr string) (string, error) {
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return "", err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return "", models.NewDriverError(models.ErrProtocol, "decode assert eval", decErr)
	}
	var wrapped struct {
		Value string `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return wrapped.Value, nil
}

func handleScroll(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	dx, _ := asNumber(m["deltaX"])
	dy, _ := asNumber(m["deltaY"])
	return nil, nil, deps.Input.Scroll(ctx, 0, 0, dx, dy)
}

func handleDrag(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	pointsRaw, _ := m["path"].([]any)
	path := make([]struct{ X, Y float64 }, 0, len(pointsRaw))
	for _, p := range pointsRaw {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		x, _ := asNumber(pm["x"])
		y, _ := asNumber(pm["y"])
		path = append(path, struct{ X, Y float64 }{X: x, Y: y})
	}
	return nil, nil, deps.Input.Drag(ctx, path, "")
}

func handleEval(ctx context.Context, deps Deps, params any) (any, any, error) {
	expr, _ := params.(string)
	if expr == "" {
		if m, ok := params.(map[string]any); ok {
			expr, _ = m["expression"].(string)
		}
	}
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    capture.WrapEvalExpression(expr),
		"returnByValue": true,
		"awaitPromise":  true,
	}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return nil, nil, decErr
	}
	if threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "eval threw", nil)
	}
	serialized, err := capture.ExtractSerializedValue(env)
	if err != nil {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode eval result", err)
	}
	out, err := capture.DecodeEnvelope(serialized)
	return out, nil, err
}

// pageFunction evaluates a single function, optionally passing the
// snapshot ref table as its argument.
func handlePageFunction(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	fn, _ := m["fn"].(string)
	passRefTable, _ := m["withRefTable"].(bool)

	arg := "undefined"
	if passRefTable {
		arg = "window.__ariaRefMeta"
	}
	expr := fmt.Sprintf("(%s)(%s)", fn, arg)

	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    capture.WrapEvalExpression(expr),
		"returnByValue": true,
		"awaitPromise":  true,
	}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return nil, nil, decErr
	}
	if threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "pageFunction threw", nil)
	}
	serialized, err := capture.ExtractSerializedValue(env)
	if err != nil {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode pageFunction result", err)
	}
	out, err := capture.DecodeEnvelope(serialized)
	return out, nil, err
}

// poll repeatedly evaluates a predicate until serialized-truthy or
// deadline.
func handlePoll(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	fn, _ := m["fn"].(string)
	interval := deps.DefaultPollInterval
	if ms, ok := asNumber(m["interval"]); ok {
		interval = time.Duration(ms) * time.Millisecond
	}
	timeout := deps.DefaultStepTimeout
	if ms, ok := asNumber(m["timeout"]); ok {
		timeout = time.Duration(ClampTimeout(int(ms))) * time.Millisecond
	}

	expr := fmt.Sprintf("(%s)()", fn)
	err := wait.Function(ctx, deps.Session, expr, wait.Options{Timeout: timeout, Interval: interval})
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"resolved": true}, nil, nil
}

// pipeline compiles micro-ops into one async function and evaluates it
// once with awaitPromise=true.
func handlePipeline(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	opsRaw, _ := m["ops"].([]any)

	opsJSON, err := json.Marshal(opsRaw)
	if err != nil {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "invalid pipeline ops", err)
	}

	expr := fmt.Sprintf(pipelineRunnerTemplate, string(opsJSON))

	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"awaitPromise":  true,
		"returnByValue": true,
	}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return nil, nil, decErr
	}
	if threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "pipeline threw", nil)
	}
	var wrapped struct {
		Value map[string]any `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode pipeline result", err)
	}
	return wrapped.Value, nil, nil
}

// pipelineRunnerTemplate is the opaque remote-injected script that runs a
// micro-op list; %s is replaced with the JSON-encoded ops array. Treated as
// a versioned asset, not as host code, per the remote-injected-scripts
// design note.
const pipelineRunnerTemplate = `(async function(){
	var ops = %s;
	var results = [];
	function find(locator){
		if (locator.selector) return document.querySelector(locator.selector);
		return null;
	}
	for (var i=0;i<ops.length;i++){
		var op = ops[i];
		try {
			if (op.find) {
				var el = find(op.find);
				if (!el) return {completed:false, steps:i, results:results, failedAt:i, error:"not found"};
				if (op.fill !== undefined) { el.value = op.fill; el.dispatchEvent(new Event('change',{bubbles:true})); }
				if (op.click) { el.click(); }
				if (op.type !== undefined) { el.value = (el.value||'') + op.type; }
				if (op.check !== undefined) { el.checked = !!op.check; }
				if (op.select !== undefined) { el.value = op.select; }
			}
			if (op.sleep) { await new Promise(function(r){ setTimeout(r, op.sleep); }); }
			if (op.return) { return {completed:true, steps:ops.length, results:results, value: op.return}; }
			results.push({op:i, ok:true});
		} catch (e) {
			return {completed:false, steps:i, results:results, failedAt:i, error:String(e)};
		}
	}
	return {completed:true, steps:ops.length, results:results};
})()`

func handleWriteSiteProfile(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	domain, _ := m["domain"].(string)
	text, _ := m["text"].(string)
	if deps.Profiles == nil {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "no profile store configured", nil)
	}
	if err := deps.Profiles.Set(domain, text); err != nil {
		return nil, nil, err
	}
	return map[string]any{"domain": domain}, nil, nil
}

func handleScreenshot(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	opts := capture.Options{Format: capture.FormatPNG, Mode: capture.ModeViewport}
	if f, ok := m["format"].(string); ok {
		opts.Format = capture.Format(f)
	}
	if q, ok := asNumber(m["quality"]); ok {
		qi := int(q)
		opts.Quality = &qi
	}
	if mode, ok := m["mode"].(string); ok {
		opts.Mode = capture.Mode(mode)
	}

	shot := capture.NewScreenshot(deps.Session)
	data, err := shot.Capture(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"bytes": len(data), "format": string(opts.Format)}, nil, nil
}

func handleBack(ctx context.Context, deps Deps, params any) (any, any, error) {
	_, err := deps.Session.Send(ctx, "Page.navigate", map[string]any{"url": "javascript:history.back()"}, 0)
	return nil, nil, err
}

func handleForward(ctx context.Context, deps Deps, params any) (any, any, error) {
	_, err := deps.Session.Send(ctx, "Page.navigate", map[string]any{"url": "javascript:history.forward()"}, 0)
	return nil, nil, err
}

func handleWaitForNavigation(ctx context.Context, deps Deps, params any) (any, any, error) {
	opts := wait.Options{Interval: deps.DefaultPollInterval}
	_, err := deps.Session.WaitForEvent(ctx, "Page.frameNavigated", nil, opts.Timeout)
	return nil, nil, err
}

func handleGetBox(ctx context.Context, deps Deps, params any) (any, any, error) {
	ref := elementRefFromAny(params)
	resolved, err := deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)
	return resolved.Box, nil, nil
}

func handleRefAt(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	ref, _ := m["ref"].(string)
	resolved, err := deps.Resolver.Resolve(ctx, models.ElementRef{Ref: ref})
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)
	return map[string]any{"box": resolved.Box}, nil, nil
}

func handleExtract(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	selector, _ := m["selector"].(string)
	expr := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		return el ? el.innerText : null;
	})()`, jsonStr(selector))
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode extract result", decErr)
	}
	var wrapped struct {
		Value *string `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return wrapped.Value, nil, nil
}

func handleInspect(ctx context.Context, deps Deps, params any) (any, any, error) {
	summary := map[string]any{}
	if deps.Errors != nil {
		summary["errors"] = deps.Errors.ToJSON()
	}
	return summary, nil, nil
}

func handleListTabs(ctx context.Context, deps Deps, params any) (any, any, error) {
	return map[string]any{"note": "listTabs is served by the target registry at the driver level"}, nil, nil
}

// fillForm fills a list of {selector|ref, value} fields in one step,
// generalizing handleFill to a batch, per the spec's form-filling action.
func handleFillForm(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	fieldsRaw, _ := m["fields"].([]any)
	if len(fieldsRaw) == 0 {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "fillForm requires a non-empty fields list", nil)
	}

	filled := 0
	for _, fRaw := range fieldsRaw {
		fm, ok := fRaw.(map[string]any)
		if !ok {
			continue
		}
		value, _ := fm["value"].(string)
		ref := parseElementRef(fm)

		resolved, err := deps.Checker.WaitForActionable(ctx, ref, actionability.ActionFill, actionability.Options{Interval: deps.DefaultPollInterval})
		if err != nil {
			return nil, nil, err
		}
		ierr := deps.Input.InsertText(ctx, value)
		_ = resolved.Release(ctx)
		if ierr != nil {
			return nil, nil, ierr
		}
		filled++
	}
	return map[string]any{"filled": filled}, nil, nil
}

type snapshotNode struct {
	Ref  string `json:"ref"`
	Role string `json:"role"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type snapshotResult struct {
	Snapshot int            `json:"snapshot"`
	Nodes    []snapshotNode `json:"nodes"`
}

// snapshotScript walks the current document's interactive/labeled elements,
// assigns each an "s{N}e{M}" ref (N: this snapshot's generation, M: index
// within it), and seeds window.__ariaRefMeta so resolve.Resolver's
// bySnapshotRef strategy can look a ref back up later - the accessibility-
// style by-ref resolution the spec's Data Model names, which otherwise has
// nothing to populate __ariaRefMeta.
const snapshotScript = `(function(){
	window.__pilotSnapshotSeq = (window.__pilotSnapshotSeq || 0) + 1;
	var snapNum = window.__pilotSnapshotSeq;
	if (!window.__ariaRefMeta) window.__ariaRefMeta = new Map();

	function cssPath(el) {
		var path = [];
		while (el && el.nodeType === 1 && el !== document.documentElement) {
			var selector = el.tagName.toLowerCase();
			if (el.id) { path.unshift(selector + '#' + el.id); break; }
			var sib = el, nth = 1;
			while ((sib = sib.previousElementSibling)) { if (sib.tagName === el.tagName) nth++; }
			path.unshift(selector + ':nth-of-type(' + nth + ')');
			el = el.parentElement;
		}
		return path.join('>');
	}
	function accessibleName(el) {
		return (el.getAttribute('aria-label') || el.innerText || el.value || el.alt || el.title || '').trim().slice(0, 120);
	}
	function role(el) {
		if (el.getAttribute('role')) return el.getAttribute('role');
		var tag = el.tagName.toLowerCase();
		var byTag = {a: 'link', button: 'button', input: 'textbox', textarea: 'textbox', select: 'combobox', img: 'img', h1: 'heading', h2: 'heading', h3: 'heading', label: 'label'};
		return byTag[tag] || 'generic';
	}

	var els = Array.from(document.querySelectorAll('a,button,input,select,textarea,[role],h1,h2,h3,img,label'));
	var nodes = [];
	var idx = 0;
	els.forEach(function(el){
		if (el.offsetParent === null && getComputedStyle(el).position !== 'fixed') return;
		idx++;
		var ref = 's' + snapNum + 'e' + idx;
		var r = role(el), name = accessibleName(el);
		window.__ariaRefMeta.set(ref, {selector: cssPath(el), shadowHostPath: [], role: r, name: name});
		nodes.push({ref: ref, role: r, name: name, tag: el.tagName.toLowerCase()});
	});
	return {snapshot: snapNum, nodes: nodes};
})()`

func handleSnapshot(ctx context.Context, deps Deps, params any) (any, any, error) {
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    snapshotScript,
		"returnByValue": true,
	}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode snapshot result", decErr)
	}
	var wrapped struct {
		Value snapshotResult `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode snapshot value", err)
	}
	return wrapped.Value, nil, nil
}

// handleElementsAt returns up to 20 elements stacked at one viewport point,
// per document.elementsFromPoint (z-order, topmost first) - useful for
// diagnosing a covered/obscured click target.
func handleElementsAt(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	x, _ := asNumber(m["x"])
	y, _ := asNumber(m["y"])
	expr := fmt.Sprintf(`(function(){
		var els = document.elementsFromPoint(%f, %f) || [];
		return els.slice(0, 20).map(function(el){
			return {tag: el.tagName.toLowerCase(), id: el.id || "", className: String(el.className || ""), text: (el.innerText || "").trim().slice(0, 80)};
		});
	})()`, x, y)
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode elementsAt result", decErr)
	}
	var wrapped struct {
		Value []map[string]any `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return wrapped.Value, nil, nil
}

// handleElementsNear resolves an anchor element, then returns nearby
// interactive elements within radius pixels of its center, nearest first.
func handleElementsNear(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	ref := parseElementRef(m)
	radius := 150.0
	if r, ok := asNumber(m["radius"]); ok && r > 0 {
		radius = r
	}

	resolved, err := deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	defer resolved.Release(ctx)

	cx := resolved.Box.X + resolved.Box.Width/2
	cy := resolved.Box.Y + resolved.Box.Height/2

	expr := fmt.Sprintf(`(function(){
		var cx = %f, cy = %f, radius = %f;
		var candidates = document.querySelectorAll('a,button,input,select,textarea,[role]');
		var out = [];
		for (var i = 0; i < candidates.length; i++) {
			var el = candidates[i];
			var r = el.getBoundingClientRect();
			var ex = r.x + r.width / 2, ey = r.y + r.height / 2;
			var d = Math.hypot(ex - cx, ey - cy);
			if (d <= radius) out.push({tag: el.tagName.toLowerCase(), id: el.id || "", text: (el.innerText || el.value || "").trim().slice(0, 80), distance: d});
		}
		out.sort(function(a, b){ return a.distance - b.distance; });
		return out.slice(0, 20);
	})()`, cx, cy, radius)

	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode elementsNear result", decErr)
	}
	var wrapped struct {
		Value []map[string]any `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return wrapped.Value, nil, nil
}

// handleSwitchToFrame verifies selector names a same-origin iframe/frame
// (contentDocument is accessible) and scopes subsequent selector/text/
// coordinate resolution to it via deps.Resolver.SetFrame.
func handleSwitchToFrame(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	selector, _ := m["selector"].(string)
	if selector == "" {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "switchToFrame requires a selector", nil)
	}
	expr := fmt.Sprintf(`(function(){
		var el = document.querySelector(%s);
		if (!el) return false;
		try { return !!el.contentDocument; } catch (e) { return false; }
	})()`, jsonStr(selector))
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode switchToFrame result", decErr)
	}
	var wrapped struct {
		Value bool `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	if !wrapped.Value {
		return nil, nil, models.NewDriverError(models.ErrElementNotFound, "frame not found or not same-origin", nil)
	}
	deps.Resolver.SetFrame(selector)
	return map[string]any{"selector": selector}, nil, nil
}

func handleSwitchToMainFrame(ctx context.Context, deps Deps, params any) (any, any, error) {
	deps.Resolver.SetFrame("")
	return map[string]any{"frame": "main"}, nil, nil
}

// handleListFrames lists iframe/frame elements within the currently active
// document (main document, or the frame last switched to).
func handleListFrames(ctx context.Context, deps Deps, params any) (any, any, error) {
	expr := fmt.Sprintf(`(function(){
		var root = %s;
		return Array.from(root.querySelectorAll('iframe,frame')).map(function(f, i){
			return {index: i, src: f.src || "", name: f.name || "", id: f.id || ""};
		});
	})()`, deps.Resolver.DocumentExpr())
	raw, err := deps.Session.Send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true}, 0)
	if err != nil {
		return nil, nil, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode listFrames result", decErr)
	}
	var wrapped struct {
		Value []map[string]any `json:"value"`
	}
	_ = json.Unmarshal(env, &wrapped)
	return map[string]any{"frames": wrapped.Value, "currentFrame": deps.Resolver.CurrentFrame()}, nil, nil
}

type createTargetResult struct {
	TargetID string `json:"targetId"`
}

// handleOpenTab issues Target.createTarget. Target.* commands are
// browser-scoped in CDP's flattened session model, so any attached
// session's id can carry them - the step executor has no separate
// driver-level connection handle to reach for.
func handleOpenTab(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	url, _ := m["url"].(string)
	if url == "" {
		url = "about:blank"
	}
	raw, err := deps.Session.Send(ctx, "Target.createTarget", map[string]any{"url": url}, 0)
	if err != nil {
		return nil, nil, err
	}
	var res createTargetResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil, models.NewDriverError(models.ErrProtocol, "decode openTab result", err)
	}
	return map[string]any{"targetId": res.TargetID}, nil, nil
}

func handleCloseTab(ctx context.Context, deps Deps, params any) (any, any, error) {
	m := asParamsMap(params)
	targetID, _ := m["targetId"].(string)
	if targetID == "" {
		return nil, nil, models.NewDriverError(models.ErrStepValidation, "closeTab requires targetId", nil)
	}
	_, err := deps.Session.Send(ctx, "Target.closeTarget", map[string]any{"targetId": targetID}, 0)
	if err != nil {
		return nil, nil, err
	}
	return map[string]any{"targetId": targetID, "closed": true}, nil, nil
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
