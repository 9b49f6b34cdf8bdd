// Package actionability implements the actionability checker (C8):
// orthogonal state probes (attached/visible/enabled/editable/stable/
// hit-target/pointer-events/covered) and waitForActionable, which repeats
// resolution + probing until every required state matches or a deadline
// elapses.
package actionability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/resolve"
	"github.com/use-agent/pilot/session"
)

// Action names the kind of interaction being checked for.
type Action string

const (
	ActionClick  Action = "click"
	ActionHover  Action = "hover"
	ActionFill   Action = "fill"
	ActionType   Action = "type"
	ActionSelect Action = "select"
	ActionOther  Action = "other"
)

// State is one orthogonal actionability probe.
type State string

const (
	StateAttached     State = "attached"
	StateVisible      State = "visible"
	StateEnabled      State = "enabled"
	StateEditable     State = "editable"
	StateStable       State = "stable"
	StateHitTarget    State = "hit-target"
	StatePointerEvent State = "pointer-events"
	StateCovered      State = "covered"
)

// requiredStates is the required-states list per action kind, per §4.8: an
// element is actionable for action A iff every required state matches and,
// for actions that target a point (click, hover), the hit-target check
// succeeds. Click and hover additionally require pointer-events and
// not-covered, since a point-dispatched event can otherwise silently land
// on an overlay rather than the intended element.
var requiredStates = map[Action][]State{
	ActionClick:  {StateAttached, StatePointerEvent, StateHitTarget, StateCovered},
	ActionHover:  {StateAttached, StatePointerEvent, StateHitTarget, StateCovered},
	ActionFill:   {StateAttached, StateEditable},
	ActionType:   {StateAttached, StateEditable},
	ActionSelect: {StateAttached},
	ActionOther:  {StateAttached},
}

// ProbeResult is the fixed-vocabulary outcome of one probe.
type ProbeResult struct {
	Matches  bool
	Received string
}

// Options configures waitForActionable.
type Options struct {
	Timeout  time.Duration
	Force    bool // skip state checks after the first resolution
	Interval time.Duration
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	return o
}

// Checker runs actionability probes against one page session.
type Checker struct {
	sess     *session.Session
	resolver *resolve.Resolver
}

// New creates a Checker bound to sess, using resolver for element
// resolution.
func New(sess *session.Session, resolver *resolve.Resolver) *Checker {
	return &Checker{sess: sess, resolver: resolver}
}

// WaitForActionable resolves ref, then for each action's required states,
// polls the corresponding probes until all match or the deadline elapses.
// With Force, probes are skipped after the first successful resolution.
func (c *Checker) WaitForActionable(ctx context.Context, ref models.ElementRef, action Action, opts Options) (*resolve.Resolved, error) {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.Timeout)
	states := requiredStates[action]
	if states == nil {
		states = requiredStates[ActionOther]
	}

	for {
		resolved, err := c.resolver.Resolve(ctx, ref)
		if err != nil {
			if time.Now().After(deadline) {
				return nil, models.NewDriverError(models.ErrElementNotFound, "Element not found", err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Interval):
			}
			continue
		}

		if opts.Force {
			return resolved, nil
		}

		ok, failedState, received := c.checkAll(ctx, resolved, states)
		if ok {
			return resolved, nil
		}

		_ = resolved.Release(ctx)

		if time.Now().After(deadline) {
			return nil, models.NewDriverError(models.ErrTimeout,
				fmt.Sprintf("not actionable: %s (%s)", failedState, received), nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
}

func (c *Checker) checkAll(ctx context.Context, res *resolve.Resolved, states []State) (bool, State, string) {
	for _, st := range states {
		pr, err := c.probe(ctx, res, st)
		if err != nil || !pr.Matches {
			return false, st, pr.Received
		}
	}
	return true, "", ""
}

func (c *Checker) probe(ctx context.Context, res *resolve.Resolved, state State) (ProbeResult, error) {
	var expr string
	switch state {
	case StateAttached:
		expr = `(function(){ return this.isConnected ? {matches:true,received:"attached"} : {matches:false,received:"detached"}; })`
	case StateVisible:
		expr = `(function(){
			var el=this, ancestor=el;
			while (ancestor) {
				var s = getComputedStyle(ancestor);
				if (s.display === 'none') return {matches:false,received:"display:none"};
				ancestor = ancestor.parentElement;
			}
			var style = getComputedStyle(el);
			if (style.visibility === 'hidden' || style.visibility === 'collapse') return {matches:false,received:"visibility:hidden"};
			if (parseFloat(style.opacity) <= 0) return {matches:false,received:"opacity:0"};
			var r = el.getBoundingClientRect();
			if (r.width === 0 && r.height === 0) return {matches:false,received:"zero-size"};
			return {matches:true,received:"visible"};
		})`
	case StateEnabled:
		expr = `(function(){
			if (this.disabled) return {matches:false,received:"disabled"};
			if (this.getAttribute('aria-disabled') === 'true') return {matches:false,received:"aria-disabled"};
			var fs = this.closest && this.closest('fieldset[disabled]');
			if (fs) return {matches:false,received:"fieldset-disabled"};
			return {matches:true,received:"enabled"};
		})`
	case StateEditable:
		expr = `(function(){
			var tag = this.tagName ? this.tagName.toLowerCase() : '';
			var textLike = ['text','search','url','tel','email','password','number'];
			var isInputLike = (tag === 'input' && textLike.indexOf(this.type) !== -1) || tag === 'textarea' || this.isContentEditable;
			if (!isInputLike) return {matches:false,received:"not-editable-element"};
			if (this.disabled || this.getAttribute('aria-disabled') === 'true') return {matches:false,received:"disabled"};
			if (this.readOnly) return {matches:false,received:"readonly"};
			return {matches:true,received:"editable"};
		})`
	case StateStable:
		expr = `(function(){
			var el=this;
			return new Promise(function(resolve){
				var r1 = el.getBoundingClientRect();
				requestAnimationFrame(function(){
					requestAnimationFrame(function(){
						var r2 = el.getBoundingClientRect();
						var same = r1.x===r2.x && r1.y===r2.y && r1.width===r2.width && r1.height===r2.height;
						resolve(same ? {matches:true,received:"stable"} : {matches:false,received:"unstable"});
					});
				});
			});
		})`
	case StateHitTarget:
		expr = `(function(){
			var r = this.getBoundingClientRect();
			var x = Math.min(Math.max(r.x + r.width/2, 0), innerWidth-1);
			var y = Math.min(Math.max(r.y + r.height/2, 0), innerHeight-1);
			var at = document.elementFromPoint(x,y);
			if (!at) return {matches:false,received:"no-element-at-point"};
			if (at === this || this.contains(at)) return {matches:true,received:"hit"};
			return {matches:false,received:"blocked"};
		})`
	case StatePointerEvent:
		expr = `(function(){
			var el=this;
			while (el) {
				if (getComputedStyle(el).pointerEvents === 'none') return {matches:false,received:"pointer-events:none"};
				el = el.parentElement;
			}
			return {matches:true,received:"auto"};
		})`
	case StateCovered:
		expr = `(function(){
			var r = this.getBoundingClientRect();
			var x = r.x + r.width/2, y = r.y + r.height/2;
			var at = document.elementFromPoint(x,y);
			if (at && at !== this && !this.contains(at)) {
				var sel = at.tagName ? at.tagName.toLowerCase() + (at.id ? '#'+at.id : '') : 'unknown';
				return {matches:false,received:sel};
			}
			return {matches:true,received:"not-covered"};
		})`
	default:
		return ProbeResult{}, models.NewDriverError(models.ErrStepValidation, fmt.Sprintf("unknown probe state %q", state), nil)
	}

	raw, err := c.sess.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId":            res.ObjectID,
		"functionDeclaration":  expr,
		"returnByValue":        true,
		"awaitPromise":         true,
	}, 0)
	if err != nil {
		return ProbeResult{}, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return ProbeResult{}, models.NewDriverError(models.ErrProtocol, "decode probe result", decErr)
	}
	if threw {
		return ProbeResult{Matches: false, Received: "probe-exception"}, nil
	}
	var wrapped struct {
		Value ProbeResult `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return ProbeResult{}, models.NewDriverError(models.ErrProtocol, "decode probe value", err)
	}
	return wrapped.Value, nil
}
