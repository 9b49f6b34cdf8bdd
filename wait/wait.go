// Package wait implements the wait primitives (C6): condition polling,
// predicate-evaluation polling, network-idle detection, document-ready,
// selector-appearance, and text-appearance. All primitives share one
// contract — a deadline, a polling interval, and detachment of every
// listener/timer on every exit path — and fail with a timeout-kind error
// carrying the original descriptor on expiry.
package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/session"
)

// Options configures any of the wait primitives.
type Options struct {
	Timeout  time.Duration // deadline; default 30s if <= 0
	Interval time.Duration // poll cadence; default 100ms if <= 0
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

// Condition polls an async predicate callback on the host until it returns
// true or the deadline elapses.
func Condition(ctx context.Context, opts Options, predicate func(ctx context.Context) (bool, error)) error {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(ctx)
		if err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return models.NewDriverError(models.ErrTimeout, "condition wait timed out", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Function evaluates expr remotely and polls until the result is truthy
// (per the serialized-truthy rule), swallowing evaluation exceptions and
// continuing to poll until the deadline.
func Function(ctx context.Context, sess *session.Session, expr string, opts Options) error {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		raw, err := sess.Send(ctx, "Runtime.evaluate", map[string]any{
			"expression":    capture.WrapEvalExpression(expr),
			"returnByValue": true,
			"awaitPromise":  true,
		}, opts.Timeout)
		if err == nil {
			if env, threw, decErr := capture.ExtractEvaluateResult(raw); decErr == nil && !threw {
				if serialized, serr := capture.ExtractSerializedValue(env); serr == nil && capture.IsSerializedTruthy(serialized) {
					return nil
				}
			}
			// threw or decode error: swallow and keep polling until deadline.
		}
		if time.Now().After(deadline) {
			return models.NewDriverError(models.ErrTimeout, fmt.Sprintf("function wait timed out: %s", expr), nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DocumentReady polls document.readyState until it reaches or exceeds
// target ("loading" < "interactive" < "complete").
func DocumentReady(ctx context.Context, sess *session.Session, target string, opts Options) error {
	if target == "" {
		target = "complete"
	}
	expr := fmt.Sprintf(`(function(){
		var order = {loading:0, interactive:1, complete:2};
		var want = order[%q];
		return order[document.readyState] >= want;
	})()`, target)
	return Function(ctx, sess, expr, opts)
}

// Selector waits until selector matches a visible element (non-zero size,
// not display:none or visibility:hidden), or, with hidden=true, until it
// matches nothing or only a hidden element.
func Selector(ctx context.Context, sess *session.Session, selector string, hidden bool, opts Options) error {
	var expr string
	if hidden {
		expr = fmt.Sprintf(`(function(){
			var el = document.querySelector(%q);
			if (!el) return true;
			var r = el.getBoundingClientRect();
			var style = getComputedStyle(el);
			return style.display === 'none' || style.visibility === 'hidden' || (r.width === 0 && r.height === 0);
		})()`, selector)
	} else {
		expr = fmt.Sprintf(`(function(){
			var el = document.querySelector(%q);
			if (!el) return false;
			var r = el.getBoundingClientRect();
			var style = getComputedStyle(el);
			return style.display !== 'none' && style.visibility !== 'hidden' && r.width > 0 && r.height > 0;
		})()`, selector)
	}
	if err := Function(ctx, sess, expr, opts); err != nil {
		if de := models.AsDriverError(err); de != nil {
			de.Message = fmt.Sprintf("selector wait timed out: %s", selector)
		}
		return err
	}
	return nil
}

// Text waits for document.body.innerText to contain (or, with exact=true,
// equal) text. Case-insensitive by default.
func Text(ctx context.Context, sess *session.Session, text string, exact bool, opts Options) error {
	var expr string
	if exact {
		expr = fmt.Sprintf(`(document.body.innerText.trim().toLowerCase() === %q.toLowerCase())`, text)
	} else {
		expr = fmt.Sprintf(`(document.body.innerText.toLowerCase().indexOf(%q.toLowerCase()) !== -1)`, text)
	}
	if err := Function(ctx, sess, expr, opts); err != nil {
		if de := models.AsDriverError(err); de != nil {
			de.Message = fmt.Sprintf("text wait timed out: %s", text)
		}
		return err
	}
	return nil
}
