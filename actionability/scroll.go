package actionability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/resolve"
)

// ClickablePoint returns the center of the intersection of the element's
// rect with the viewport; if fully clipped, the nearest point inside the
// viewport along the rect's boundary.
func (c *Checker) ClickablePoint(ctx context.Context, res *resolve.Resolved) (float64, float64, error) {
	raw, err := c.sess.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId": res.ObjectID,
		"functionDeclaration": `(function(){
			var r = this.getBoundingClientRect();
			var vw = innerWidth, vh = innerHeight;
			var left = Math.max(r.left, 0), right = Math.min(r.right, vw);
			var top = Math.max(r.top, 0), bottom = Math.min(r.bottom, vh);
			if (right > left && bottom > top) {
				return {x:(left+right)/2, y:(top+bottom)/2};
			}
			var x = Math.min(Math.max((r.left+r.right)/2, 0), vw-1);
			var y = Math.min(Math.max((r.top+r.bottom)/2, 0), vh-1);
			return {x:x, y:y};
		})`,
		"returnByValue": true,
	}, 0)
	if err != nil {
		return 0, 0, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return 0, 0, models.NewDriverError(models.ErrProtocol, "decode clickable point", decErr)
	}
	var wrapped struct {
		Value struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return 0, 0, models.NewDriverError(models.ErrProtocol, "decode clickable point value", err)
	}
	return wrapped.Value.X, wrapped.Value.Y, nil
}

// ScrollUntilVisible is a bounded loop: re-resolve, and if found but not
// visible call scrollIntoView({block:'center', inline:'nearest'}); if not
// found, scroll the viewport by a page height and retry; capped at
// maxScrolls and at the total deadline.
func (c *Checker) ScrollUntilVisible(ctx context.Context, ref models.ElementRef, maxScrolls int, opts Options) (*resolve.Resolved, error) {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.Timeout)
	if maxScrolls <= 0 {
		maxScrolls = 10
	}

	for attempt := 0; attempt < maxScrolls; attempt++ {
		if time.Now().After(deadline) {
			return nil, models.NewDriverError(models.ErrTimeout, "scrollUntilVisible timed out", nil)
		}

		resolved, err := c.resolver.Resolve(ctx, ref)
		if err != nil {
			if _, scrollErr := c.sess.Send(ctx, "Runtime.evaluate", map[string]any{
				"expression": "window.scrollBy(0, window.innerHeight)",
			}, 0); scrollErr != nil {
				return nil, scrollErr
			}
			continue
		}

		probe, probeErr := c.probe(ctx, resolved, StateVisible)
		if probeErr == nil && probe.Matches {
			return resolved, nil
		}

		_, err = c.sess.Send(ctx, "Runtime.callFunctionOn", map[string]any{
			"objectId":            resolved.ObjectID,
			"functionDeclaration": `function(){ this.scrollIntoView({block:'center', inline:'nearest'}); }`,
		}, 0)
		_ = resolved.Release(ctx)
		if err != nil {
			return nil, err
		}
	}

	return nil, models.NewDriverError(models.ErrTimeout, "scrollUntilVisible: element never became visible", nil)
}
