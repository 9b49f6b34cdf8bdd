// Package resolve implements the element resolver (C7): resolving an
// ElementRef to a remote object id via four strategies tried in order —
// selector, snapshot-ref, text, coordinates — adapted from the staged-
// escalation dispatcher pattern into a sequential ordered-fallback chain
// (resolution strategies are tried one at a time, not raced concurrently,
// since each attempt is a single cheap remote round trip rather than an
// expensive competing fetch).
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/use-agent/pilot/capture"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/session"
)

// Strategy names a resolution strategy used in a ResolvedElement.
type Strategy string

const (
	StrategySelector    Strategy = "selector"
	StrategySnapshotRef Strategy = "snapshotRef"
	StrategyText        Strategy = "text"
	StrategyCoordinates Strategy = "coordinates"
)

// Resolved is the output of a successful resolution: a remote object id,
// its bounding box, and the strategy that produced it. Exclusive
// ownership: the caller must Release exactly once.
type Resolved struct {
	ObjectID    string
	Box         Box
	ResolvedBy  Strategy
	SnapshotRef string
	Role        string
	Name        string

	sess *session.Session
}

// Box is a bounding rectangle in CSS pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Release disposes of the remote object handle. Safe to call once; callers
// must not use the Resolved after calling it.
func (r *Resolved) Release(ctx context.Context) error {
	if r == nil || r.ObjectID == "" {
		return nil
	}
	_, err := r.sess.Send(ctx, "Runtime.releaseObject", map[string]any{"objectId": r.ObjectID}, 0)
	r.ObjectID = ""
	return err
}

// Resolver resolves ElementRefs against one page session. All
// selector/text/coordinate strategies run against the currently switched-to
// frame's document (main document by default), set via SetFrame.
type Resolver struct {
	sess *session.Session

	mu            sync.Mutex
	frameSelector string // empty: main document
}

// New creates a Resolver bound to sess.
func New(sess *session.Session) *Resolver {
	return &Resolver{sess: sess}
}

// SetFrame switches subsequent resolution to the document of the iframe/
// frame matched by selector within the main document (nested frames are not
// reached). An empty selector switches back to the main document.
func (r *Resolver) SetFrame(selector string) {
	r.mu.Lock()
	r.frameSelector = selector
	r.mu.Unlock()
}

// CurrentFrame returns the active frame selector, or "" for the main
// document.
func (r *Resolver) CurrentFrame() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameSelector
}

// DocumentExpr returns the JS expression evaluating to the document that
// selector/text/coordinate strategies should search: the main `document`,
// or the contentDocument of the active frame (same-origin frames only;
// cross-origin iframes have no accessible contentDocument and resolution
// against them fails with an element-not-found error, same as a selector
// that matches nothing).
func (r *Resolver) DocumentExpr() string {
	sel := r.CurrentFrame()
	if sel == "" {
		return "document"
	}
	return fmt.Sprintf("document.querySelector(%s).contentDocument", jsonString(sel))
}

// Resolve resolves ref using the first applicable strategy, trying
// candidates of a Fallbacks list in order and returning the first success.
// Empty/non-string input returns a not-found error without a remote call.
func (r *Resolver) Resolve(ctx context.Context, ref models.ElementRef) (*Resolved, error) {
	if len(ref.Fallbacks) > 0 {
		var lastErr error
		for _, candidate := range ref.Fallbacks {
			res, err := r.resolveOne(ctx, candidate)
			if err == nil {
				return res, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = models.NewDriverError(models.ErrElementNotFound, "Element not found", nil)
		}
		return nil, lastErr
	}
	return r.resolveOne(ctx, ref)
}

func (r *Resolver) resolveOne(ctx context.Context, ref models.ElementRef) (*Resolved, error) {
	switch {
	case ref.Selector != "":
		return r.bySelector(ctx, ref.Selector)
	case ref.Ref != "":
		return r.bySnapshotRef(ctx, ref.Ref)
	case ref.Text != "":
		return r.byText(ctx, ref.Text)
	case ref.X != nil && ref.Y != nil:
		return r.byCoordinates(ctx, *ref.X, *ref.Y)
	default:
		return nil, models.NewDriverError(models.ErrElementNotFound, "Element not found", nil)
	}
}

func (r *Resolver) evalForElement(ctx context.Context, expr string) (*Resolved, Strategy, error) {
	raw, err := r.sess.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression": expr,
	}, 0)
	if err != nil {
		if models.IsKind(err, models.ErrProtocol) {
			if de := models.AsDriverError(err); de != nil && models.IsStaleObjectMessage(de.Message) {
				return nil, "", models.NewDriverError(models.ErrStaleElement, de.Message, nil)
			}
		}
		return nil, "", err
	}

	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil {
		return nil, "", models.NewDriverError(models.ErrProtocol, "decode evaluate result", decErr)
	}
	if threw {
		return nil, "", models.NewDriverError(models.ErrElementNotFound, "Element not found", nil)
	}

	var parsed struct {
		Type     string `json:"type"`
		Subtype  string `json:"subtype"`
		ObjectID string `json:"objectId"`
	}
	if err := json.Unmarshal(env, &parsed); err != nil {
		return nil, "", models.NewDriverError(models.ErrProtocol, "decode element handle", err)
	}
	if parsed.ObjectID == "" || parsed.Subtype == "null" || parsed.Type == "undefined" {
		return nil, "", models.NewDriverError(models.ErrElementNotFound, "Element not found", nil)
	}

	box, err := r.boundingBox(ctx, parsed.ObjectID)
	if err != nil {
		_ = r.releaseObjectID(ctx, parsed.ObjectID)
		return nil, "", err
	}

	return &Resolved{ObjectID: parsed.ObjectID, Box: box, sess: r.sess}, "", nil
}

func (r *Resolver) releaseObjectID(ctx context.Context, objectID string) error {
	_, err := r.sess.Send(ctx, "Runtime.releaseObject", map[string]any{"objectId": objectID}, 0)
	return err
}

func (r *Resolver) boundingBox(ctx context.Context, objectID string) (Box, error) {
	raw, err := r.sess.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId": objectID,
		"functionDeclaration": `function(){
			var r = this.getBoundingClientRect();
			return {x:r.x, y:r.y, width:r.width, height:r.height};
		}`,
		"returnByValue": true,
	}, 0)
	if err != nil {
		return Box{}, err
	}
	env, threw, decErr := capture.ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return Box{}, models.NewDriverError(models.ErrProtocol, "decode bounding box", decErr)
	}
	var wrapped struct {
		Value Box `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return Box{}, models.NewDriverError(models.ErrProtocol, "decode bounding box value", err)
	}
	return wrapped.Value, nil
}

// bySelector: remote querySelector; accepts subtype=null or type=undefined
// as "not found".
func (r *Resolver) bySelector(ctx context.Context, selector string) (*Resolved, error) {
	expr := fmt.Sprintf("%s.querySelector(%s)", r.DocumentExpr(), jsonString(selector))
	res, _, err := r.evalForElement(ctx, expr)
	if err != nil {
		return nil, err
	}
	res.ResolvedBy = StrategySelector
	return res, nil
}

// bySnapshotRef: looks up ref metadata in the in-runtime ref map
// (__ariaRefMeta), tries the recorded selector first, falls back to
// role+name search, piercing shadow roots along the recorded path if
// present.
func (r *Resolver) bySnapshotRef(ctx context.Context, ref string) (*Resolved, error) {
	expr := fmt.Sprintf(`(function(){
		var meta = window.__ariaRefMeta && window.__ariaRefMeta.get(%s);
		if (!meta) return null;
		var root = document;
		if (meta.shadowHostPath) {
			for (var i=0;i<meta.shadowHostPath.length;i++) {
				var host = root.querySelector(meta.shadowHostPath[i]);
				if (!host || !host.shadowRoot) return null;
				root = host.shadowRoot;
			}
		}
		if (meta.selector) {
			var el = root.querySelector(meta.selector);
			if (el) return el;
		}
		if (meta.role && meta.name) {
			var all = root.querySelectorAll('[role="'+meta.role+'"]');
			for (var j=0;j<all.length;j++) {
				if ((all[j].getAttribute('aria-label')||all[j].textContent||'').trim() === meta.name) return all[j];
			}
		}
		return null;
	})()`, jsonString(ref))
	res, _, err := r.evalForElement(ctx, expr)
	if err != nil {
		return nil, err
	}
	res.ResolvedBy = StrategySnapshotRef
	res.SnapshotRef = ref
	return res, nil
}

// byText: remote search over interactive elements whose visible text
// matches (case-insensitive contains by default).
func (r *Resolver) byText(ctx context.Context, text string) (*Resolved, error) {
	expr := fmt.Sprintf(`(function(){
		var needle = %s.toLowerCase();
		var candidates = %s.querySelectorAll('a,button,input,select,textarea,[role="button"],[role="link"]');
		for (var i=0;i<candidates.length;i++) {
			var t = (candidates[i].innerText||candidates[i].value||'').trim().toLowerCase();
			if (t.indexOf(needle) !== -1) return candidates[i];
		}
		return null;
	})()`, jsonString(text), r.DocumentExpr())
	res, _, err := r.evalForElement(ctx, expr)
	if err != nil {
		return nil, err
	}
	res.ResolvedBy = StrategyText
	return res, nil
}

// byCoordinates: remote elementFromPoint.
func (r *Resolver) byCoordinates(ctx context.Context, x, y float64) (*Resolved, error) {
	expr := fmt.Sprintf("%s.elementFromPoint(%f, %f)", r.DocumentExpr(), x, y)
	res, _, err := r.evalForElement(ctx, expr)
	if err != nil {
		return nil, err
	}
	res.ResolvedBy = StrategyCoordinates
	res.Box = Box{X: x, Y: y}
	return res, nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
