// Package input implements the input emulator (C9): translating high-
// level click/hover/type/press/selectAll/scroll/drag requests into
// synthesized remote pointer and keyboard events.
package input

import (
	"context"
	"strings"

	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/session"
)

// MouseButton names the button used for a click/mouse event.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// ClickOptions configures Click.
type ClickOptions struct {
	Button     MouseButton
	ClickCount int
	Modifiers  int // CDP modifier bitmask: Alt=1, Ctrl=2, Meta=4, Shift=8
}

// Emulator synthesizes input events against one page session.
type Emulator struct {
	sess *session.Session
}

// New creates an Emulator bound to sess.
func New(sess *session.Session) *Emulator {
	return &Emulator{sess: sess}
}

// Click dispatches a mouse-pressed then mouse-released pair at (x, y).
func (e *Emulator) Click(ctx context.Context, x, y float64, opts ClickOptions) error {
	if opts.Button == "" {
		opts.Button = ButtonLeft
	}
	if opts.ClickCount <= 0 {
		opts.ClickCount = 1
	}
	base := map[string]any{
		"x": x, "y": y,
		"button":     string(opts.Button),
		"clickCount": opts.ClickCount,
		"modifiers":  opts.Modifiers,
	}

	pressed := cloneMap(base)
	pressed["type"] = "mousePressed"
	if _, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", pressed, 0); err != nil {
		return err
	}

	released := cloneMap(base)
	released["type"] = "mouseReleased"
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", released, 0)
	return err
}

// Hover dispatches a mouse-moved event at (x, y).
func (e *Emulator) Hover(ctx context.Context, x, y float64) error {
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mouseMoved", "x": x, "y": y,
	}, 0)
	return err
}

// MouseDown/MouseMove/MouseUp are the primitives a drag sequence composes.
func (e *Emulator) MouseDown(ctx context.Context, x, y float64, button MouseButton) error {
	if button == "" {
		button = ButtonLeft
	}
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mousePressed", "x": x, "y": y, "button": string(button), "clickCount": 1,
	}, 0)
	return err
}

func (e *Emulator) MouseMove(ctx context.Context, x, y float64) error {
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mouseMoved", "x": x, "y": y,
	}, 0)
	return err
}

func (e *Emulator) MouseUp(ctx context.Context, x, y float64, button MouseButton) error {
	if button == "" {
		button = ButtonLeft
	}
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mouseReleased", "x": x, "y": y, "button": string(button), "clickCount": 1,
	}, 0)
	return err
}

// Drag composes MouseDown/MouseMove/MouseUp across a path of points.
func (e *Emulator) Drag(ctx context.Context, path []struct{ X, Y float64 }, button MouseButton) error {
	if len(path) == 0 {
		return models.NewDriverError(models.ErrStepValidation, "drag requires at least one point", nil)
	}
	if err := e.MouseDown(ctx, path[0].X, path[0].Y, button); err != nil {
		return err
	}
	for _, p := range path[1:] {
		if err := e.MouseMove(ctx, p.X, p.Y); err != nil {
			return err
		}
	}
	last := path[len(path)-1]
	return e.MouseUp(ctx, last.X, last.Y, button)
}

// Scroll dispatches a mouse wheel event at (x, y) with the given deltas.
func (e *Emulator) Scroll(ctx context.Context, x, y, deltaX, deltaY float64) error {
	_, err := e.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type": "mouseWheel", "x": x, "y": y, "deltaX": deltaX, "deltaY": deltaY,
	}, 0)
	return err
}

// Type dispatches, for each code point, a key-down/key-press/key-up
// sequence plus an insertText for non-printable safety. The key-press step
// uses CDP's "char" event type, the wire name for a key-press.
func (e *Emulator) Type(ctx context.Context, text string) error {
	for _, r := range text {
		ch := string(r)
		if err := e.dispatchKey(ctx, "keyDown", ch); err != nil {
			return err
		}
		if err := e.dispatchKey(ctx, "char", ch); err != nil {
			return err
		}
		if err := e.dispatchKey(ctx, "keyUp", ch); err != nil {
			return err
		}
	}
	return e.InsertText(ctx, text)
}

func (e *Emulator) dispatchKey(ctx context.Context, typ, text string) error {
	_, err := e.sess.Send(ctx, "Input.dispatchKeyEvent", map[string]any{
		"type": typ, "text": text, "unmodifiedText": text,
	}, 0)
	return err
}

// InsertText dispatches a single synthetic insertText event, preferred for
// form fills since it preserves IME and framework listeners.
func (e *Emulator) InsertText(ctx context.Context, text string) error {
	_, err := e.sess.Send(ctx, "Input.insertText", map[string]any{"text": text}, 0)
	return err
}

var modifierBits = map[string]int{
	"alt":     1,
	"control": 2,
	"ctrl":    2,
	"meta":    4,
	"cmd":     4,
	"shift":   8,
}

// Press parses "Modifier+...+Key" (Control/Shift/Alt/Meta), downs
// modifiers, downs+ups the key, then ups modifiers in reverse.
func (e *Emulator) Press(ctx context.Context, combo string) error {
	parts := strings.Split(combo, "+")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return models.NewDriverError(models.ErrStepValidation, "press requires a non-empty key combo", nil)
	}
	key := parts[len(parts)-1]
	mods := parts[:len(parts)-1]

	modMask := 0
	for _, m := range mods {
		modMask |= modifierBits[strings.ToLower(m)]
	}

	for _, m := range mods {
		if err := e.rawKeyEvent(ctx, "keyDown", m, 0); err != nil {
			return err
		}
	}
	if err := e.rawKeyEvent(ctx, "keyDown", key, modMask); err != nil {
		return err
	}
	if err := e.rawKeyEvent(ctx, "keyUp", key, modMask); err != nil {
		return err
	}
	for i := len(mods) - 1; i >= 0; i-- {
		if err := e.rawKeyEvent(ctx, "keyUp", mods[i], 0); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emulator) rawKeyEvent(ctx context.Context, typ, key string, modifiers int) error {
	_, err := e.sess.Send(ctx, "Input.dispatchKeyEvent", map[string]any{
		"type": typ, "key": key, "modifiers": modifiers,
	}, 0)
	return err
}

// SelectAll dispatches Control+a on every platform; Meta+a, the macOS
// select-all combo, is not sent.
func (e *Emulator) SelectAll(ctx context.Context) error {
	return e.Press(ctx, "Control+a")
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
