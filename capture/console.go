// Package capture implements the capture subsystem (C10): console and
// network recording, error aggregation, screenshot production, and the
// eval-result serializer's host-side counterpart.
package capture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/use-agent/pilot/session"
)

// Level is the normalized console message level.
type Level string

const (
	LevelLog     Level = "log"
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// consoleAPITypeLevels maps Runtime.consoleAPICalled's `type` field to a
// normalized Level, per the fixed table: log/dir/table/trace -> log;
// debug -> debug; info -> info; warn/warning -> warning; error/assert -> error.
var consoleAPITypeLevels = map[string]Level{
	"log":     LevelLog,
	"dir":     LevelLog,
	"table":   LevelLog,
	"trace":   LevelLog,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarning,
	"warning": LevelWarning,
	"error":   LevelError,
	"assert":  LevelError,
}

// Message is one captured console entry.
type Message struct {
	Level     Level     `json:"level"`
	Type      string    `json:"type"` // "console" | "exception"
	Text      string    `json:"text"`
	Args      []any     `json:"args,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsoleCapture subscribes only to the runtime-scope event stream
// (Runtime.consoleAPICalled, Runtime.exceptionThrown). It never enables the
// deprecated Console domain, by design: see the duplicate-prevention
// invariant in the testable properties.
type ConsoleCapture struct {
	mu          sync.Mutex
	buf         []Message
	maxMessages int

	apiHandle  int
	excHandle  int
	sess       *session.Session
}

// NewConsoleCapture creates a ConsoleCapture bound to sess with a ring
// buffer capped at maxMessages.
func NewConsoleCapture(sess *session.Session, maxMessages int) *ConsoleCapture {
	if maxMessages <= 0 {
		maxMessages = 500
	}
	c := &ConsoleCapture{sess: sess, maxMessages: maxMessages}
	c.apiHandle = sess.On("Runtime.consoleAPICalled", c.onConsoleAPICalled)
	c.excHandle = sess.On("Runtime.exceptionThrown", c.onExceptionThrown)
	return c
}

// consoleArg is the native Runtime.RemoteObject shape CDP delivers for one
// console.* argument - distinct from evalEnvelope, the custom tagged shape
// produced by the remote eval serializer (§4.10). Primitive args already
// line up field-for-field (type/value); object/function args carry only an
// objectId and a human description, and must be re-serialized remotely via
// Runtime.callFunctionOn to recover their structured shape.
type consoleArg struct {
	Type                string          `json:"type"`
	Subtype             string          `json:"subtype,omitempty"`
	Value               json.RawMessage `json:"value,omitempty"`
	UnserializableValue string          `json:"unserializableValue,omitempty"`
	Description         string          `json:"description,omitempty"`
	ObjectID            string          `json:"objectId,omitempty"`
}

type consoleAPICalledEvent struct {
	Type string       `json:"type"`
	Args []consoleArg `json:"args"`
}

// toEnvelope converts a native console argument into the tagged envelope
// shape. Primitives are mapped directly; object/function args with an
// objectId are re-serialized in the page via the shared eval serializer
// (capture.SerializerFunctionDeclaration), the same JS that backs eval and
// pageFunction.
func (c *ConsoleCapture) toEnvelope(ctx context.Context, a consoleArg) evalEnvelope {
	switch a.Type {
	case "string", "boolean":
		return evalEnvelope{Type: a.Type, Value: a.Value}
	case "number":
		if a.UnserializableValue != "" {
			return evalEnvelope{Type: "number", Repr: a.UnserializableValue}
		}
		return evalEnvelope{Type: "number", Value: a.Value}
	case "undefined":
		return evalEnvelope{Type: "undefined"}
	case "bigint":
		return evalEnvelope{Type: "bigint", Repr: a.UnserializableValue}
	case "symbol":
		return evalEnvelope{Type: "symbol", Repr: a.Description}
	case "function":
		if env, ok := c.reserialize(ctx, a); ok {
			return env
		}
		return evalEnvelope{Type: "function", Repr: a.Description}
	case "object":
		if a.Subtype == "null" {
			return evalEnvelope{Type: "null"}
		}
		if env, ok := c.reserialize(ctx, a); ok {
			return env
		}
		return evalEnvelope{Type: "Object", Keys: []string{}, Object: map[string]evalEnvelope{}}
	default:
		return evalEnvelope{Type: "Object", Keys: []string{}, Object: map[string]evalEnvelope{}}
	}
}

// reserialize calls the shared eval serializer on the remote object behind
// a.ObjectID, recovering its full Array/Object/Date/Map/Set/Element/...
// shape instead of the bare description CDP delivers natively.
func (c *ConsoleCapture) reserialize(ctx context.Context, a consoleArg) (evalEnvelope, bool) {
	if a.ObjectID == "" {
		return evalEnvelope{}, false
	}
	raw, err := c.sess.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId":            a.ObjectID,
		"functionDeclaration": SerializerFunctionDeclaration(),
		"returnByValue":       true,
	}, 0)
	if err != nil {
		return evalEnvelope{}, false
	}
	env, threw, decErr := ExtractEvaluateResult(raw)
	if decErr != nil || threw {
		return evalEnvelope{}, false
	}
	serialized, err := ExtractSerializedValue(env)
	if err != nil {
		return evalEnvelope{}, false
	}
	var out evalEnvelope
	if err := json.Unmarshal(serialized, &out); err != nil {
		return evalEnvelope{}, false
	}
	return out, true
}

func (c *ConsoleCapture) onConsoleAPICalled(params json.RawMessage) {
	var e consoleAPICalledEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	level, ok := consoleAPITypeLevels[e.Type]
	if !ok {
		level = LevelLog
	}

	ctx := context.Background()
	texts := make([]string, 0, len(e.Args))
	args := make([]any, 0, len(e.Args))
	for _, a := range e.Args {
		env := c.toEnvelope(ctx, a)
		texts = append(texts, env.describe())
		args = append(args, processResult(env))
	}

	c.append(Message{
		Level:     level,
		Type:      "console",
		Text:      joinSpace(texts),
		Args:      args,
		Timestamp: time.Now(),
	})
}

type exceptionThrownEvent struct {
	ExceptionDetails struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

func (c *ConsoleCapture) onExceptionThrown(params json.RawMessage) {
	var e exceptionThrownEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}
	c.append(Message{
		Level:     LevelError,
		Type:      "exception",
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (c *ConsoleCapture) append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, m)
	if len(c.buf) > c.maxMessages {
		c.buf = c.buf[len(c.buf)-c.maxMessages:]
	}
}

// Messages returns a copy of the captured ring buffer.
func (c *ConsoleCapture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.buf))
	copy(out, c.buf)
	return out
}

// Close unsubscribes the console listeners.
func (c *ConsoleCapture) Close() {
	c.sess.Off("Runtime.consoleAPICalled", c.apiHandle)
	c.sess.Off("Runtime.exceptionThrown", c.excHandle)
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
