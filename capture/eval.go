package capture

import (
	"encoding/json"
	"fmt"
)

// arrayTruncateCap and objectTruncateCap bound the eval serializer's
// envelope sizes, per §4.10: arrays at 100 items, objects at 50 entries.
const (
	arrayTruncateCap  = 100
	objectTruncateCap = 50
)

// evalEnvelope is the tagged record produced by the remote eval serializer
// for one value. Only the fields relevant to Type are populated.
type evalEnvelope struct {
	Type string `json:"type"`

	Value     json.RawMessage `json:"value,omitempty"`
	Repr      string          `json:"repr,omitempty"` // NaN / Infinity / -Infinity
	ISO       string          `json:"iso,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`

	Entries   []evalEnvelope `json:"entries,omitempty"`
	Values    []evalEnvelope `json:"values,omitempty"`
	Items     []evalEnvelope `json:"items,omitempty"`
	Size      int            `json:"size,omitempty"`
	Length    int            `json:"length,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`

	Source string `json:"source,omitempty"`
	Flags  string `json:"flags,omitempty"`

	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`

	TagName          string         `json:"tagName,omitempty"`
	ID               string         `json:"id,omitempty"`
	ClassName        string         `json:"className,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	TextContent      string         `json:"textContent,omitempty"`
	IsConnected      bool           `json:"isConnected,omitempty"`
	ChildElementCount int           `json:"childElementCount,omitempty"`

	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	ReadyState string `json:"readyState,omitempty"`

	Location    string `json:"location,omitempty"`
	InnerWidth  int    `json:"innerWidth,omitempty"`
	InnerHeight int    `json:"innerHeight,omitempty"`

	Keys    []string                `json:"keys,omitempty"`
	Object  map[string]evalEnvelope `json:"object,omitempty"`
}

func (e evalEnvelope) describe() string {
	switch e.Type {
	case "string":
		var s string
		_ = json.Unmarshal(e.Value, &s)
		return s
	case "number":
		if e.Repr != "" {
			return e.Repr
		}
		return string(e.Value)
	case "null":
		return "null"
	case "undefined":
		return "undefined"
	case "boolean":
		return string(e.Value)
	case "Error":
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	default:
		return e.Type
	}
}

// processResult is the pure, recursive, idempotent deepening over one
// envelope: processResult(processResult(x)) == processResult(x) for every
// envelope shape. It is the host-side counterpart of the in-runtime
// serializer; the host never re-interprets already-tagged values, only
// walks container types to normalize truncation bits.
func processResult(e evalEnvelope) evalEnvelope {
	switch e.Type {
	case "Array", "NodeList", "HTMLCollection":
		items := e.Items
		if len(items) > arrayTruncateCap {
			items = items[:arrayTruncateCap]
			e.Truncated = true
		}
		processed := make([]evalEnvelope, len(items))
		for i, it := range items {
			processed[i] = processResult(it)
		}
		e.Items = processed
		return e
	case "Map":
		entries := e.Entries
		if len(entries) > objectTruncateCap {
			entries = entries[:objectTruncateCap]
			e.Truncated = true
		}
		processed := make([]evalEnvelope, len(entries))
		for i, en := range entries {
			processed[i] = processResult(en)
		}
		e.Entries = processed
		return e
	case "Set":
		values := e.Values
		if len(values) > objectTruncateCap {
			values = values[:objectTruncateCap]
			e.Truncated = true
		}
		processed := make([]evalEnvelope, len(values))
		for i, v := range values {
			processed[i] = processResult(v)
		}
		e.Values = processed
		return e
	case "Object":
		if len(e.Object) <= objectTruncateCap && len(e.Keys) <= objectTruncateCap {
			return e
		}
		keys := e.Keys
		if len(keys) > objectTruncateCap {
			keys = keys[:objectTruncateCap]
		}
		obj := make(map[string]evalEnvelope, len(keys))
		for _, k := range keys {
			if v, ok := e.Object[k]; ok {
				obj[k] = processResult(v)
			}
		}
		e.Keys = keys
		e.Object = obj
		e.Truncated = true
		return e
	default:
		return e
	}
}

// IsSerializedTruthy implements the poll-truthy predicate from §4.11: not
// null/undefined, not {type:'boolean',value:false}, not
// {type:'number',value:0}, not {type:'string',value:''}.
func IsSerializedTruthy(raw json.RawMessage) bool {
	var e evalEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return false
	}
	switch e.Type {
	case "null", "undefined":
		return false
	case "boolean":
		var b bool
		_ = json.Unmarshal(e.Value, &b)
		return b
	case "number":
		if e.Repr != "" {
			return true
		}
		var n float64
		_ = json.Unmarshal(e.Value, &n)
		return n != 0
	case "string":
		var s string
		_ = json.Unmarshal(e.Value, &s)
		return s != ""
	default:
		return true
	}
}

// DecodeEnvelope decodes a raw eval result into its processed envelope
// form, ready for attaching to a StepResult's output/observation field.
func DecodeEnvelope(raw json.RawMessage) (any, error) {
	var e evalEnvelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return processResult(e), nil
}

// ExtractSerializedValue unwraps the "value" field of a
// Runtime.evaluate/Runtime.callFunctionOn envelope obtained via
// ExtractEvaluateResult, for calls evaluated with returnByValue=true. CDP's
// native RemoteObject puts the deep-cloned JS value under "value"; for
// expressions wrapped through WrapEvalExpression or
// SerializerFunctionDeclaration, that value is itself an evalEnvelope.
func ExtractSerializedValue(env json.RawMessage) (json.RawMessage, error) {
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(env, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Value, nil
}

// pilotSerializerFuncBody is the remote-injected serializer (§4.10,
// §9): a JS function, shared verbatim between WrapEvalExpression (applied
// to an arbitrary expression's result) and SerializerFunctionDeclaration
// (applied to `this`, for re-serializing a console argument's
// RemoteObject), that recursively walks a JS value into the tagged
// envelope shape evalEnvelope decodes. Treated as a versioned asset, not
// host code, per the remote-injected-scripts design note - same idiom as
// step/handlers.go's pipelineRunnerTemplate.
const pilotSerializerFuncBody = `function __pilotSerialize(v, depth, seen) {
		if (v === null) return {type:"null"};
		if (v === undefined) return {type:"undefined"};
		var t = typeof v;
		if (t === "string") return {type:"string", value: v};
		if (t === "boolean") return {type:"boolean", value: v};
		if (t === "number") {
			if (Number.isNaN(v)) return {type:"number", repr:"NaN"};
			if (v === Infinity) return {type:"number", repr:"Infinity"};
			if (v === -Infinity) return {type:"number", repr:"-Infinity"};
			return {type:"number", value: v};
		}
		if (t === "bigint") return {type:"bigint", repr: v.toString() + "n"};
		if (t === "symbol") return {type:"symbol", repr: v.toString()};
		if (t === "function") return {type:"function", repr: v.name ? "function " + v.name : "function anonymous"};
		if (depth > 6 || seen.indexOf(v) !== -1) return {type:"Object", keys:[], object:{}, truncated:true};
		seen = seen.concat([v]);
		if (v instanceof Date) return {type:"Date", iso: v.toISOString(), timestamp: v.getTime()};
		if (v instanceof RegExp) return {type:"RegExp", source: v.source, flags: v.flags};
		if (v instanceof Error) return {type:"Error", name: v.name, message: v.message, stack: String(v.stack || "")};
		if (typeof Element !== "undefined" && v instanceof Element) {
			return {type:"Element", tagName: v.tagName.toLowerCase(), id: v.id || "", className: v.className || "", textContent: (v.textContent || "").slice(0, 200), isConnected: !!v.isConnected, childElementCount: v.childElementCount || 0};
		}
		if (typeof NodeList !== "undefined" && v instanceof NodeList) {
			var nitems = Array.prototype.slice.call(v).map(function(x){ return __pilotSerialize(x, depth + 1, seen); });
			return {type:"NodeList", items: nitems, length: v.length};
		}
		if (typeof HTMLCollection !== "undefined" && v instanceof HTMLCollection) {
			var hitems = Array.prototype.slice.call(v).map(function(x){ return __pilotSerialize(x, depth + 1, seen); });
			return {type:"HTMLCollection", items: hitems, length: v.length};
		}
		if (v instanceof Map) {
			var mentries = [];
			v.forEach(function(val, key){
				mentries.push({type:"Object", keys:["key","value"], object:{key: __pilotSerialize(key, depth + 1, seen), value: __pilotSerialize(val, depth + 1, seen)}});
			});
			return {type:"Map", entries: mentries, size: v.size};
		}
		if (v instanceof Set) {
			var svalues = [];
			v.forEach(function(val){ svalues.push(__pilotSerialize(val, depth + 1, seen)); });
			return {type:"Set", values: svalues, size: v.size};
		}
		if (Array.isArray(v)) {
			var aitems = v.map(function(x){ return __pilotSerialize(x, depth + 1, seen); });
			return {type:"Array", items: aitems, length: v.length};
		}
		if (typeof Document !== "undefined" && v instanceof Document) {
			return {type:"Document", title: v.title || "", url: (v.location ? v.location.href : "") || "", readyState: v.readyState || ""};
		}
		if (typeof Window !== "undefined" && v === window) {
			return {type:"Window", location: window.location.href, innerWidth: window.innerWidth, innerHeight: window.innerHeight};
		}
		var keys = Object.keys(v);
		var obj = {};
		keys.forEach(function(k){ obj[k] = __pilotSerialize(v[k], depth + 1, seen); });
		return {type:"Object", keys: keys, object: obj};
	}`

// WrapEvalExpression wraps expr so that evaluating it with
// returnByValue=true and awaitPromise=true yields the tagged envelope
// shape, instead of CDP's native RemoteObject shape, for any non-primitive
// result. The wrapper itself is async so a Promise-valued expr is awaited
// before serialization, not serialized as a pending Promise object.
func WrapEvalExpression(expr string) string {
	return fmt.Sprintf(`(async function(){ %s
	var __v = await (%s);
	return __pilotSerialize(__v, 0, []);
})()`, pilotSerializerFuncBody, expr)
}

// SerializerFunctionDeclaration returns a Runtime.callFunctionOn
// functionDeclaration that re-serializes `this` (bound to a console
// argument's objectId) into the tagged envelope shape.
func SerializerFunctionDeclaration() string {
	return fmt.Sprintf(`function(){ %s
	return __pilotSerialize(this, 0, []);
}`, pilotSerializerFuncBody)
}

// evaluateResponse is the shape of a Runtime.evaluate response.
type evaluateResponse struct {
	Result           evalEnvelope `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// ExtractEvaluateResult unwraps a raw Runtime.evaluate response, returning
// the result envelope and whether the remote evaluation threw. Callers that
// must swallow evaluation exceptions (poll-until-truthy primitives) check
// threw before inspecting the envelope.
func ExtractEvaluateResult(raw json.RawMessage) (env json.RawMessage, threw bool, err error) {
	var resp evaluateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, err
	}
	if resp.ExceptionDetails != nil {
		return nil, true, nil
	}
	encoded, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, false, err
	}
	return encoded, false, nil
}
