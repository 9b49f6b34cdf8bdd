package capture

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/use-agent/pilot/session"
)

// NetworkErrorKind classifies one captured network error.
type NetworkErrorKind string

const (
	NetworkFailure    NetworkErrorKind = "network-failure" // transport-level, always captured
	HTTPClientError   NetworkErrorKind = "http-client-error" // 4xx, warning
	HTTPServerError   NetworkErrorKind = "http-server-error" // 5xx, error
)

// NetworkError is one captured network-layer failure.
type NetworkError struct {
	Kind       NetworkErrorKind `json:"kind"`
	RequestID  string           `json:"requestId"`
	Method     string           `json:"method"`
	URL        string           `json:"url"`
	StatusCode int              `json:"statusCode,omitempty"`
	Message    string           `json:"message,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

type inFlightRequest struct {
	method string
	url    string
}

// NetworkCapture subscribes to Network.requestWillBeSent,
// Network.responseReceived, Network.loadingFinished, Network.loadingFailed.
// It keeps an in-flight map for the lifetime of each request so that later
// failures can recover the method and URL.
type NetworkCapture struct {
	mu          sync.Mutex
	inFlight    map[string]inFlightRequest
	errors      []NetworkError
	ignoreCodes map[int]bool

	handles []int
	sess    *session.Session
}

// NewNetworkCapture creates a NetworkCapture bound to sess. ignoredStatus
// codes are dropped from capture entirely.
func NewNetworkCapture(sess *session.Session, ignoredStatus []int) *NetworkCapture {
	ignore := make(map[int]bool, len(ignoredStatus))
	for _, c := range ignoredStatus {
		ignore[c] = true
	}
	n := &NetworkCapture{
		inFlight:    make(map[string]inFlightRequest),
		ignoreCodes: ignore,
		sess:        sess,
	}
	n.handles = []int{
		sess.On("Network.requestWillBeSent", n.onRequestWillBeSent),
		sess.On("Network.responseReceived", n.onResponseReceived),
		sess.On("Network.loadingFinished", n.onLoadingFinished),
		sess.On("Network.loadingFailed", n.onLoadingFailed),
	}
	return n
}

type requestWillBeSentEvent struct {
	RequestID string `json:"requestId"`
	Request   struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
}

func (n *NetworkCapture) onRequestWillBeSent(params json.RawMessage) {
	var e requestWillBeSentEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	n.mu.Lock()
	n.inFlight[e.RequestID] = inFlightRequest{method: e.Request.Method, url: e.Request.URL}
	n.mu.Unlock()
}

type responseReceivedEvent struct {
	RequestID string `json:"requestId"`
	Response  struct {
		URL    string `json:"url"`
		Status int    `json:"status"`
	} `json:"response"`
}

func (n *NetworkCapture) onResponseReceived(params json.RawMessage) {
	var e responseReceivedEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	if n.ignoreCodes[e.Response.Status] {
		return
	}

	var kind NetworkErrorKind
	switch {
	case e.Response.Status >= 500:
		kind = HTTPServerError
	case e.Response.Status >= 400:
		kind = HTTPClientError
	default:
		return
	}

	n.mu.Lock()
	req := n.inFlight[e.RequestID]
	n.errors = append(n.errors, NetworkError{
		Kind:       kind,
		RequestID:  e.RequestID,
		Method:     req.method,
		URL:        e.Response.URL,
		StatusCode: e.Response.Status,
		Message:    fmt.Sprintf("%s %s", statusClassLabel(kind), e.Response.URL),
		Timestamp:  time.Now(),
	})
	n.mu.Unlock()
}

func statusClassLabel(kind NetworkErrorKind) string {
	if kind == HTTPServerError {
		return "http server error"
	}
	return "http client error"
}

func (n *NetworkCapture) onLoadingFinished(params json.RawMessage) {
	var e struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	n.mu.Lock()
	delete(n.inFlight, e.RequestID)
	n.mu.Unlock()
}

type loadingFailedEvent struct {
	RequestID     string `json:"requestId"`
	ErrorText     string `json:"errorText"`
	Canceled      bool   `json:"canceled"`
}

func (n *NetworkCapture) onLoadingFailed(params json.RawMessage) {
	var e loadingFailedEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	n.mu.Lock()
	req := n.inFlight[e.RequestID]
	delete(n.inFlight, e.RequestID)
	if !e.Canceled {
		n.errors = append(n.errors, NetworkError{
			Kind:      NetworkFailure,
			RequestID: e.RequestID,
			Method:    req.method,
			URL:       req.url,
			Message:   e.ErrorText,
			Timestamp: time.Now(),
		})
	}
	n.mu.Unlock()
}

// Errors returns a copy of the captured network errors.
func (n *NetworkCapture) Errors() []NetworkError {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NetworkError, len(n.errors))
	copy(out, n.errors)
	return out
}

// Close unsubscribes the network listeners.
func (n *NetworkCapture) Close() {
	keys := []string{
		"Network.requestWillBeSent", "Network.responseReceived",
		"Network.loadingFinished", "Network.loadingFailed",
	}
	for i, k := range keys {
		n.sess.Off(k, n.handles[i])
	}
}
