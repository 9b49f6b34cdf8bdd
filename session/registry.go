// Package session implements the session registry (C4) and the page
// session facade (C5): tracking target -> session mappings with at-most-
// one-in-flight attach per target, and a thin (transport, sessionId,
// targetId) binding used by every higher-level component.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/transport"
)

type attachResult struct {
	session *Session
	err     error
}

// attachWaiter broadcasts one attachResult to every concurrent caller
// waiting on the same in-flight attach, via closing done rather than
// sending a value (which only one receiver could consume).
type attachWaiter struct {
	done   chan struct{}
	result attachResult
}

// Registry maintains sessionId -> targetId, targetId -> sessionId, and a
// targetId -> in-flight-attach deduplication map.
type Registry struct {
	conn *transport.Connection

	mu             sync.Mutex
	byTarget       map[string]*Session
	bySession      map[string]*Session
	pendingAttach  map[string]*attachWaiter

	detachHandle   int
	destroyHandle  int
}

// New creates a Registry bound to conn and subscribes to the external
// detachedFromTarget/targetDestroyed events that remove mappings without
// issuing any request.
func New(conn *transport.Connection) *Registry {
	r := &Registry{
		conn:          conn,
		byTarget:      make(map[string]*Session),
		bySession:     make(map[string]*Session),
		pendingAttach: make(map[string]*attachWaiter),
	}
	r.detachHandle = conn.On("Target.detachedFromTarget", r.onDetachedEvent)
	r.destroyHandle = conn.On("Target.targetDestroyed", r.onDestroyedEvent)
	return r
}

type detachedEvent struct {
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
}

func (r *Registry) onDetachedEvent(params json.RawMessage) {
	var e detachedEvent
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	r.removeMappings(e.SessionID, e.TargetID)
}

func (r *Registry) onDestroyedEvent(params json.RawMessage) {
	var e struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(params, &e); err != nil {
		return
	}
	r.mu.Lock()
	sess, ok := r.byTarget[e.TargetID]
	r.mu.Unlock()
	if ok {
		r.removeMappings(sess.ID(), e.TargetID)
	}
}

func (r *Registry) removeMappings(sessionID, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.bySession[sessionID]; ok {
		sess.invalidate()
		delete(r.bySession, sessionID)
	}
	if sess, ok := r.byTarget[targetID]; ok {
		sess.invalidate()
		delete(r.byTarget, targetID)
	}
}

type attachResponse struct {
	SessionID string `json:"sessionId"`
}

// Attach returns the live session for targetID, creating it if necessary.
// Concurrent attaches for the same target collapse onto exactly one
// Target.attachToTarget request: the first caller installs a pending entry
// and issues the request; later callers await that same result.
func (r *Registry) Attach(ctx context.Context, targetID string) (*Session, error) {
	r.mu.Lock()
	if sess, ok := r.byTarget[targetID]; ok {
		r.mu.Unlock()
		return sess, nil
	}
	if w, ok := r.pendingAttach[targetID]; ok {
		r.mu.Unlock()
		<-w.done
		return w.result.session, w.result.err
	}

	w := &attachWaiter{done: make(chan struct{})}
	r.pendingAttach[targetID] = w
	r.mu.Unlock()

	sess, err := r.doAttach(ctx, targetID)
	w.result = attachResult{session: sess, err: err}

	r.mu.Lock()
	delete(r.pendingAttach, targetID)
	r.mu.Unlock()

	close(w.done)
	return sess, err
}

func (r *Registry) doAttach(ctx context.Context, targetID string) (*Session, error) {
	raw, err := r.conn.Send(ctx, "Target.attachToTarget", map[string]any{
		"targetId": targetID,
		"flatten":  true,
	}, "", 0)
	if err != nil {
		return nil, err
	}
	var res attachResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, models.NewDriverError(models.ErrProtocol, "decode attachToTarget result", err)
	}

	sess := newSession(r.conn, res.SessionID, targetID)

	r.mu.Lock()
	r.byTarget[targetID] = sess
	r.bySession[res.SessionID] = sess
	r.mu.Unlock()

	return sess, nil
}

// Detach removes the mappings for sessionID and issues a detach request.
// Unknown ids are no-ops.
func (r *Registry) Detach(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	sess, ok := r.bySession[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.removeMappings(sess.ID(), sess.TargetID())
	_, err := r.conn.Send(ctx, "Target.detachFromTarget", map[string]any{"sessionId": sessionID}, "", 0)
	return err
}

// DetachByTarget removes the mappings for targetID and issues a detach
// request. Unknown ids are no-ops.
func (r *Registry) DetachByTarget(ctx context.Context, targetID string) error {
	r.mu.Lock()
	sess, ok := r.byTarget[targetID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Detach(ctx, sess.ID())
}

// DetachAll detaches every live session in parallel.
func (r *Registry) DetachAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.bySession))
	for _, sess := range r.bySession {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = r.Detach(ctx, s.ID())
		}(sess)
	}
	wg.Wait()
}

// Get returns the live session for targetID, if any.
func (r *Registry) Get(targetID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byTarget[targetID]
	return sess, ok
}

// Close unsubscribes all lifecycle handlers and clears all maps.
func (r *Registry) Close() {
	r.conn.Off("Target.detachedFromTarget", r.detachHandle)
	r.conn.Off("Target.targetDestroyed", r.destroyHandle)
	r.mu.Lock()
	r.byTarget = make(map[string]*Session)
	r.bySession = make(map[string]*Session)
	r.pendingAttach = make(map[string]*attachWaiter)
	r.mu.Unlock()
}
