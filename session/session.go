package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/transport"
)

// Session binds (transport, sessionId, targetId) into a facade: send
// forwards via the transport's session-scoped send; on/off subscribe under
// the "{sessionId}:{event}" key; dispose flips validity. A session whose
// target is externally detached becomes invalid; calls on an invalid
// session fail with a stale-session error.
type Session struct {
	conn     *transport.Connection
	id       string
	targetID string
	valid    atomic.Bool
}

func newSession(conn *transport.Connection, sessionID, targetID string) *Session {
	s := &Session{conn: conn, id: sessionID, targetID: targetID}
	s.valid.Store(true)
	return s
}

// ID returns the session's opaque id.
func (s *Session) ID() string { return s.id }

// TargetID returns the owning target's opaque id.
func (s *Session) TargetID() string { return s.targetID }

// Valid reports whether the session is still live.
func (s *Session) Valid() bool { return s.valid.Load() }

func (s *Session) invalidate() { s.valid.Store(false) }

// Send forwards method/params to the underlying transport, scoped to this
// session. timeout <= 0 uses the transport's configured default.
func (s *Session) Send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !s.valid.Load() {
		return nil, models.NewDriverError(models.ErrContextDestroyed, "send on stale session", nil).WithOp(method)
	}
	return s.conn.Send(ctx, method, params, s.id, timeout)
}

// On subscribes cb under this session's scoped event key.
func (s *Session) On(event string, cb transport.Listener) int {
	return s.conn.On(s.id+":"+event, cb)
}

// Off removes a listener previously registered via On.
func (s *Session) Off(event string, handle int) {
	s.conn.Off(s.id+":"+event, handle)
}

// WaitForEvent waits for an event scoped to this session.
func (s *Session) WaitForEvent(ctx context.Context, event string, predicate func(json.RawMessage) bool, timeout time.Duration) (json.RawMessage, error) {
	return s.conn.WaitForEvent(ctx, s.id+":"+event, predicate, timeout)
}

// Dispose flips the session's validity bit. It does not issue a detach
// request; callers that want to notify the remote end should call
// Registry.Detach instead.
func (s *Session) Dispose() {
	s.invalidate()
}
