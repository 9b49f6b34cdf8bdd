package wait

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/session"
)

// NetworkIdle subscribes to request-will-be-sent and loading-finished/
// failed, maintains an in-flight counter, and resolves when the counter has
// been zero for idleTime uninterrupted; each new request resets the idle
// timer. Listeners are detached on every exit path.
func NetworkIdle(ctx context.Context, sess *session.Session, idleTime time.Duration, opts Options) error {
	opts = opts.normalized()
	if idleTime <= 0 {
		idleTime = 500 * time.Millisecond
	}

	var mu sync.Mutex
	inFlight := 0
	resetCh := make(chan struct{}, 1)

	signalReset := func() {
		select {
		case resetCh <- struct{}{}:
		default:
		}
	}

	onSent := sess.On("Network.requestWillBeSent", func(json.RawMessage) {
		mu.Lock()
		inFlight++
		mu.Unlock()
		signalReset()
	})
	onFinished := sess.On("Network.loadingFinished", func(json.RawMessage) {
		mu.Lock()
		if inFlight > 0 {
			inFlight--
		}
		mu.Unlock()
		signalReset()
	})
	onFailed := sess.On("Network.loadingFailed", func(json.RawMessage) {
		mu.Lock()
		if inFlight > 0 {
			inFlight--
		}
		mu.Unlock()
		signalReset()
	})
	defer func() {
		sess.Off("Network.requestWillBeSent", onSent)
		sess.Off("Network.loadingFinished", onFinished)
		sess.Off("Network.loadingFailed", onFailed)
	}()

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	idleTimer := time.NewTimer(idleTime)
	defer idleTimer.Stop()

	for {
		mu.Lock()
		zero := inFlight == 0
		mu.Unlock()
		if zero && !idleTimer.Stop() {
			// timer already fired or was never reset; drain if needed
		}
		if zero {
			idleTimer.Reset(idleTime)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return models.NewDriverError(models.ErrTimeout, "networkIdle wait timed out", nil)
		case <-resetCh:
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			continue
		case <-idleTimer.C:
			mu.Lock()
			stillZero := inFlight == 0
			mu.Unlock()
			if stillZero {
				return nil
			}
		}
	}
}
