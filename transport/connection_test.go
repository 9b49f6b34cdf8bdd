package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/use-agent/pilot/models"
)

// echoServer upgrades to a websocket and, for each inbound frame carrying an
// id, replies with {"id":<id>,"result":{"echo":<method>}}. If the method is
// "Err.trigger" it replies with a wire-level error instead.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     int    `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			var resp map[string]any
			if req.Method == "Err.trigger" {
				resp = map[string]any{"id": req.ID, "error": map[string]any{"message": "boom"}}
			} else {
				resp = map[string]any{"id": req.ID, "result": map[string]any{"echo": req.Method}}
			}
			out, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnection_SendReceivesMatchingResponse(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv.URL)})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	raw, err := conn.Send(context.Background(), "Page.navigate", nil, "", time.Second)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	var res struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if res.Echo != "Page.navigate" {
		t.Errorf("got echo %q, want Page.navigate", res.Echo)
	}
}

func TestConnection_SendPropagatesWireError(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv.URL)})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.Send(context.Background(), "Err.trigger", nil, "", time.Second)
	if err == nil {
		t.Fatal("expected an error from Err.trigger")
	}
	if !models.IsKind(err, models.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestConnection_SendTimesOutWhenNoResponse(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Never respond; keep connection open by blocking on read.
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv.URL)})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.Send(context.Background(), "Slow.method", nil, "", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !models.IsKind(err, models.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestConnection_EventListenerReceivesEmittedEvent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		event := map[string]any{"method": "Target.targetCreated", "params": map[string]any{"targetInfo": map[string]any{"targetId": "t1"}}}
		out, _ := json.Marshal(event)
		_ = conn.WriteMessage(websocket.TextMessage, out)
		conn.ReadMessage()
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv.URL)})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	got, err := conn.WaitForEvent(context.Background(), "Target.targetCreated", nil, time.Second)
	if err != nil {
		t.Fatalf("WaitForEvent failed: %v", err)
	}
	if !strings.Contains(string(got), "t1") {
		t.Errorf("got %s, want it to contain t1", got)
	}
}

func TestConnection_SendOnClosedConnectionFails(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{URL: wsURL(srv.URL)})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.Close()

	_, err = conn.Send(context.Background(), "Page.navigate", nil, "", time.Second)
	if err == nil {
		t.Fatal("expected send on a closed connection to fail")
	}
	if !models.IsKind(err, models.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}
