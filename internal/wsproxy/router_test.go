package wsproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"linkedin-gateway/internal/logger"
)

// extFrame mirrors the wire frames as a fake extension sees them.
type extFrame struct {
	Type               string            `json:"type"`
	RequestID          string            `json:"request_id,omitempty"`
	URL                string            `json:"url,omitempty"`
	Method             string            `json:"method,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Body               *string           `json:"body,omitempty"`
	ResponseType       string            `json:"response_type,omitempty"`
	IncludeCredentials bool              `json:"include_credentials,omitempty"`
	TimeoutMS          int64             `json:"timeout_ms,omitempty"`
	StatusCode         int               `json:"status_code,omitempty"`
	Error              string            `json:"error,omitempty"`
	Timestamp          int64             `json:"timestamp,omitempty"`
}

type harness struct {
	router *Router
	wsURL  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	router := NewRouter(logger.Discard())
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		router.Attach(r.URL.Query().Get("user"), conn)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(router.Shutdown)
	return &harness{
		router: router,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=",
	}
}

func (h *harness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL+user, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for !h.router.Connected(user) {
		if time.Now().After(deadline) {
			t.Fatal("session never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) extFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("extension read: %v", err)
	}
	var frame extFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame extFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("extension write: %v", err)
	}
}

func TestProxyRoundTrip(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	type result struct {
		resp ProxyResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.router.Proxy(context.Background(), "user-1", ProxyRequest{
			URL:                "https://www.linkedin.com/voyager/api/graphql?variables=(count:10)",
			Headers:            map[string]string{"accept": "application/vnd.linkedin.normalized+json+2.1"},
			IncludeCredentials: true,
		})
		done <- result{resp, err}
	}()

	frame := readFrame(t, conn)
	if frame.Type != "proxy_http_request" {
		t.Fatalf("frame type = %q", frame.Type)
	}
	if frame.RequestID == "" {
		t.Error("request_id missing")
	}
	if frame.Method != "GET" {
		t.Errorf("method = %q, want GET default", frame.Method)
	}
	if frame.ResponseType != "json" {
		t.Errorf("response_type = %q, want json default", frame.ResponseType)
	}
	if !frame.IncludeCredentials {
		t.Error("include_credentials not set")
	}
	if frame.TimeoutMS != DefaultProxyTimeout.Milliseconds() {
		t.Errorf("timeout_ms = %d", frame.TimeoutMS)
	}
	if frame.Headers["accept"] != "application/vnd.linkedin.normalized+json+2.1" {
		t.Errorf("headers = %v", frame.Headers)
	}

	writeFrame(t, conn, extFrame{
		Type:       "proxy_http_response",
		RequestID:  frame.RequestID,
		StatusCode: 200,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       strPtr(`{"data": {}}`),
	})

	r := <-done
	if r.err != nil {
		t.Fatalf("Proxy: %v", r.err)
	}
	if r.resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d", r.resp.StatusCode)
	}
	if r.resp.Body != `{"data": {}}` {
		t.Errorf("Body = %q", r.resp.Body)
	}
}

func TestProxyErrorFrame(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	done := make(chan error, 1)
	go func() {
		_, err := h.router.Proxy(context.Background(), "user-1", ProxyRequest{URL: "https://example.com"})
		done <- err
	}()

	frame := readFrame(t, conn)
	writeFrame(t, conn, extFrame{
		Type:      "proxy_http_error",
		RequestID: frame.RequestID,
		Error:     "NetworkError when attempting to fetch resource",
	})

	err := <-done
	if err == nil || !strings.Contains(err.Error(), "NetworkError") {
		t.Errorf("err = %v, want extension error surfaced", err)
	}
}

func TestProxyTimeout(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	start := time.Now()
	_, err := h.router.Proxy(context.Background(), "user-1", ProxyRequest{
		URL:     "https://example.com",
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrProxyTimeout) {
		t.Fatalf("err = %v, want ErrProxyTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}

	// A late response for the timed-out id is discarded; the session keeps
	// working.
	frame := readFrame(t, conn)
	writeFrame(t, conn, extFrame{Type: "proxy_http_response", RequestID: frame.RequestID, StatusCode: 200})

	roundTrip(t, h, conn, "user-1")
}

func TestProxyNoConnection(t *testing.T) {
	h := newHarness(t)
	if _, err := h.router.Proxy(context.Background(), "nobody", ProxyRequest{URL: "https://example.com"}); !errors.Is(err, ErrNoProxyConnection) {
		t.Errorf("err = %v, want ErrNoProxyConnection", err)
	}
}

func TestUnknownAndDuplicateResponsesDropped(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	// A response for an id nobody is waiting on is dropped silently.
	writeFrame(t, conn, extFrame{Type: "proxy_http_response", RequestID: "bogus", StatusCode: 500})

	done := make(chan ProxyResponse, 1)
	go func() {
		resp, _ := h.router.Proxy(context.Background(), "user-1", ProxyRequest{URL: "https://example.com"})
		done <- resp
	}()

	frame := readFrame(t, conn)
	writeFrame(t, conn, extFrame{Type: "proxy_http_response", RequestID: frame.RequestID, StatusCode: 201})
	// Duplicate delivery for the same id.
	writeFrame(t, conn, extFrame{Type: "proxy_http_response", RequestID: frame.RequestID, StatusCode: 500})

	resp := <-done
	if resp.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want first delivery to win", resp.StatusCode)
	}

	roundTrip(t, h, conn, "user-1")
}

func TestSupersededConnection(t *testing.T) {
	h := newHarness(t)
	conn1 := h.dial(t, "user-1")

	// Park a request on the first connection.
	pending := make(chan error, 1)
	go func() {
		_, err := h.router.Proxy(context.Background(), "user-1", ProxyRequest{URL: "https://example.com"})
		pending <- err
	}()
	readFrame(t, conn1)

	conn2 := h.dial(t, "user-1")

	if err := <-pending; !errors.Is(err, ErrNoProxyConnection) {
		t.Errorf("pending request err = %v, want ErrNoProxyConnection", err)
	}

	// The old socket sees the superseded close code.
	conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn1.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != CloseSuperseded {
		t.Errorf("old socket close = %v, want code %d", err, CloseSuperseded)
	}

	// The new socket serves traffic.
	roundTrip(t, h, conn2, "user-1")
}

func TestDisconnectAndShutdown(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "user-1")

	h.router.Disconnect("user-1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("old socket still readable after disconnect")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.router.Connected("user-1") {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.dial(t, "user-2")
	h.router.Shutdown()
	deadline = time.Now().Add(2 * time.Second)
	for h.router.Connected("user-2") {
		if time.Now().After(deadline) {
			t.Fatal("session survived shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPongTimeoutClosesSession(t *testing.T) {
	h := newHarness(t)
	h.router.PingInterval = 30 * time.Millisecond
	h.router.PongTimeout = 20 * time.Millisecond

	conn := h.dial(t, "user-1")

	// Ignore pings; the server should give up and close with 4408.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // ping frame
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != ClosePongTimeout {
			t.Fatalf("close = %v, want code %d", err, ClosePongTimeout)
		}
		break
	}

	for h.router.Connected("user-1") {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after pong timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPongKeepsSessionAlive(t *testing.T) {
	h := newHarness(t)
	h.router.PingInterval = 30 * time.Millisecond
	h.router.PongTimeout = 20 * time.Millisecond

	conn := h.dial(t, "user-1")

	// Answer pings for several intervals.
	stop := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(stop) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read during keepalive: %v", err)
		}
		var frame extFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
			writeFrame(t, conn, extFrame{Type: "pong", Timestamp: frame.Timestamp})
		}
	}

	if !h.router.Connected("user-1") {
		t.Error("session dropped despite pongs")
	}
}

// roundTrip pushes one request through and answers it from the fake
// extension side.
func roundTrip(t *testing.T, h *harness, conn *websocket.Conn, user string) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		resp, err := h.router.Proxy(context.Background(), user, ProxyRequest{URL: "https://example.com"})
		if err == nil && resp.StatusCode != 200 {
			err = errors.New("unexpected status")
		}
		done <- err
	}()
	frame := readFrame(t, conn)
	writeFrame(t, conn, extFrame{Type: "proxy_http_response", RequestID: frame.RequestID, StatusCode: 200})
	if err := <-done; err != nil {
		t.Fatalf("round trip: %v", err)
	}
}

func strPtr(s string) *string { return &s }
