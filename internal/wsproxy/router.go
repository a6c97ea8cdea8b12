// Package wsproxy routes synthesized HTTP requests to the caller's browser
// extension over a persistent WebSocket and correlates the responses back
// to waiting callers.
package wsproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"linkedin-gateway/internal/logger"
)

// Close codes on the extension socket.
const (
	// CloseUnauthorized is sent when the handshake identity does not match
	// the authenticated user.
	CloseUnauthorized = 4401
	// CloseSuperseded is sent to the old socket when a user opens a second
	// connection.
	CloseSuperseded = 4409
	// ClosePongTimeout is sent when a ping goes unanswered.
	ClosePongTimeout = 4408
)

// Default timing. Overridable per Router for tests.
const (
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 5 * time.Second
	DefaultProxyTimeout     = 60 * time.Second
	DefaultWriteStallPeriod = 10 * time.Second
)

// ErrNoProxyConnection is returned when the user has no live socket.
var ErrNoProxyConnection = errors.New("no proxy connection for user")

// ErrProxyTimeout is returned when the extension does not answer a proxy
// request within its timeout.
var ErrProxyTimeout = errors.New("proxy request timed out")

// ErrProxyBackpressure is returned when the socket's write path stays
// blocked beyond the stall threshold.
var ErrProxyBackpressure = errors.New("proxy connection backpressured")

// ProxyRequest is one HTTP request to execute in the user's browser.
type ProxyRequest struct {
	URL                string
	Method             string
	Headers            map[string]string
	Body               string
	ResponseType       string // "json" or "text"
	IncludeCredentials bool
	Timeout            time.Duration
}

// ProxyResponse is the extension's reply.
type ProxyResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// Frame type discriminators shared with the extension.
const (
	frameTypePing     = "ping"
	frameTypePong     = "pong"
	frameTypeRequest  = "proxy_http_request"
	frameTypeResponse = "proxy_http_response"
	frameTypeError    = "proxy_http_error"
)

// requestFrame is the outbound proxy request envelope.
type requestFrame struct {
	Type               string            `json:"type"`
	RequestID          string            `json:"request_id"`
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers"`
	Body               *string           `json:"body"`
	ResponseType       string            `json:"response_type"`
	IncludeCredentials bool              `json:"include_credentials"`
	TimeoutMS          int64             `json:"timeout_ms"`
}

// inboundFrame is the union of everything the extension sends.
type inboundFrame struct {
	Type       string            `json:"type"`
	RequestID  string            `json:"request_id,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type proxyResult struct {
	resp ProxyResponse
	err  error
}

// Router holds one live session per user and multiplexes proxy requests
// over it.
type Router struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteStallPeriod time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	log      *logger.Logger
}

// NewRouter creates an empty Router.
func NewRouter(log *logger.Logger) *Router {
	return &Router{
		PingInterval:     DefaultPingInterval,
		PongTimeout:      DefaultPongTimeout,
		WriteStallPeriod: DefaultWriteStallPeriod,
		sessions:         make(map[string]*Session),
		log:              log.WithComponent("wsproxy"),
	}
}

// Session is one live extension connection.
type Session struct {
	userID      string
	conn        *websocket.Conn
	router      *Router
	connectedAt time.Time

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	inflight map[string]chan proxyResult
	lastPong time.Time

	closeOnce sync.Once
	log       *logger.Logger
}

// Attach registers a freshly upgraded connection for a user and starts its
// read/write/ping loops. An existing session for the same user is closed
// with CloseSuperseded; its inflight requests fail immediately.
func (r *Router) Attach(userID string, conn *websocket.Conn) *Session {
	s := &Session{
		userID:      userID,
		conn:        conn,
		router:      r,
		connectedAt: time.Now(),
		send:        make(chan []byte, 16),
		done:        make(chan struct{}),
		inflight:    make(map[string]chan proxyResult),
		lastPong:    time.Now(),
		log:         r.log.WithUserID(userID),
	}

	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()

	if old != nil {
		old.log.Info().Msg("superseding existing proxy connection")
		old.close(CloseSuperseded, "superseded by newer connection", ErrNoProxyConnection)
	}

	go s.writeLoop()
	go s.readLoop()
	go s.pingLoop()

	s.log.Info().Msg("proxy connection attached")
	return s
}

// Connected reports whether the user has a live socket.
func (r *Router) Connected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}

// Disconnect closes the user's session if one exists (logout, shutdown).
func (r *Router) Disconnect(userID string) {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s != nil {
		s.close(websocket.CloseNormalClosure, "disconnected", ErrNoProxyConnection)
	}
}

// Shutdown closes every session.
func (r *Router) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.close(websocket.CloseGoingAway, "server shutting down", ErrNoProxyConnection)
	}
}

// Proxy sends one HTTP request through the user's socket and waits for the
// correlated response.
func (r *Router) Proxy(ctx context.Context, userID string, req ProxyRequest) (ProxyResponse, error) {
	r.mu.Lock()
	s := r.sessions[userID]
	r.mu.Unlock()
	if s == nil {
		return ProxyResponse{}, ErrNoProxyConnection
	}
	return s.proxy(ctx, req, r.WriteStallPeriod)
}

func (s *Session) proxy(ctx context.Context, req ProxyRequest, stallPeriod time.Duration) (ProxyResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}
	responseType := req.ResponseType
	if responseType == "" {
		responseType = "json"
	}

	requestID := uuid.NewString()
	frame := requestFrame{
		Type:               frameTypeRequest,
		RequestID:          requestID,
		URL:                req.URL,
		Method:             method,
		Headers:            req.Headers,
		ResponseType:       responseType,
		IncludeCredentials: req.IncludeCredentials,
		TimeoutMS:          timeout.Milliseconds(),
	}
	if req.Body != "" {
		frame.Body = &req.Body
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("encode proxy request: %w", err)
	}

	// Single-shot rendezvous slot. Buffered so a late resolve never blocks
	// the read loop.
	ch := make(chan proxyResult, 1)
	s.mu.Lock()
	s.inflight[requestID] = ch
	s.mu.Unlock()

	stall := time.NewTimer(stallPeriod)
	defer stall.Stop()
	select {
	case s.send <- data:
	case <-stall.C:
		s.removeSlot(requestID)
		return ProxyResponse{}, ErrProxyBackpressure
	case <-s.done:
		s.removeSlot(requestID)
		return ProxyResponse{}, ErrNoProxyConnection
	case <-ctx.Done():
		s.removeSlot(requestID)
		return ProxyResponse{}, ctx.Err()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case result := <-ch:
		return result.resp, result.err
	case <-deadline.C:
		s.removeSlot(requestID)
		s.log.Warn().Str("request_id", requestID).Msg("proxy request timed out")
		return ProxyResponse{}, ErrProxyTimeout
	case <-s.done:
		return ProxyResponse{}, ErrNoProxyConnection
	case <-ctx.Done():
		s.removeSlot(requestID)
		return ProxyResponse{}, ctx.Err()
	}
}

// removeSlot takes the rendezvous slot out of the table so a late response
// is discarded.
func (s *Session) removeSlot(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

// resolve delivers a result to the waiting caller. Exactly one delivery
// per request id; duplicates are dropped.
func (s *Session) resolve(requestID string, result proxyResult) {
	s.mu.Lock()
	ch, ok := s.inflight[requestID]
	if ok {
		delete(s.inflight, requestID)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug().Str("request_id", requestID).Msg("dropping response for unknown request id")
		return
	}
	ch <- result
}

func (s *Session) failInflight(err error) {
	s.mu.Lock()
	slots := s.inflight
	s.inflight = make(map[string]chan proxyResult)
	s.mu.Unlock()
	for _, ch := range slots {
		ch <- proxyResult{err: err}
	}
}

// writeLoop is the session's single serialized writer.
func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.router.WriteStallPeriod))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.close(websocket.CloseAbnormalClosure, "write failure", ErrNoProxyConnection)
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop demultiplexes every inbound frame.
func (s *Session) readLoop() {
	defer func() {
		s.router.detach(s)
		s.close(websocket.CloseNormalClosure, "connection closed", ErrNoProxyConnection)
	}()

	s.conn.SetPongHandler(func(string) error {
		s.markPong()
		return nil
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.router.PingInterval + s.router.PongTimeout + time.Second))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Type {
		case frameTypePong:
			s.markPong()
		case frameTypePing:
			s.enqueueControl(inboundFrame{Type: frameTypePong, Timestamp: frame.Timestamp})
		case frameTypeResponse:
			s.resolve(frame.RequestID, proxyResult{resp: ProxyResponse{
				StatusCode: frame.StatusCode,
				Headers:    frame.Headers,
				Body:       frame.Body,
			}})
		case frameTypeError:
			s.resolve(frame.RequestID, proxyResult{err: fmt.Errorf("extension error: %s", frame.Error)})
		default:
			s.log.Warn().Str("type", frame.Type).Msg("dropping frame of unknown type")
		}
	}
}

// pingLoop sends application-level pings and closes the session when a
// pong goes unanswered beyond the pong timeout.
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.router.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if time.Since(s.pongAt()) > s.router.PingInterval+s.router.PongTimeout {
				s.log.Info().Msg("pong timeout, closing proxy connection")
				s.router.detach(s)
				s.close(ClosePongTimeout, "pong timeout", ErrNoProxyConnection)
				return
			}
			s.enqueueControl(inboundFrame{Type: frameTypePing, Timestamp: time.Now().UnixMilli()})
		case <-s.done:
			return
		}
	}
}

func (s *Session) enqueueControl(frame inboundFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	default:
		// Control frames are best-effort; a full queue means the socket is
		// already stalling and the stall handling will fire.
	}
}

func (s *Session) markPong() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

func (s *Session) pongAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// detach removes the session from the table if it is still the user's
// current one.
func (r *Router) detach(s *Session) {
	r.mu.Lock()
	if r.sessions[s.userID] == s {
		delete(r.sessions, s.userID)
	}
	r.mu.Unlock()
}

func (s *Session) close(code int, reason string, inflightErr error) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.conn.Close()
		close(s.done)
		s.failInflight(inflightErr)
		s.log.Info().Int("code", code).Str("reason", reason).Msg("proxy connection closed")
	})
}
