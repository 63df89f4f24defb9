package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gigchat/internal/domain/entity"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/pkg/config"
	apperrors "gigchat/pkg/errors"
	"gigchat/pkg/logger"
)

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func NewDialer(handshakeTimeout time.Duration) Dialer {
	return &gorillaDialer{dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}}
}

func (d *gorillaDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// Session owns one push connection at a time and reconnects it with backoff
// until the context ends, the retry budget runs out, or the server rejects
// the token.
type Session struct {
	url           string
	token         string
	authCloseCode int
	maxRetries    int
	backoff       Backoff
	pingPeriod    time.Duration
	pongWait      time.Duration
	writeWait     time.Duration
	sendBuffer    int
	dialer        Dialer
	metrics       *metrics.Metrics

	events chan entity.Event

	mu    sync.RWMutex
	live  *liveConn
	state entity.ConnectionState
}

type liveConn struct {
	out  chan []byte
	done chan struct{}
}

type SessionOption func(*Session)

func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = d
	}
}

func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

func WithBackoff(b Backoff) SessionOption {
	return func(s *Session) {
		s.backoff = b
	}
}

func NewSession(cfg config.Transport, token string, opts ...SessionOption) *Session {
	s := &Session{
		url:           cfg.URL,
		token:         token,
		authCloseCode: cfg.AuthCloseCode,
		maxRetries:    cfg.MaxRetries,
		backoff:       Backoff{Min: cfg.BackoffMin, Max: cfg.BackoffMax},
		pingPeriod:    cfg.PingPeriod,
		pongWait:      cfg.PongWait,
		writeWait:     cfg.WriteWait,
		sendBuffer:    cfg.SendBuffer,
		events:        make(chan entity.Event, 256),
		state:         entity.ConnectionState{Status: entity.ConnectionDisconnected, Since: time.Now()},
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = 256
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = NewDialer(s.writeWait)
	}
	return s
}

// Events delivers decoded push events and connection lifecycle changes.
func (s *Session) Events() <-chan entity.Event {
	return s.events
}

func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live != nil
}

func (s *Session) State() entity.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func notConnected() error {
	return apperrors.Transport("Push connection is not open", nil)
}

// Publish queues a command on the open connection.
func (s *Session) Publish(ctx context.Context, cmd entity.Command) error {
	payload, err := EncodeCommand(cmd)
	if err != nil {
		return apperrors.BadRequest("Unsupported command", err)
	}

	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	if live == nil {
		return notConnected()
	}

	select {
	case live.out <- payload:
		return nil
	case <-live.done:
		return notConnected()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx ends (nil), the token is rejected (AUTH_REJECTED) or
// reconnects are exhausted (TRANSPORT_ERROR).
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionConnecting, Attempt: attempt}, 0)

		conn, resp, err := s.dialer.Dial(ctx, s.url, s.header())
		if err != nil {
			if ctx.Err() != nil {
				s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionDisconnected}, 0)
				return nil
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return s.rejectAuth(ctx, fmt.Sprintf("Handshake rejected with status %d", resp.StatusCode), 0)
			}
			logger.Warn("Transport: dial %s failed: %v", s.url, err)
			attempt++
			if proceed, err := s.wait(ctx, attempt, err); !proceed {
				return err
			}
			continue
		}

		attempt = 0
		logger.Info("Transport: connected to %s", s.url)

		code, serveErr := s.serve(ctx, conn)
		s.metrics.SetConnected(false)

		if ctx.Err() != nil {
			s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionDisconnected}, code)
			return nil
		}
		if s.authCloseCode != 0 && code == s.authCloseCode {
			return s.rejectAuth(ctx, "Server closed the connection: authentication failed", code)
		}
		logger.Warn("Transport: connection lost (code %d): %v", code, serveErr)
		attempt++
		if proceed, err := s.wait(ctx, attempt, serveErr); !proceed {
			return err
		}
	}
}

func (s *Session) header() http.Header {
	h := http.Header{}
	if s.token != "" {
		h.Set("Authorization", "Bearer "+s.token)
	}
	return h
}

func (s *Session) rejectAuth(ctx context.Context, message string, code int) error {
	logger.Error("Transport: %s", message)
	s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionError, Error: message, AuthFailed: true}, code)
	return apperrors.AuthRejected(message, nil)
}

// wait sleeps before the given reconnect attempt. It reports false when the
// session must stop, with a nil error when ctx ended.
func (s *Session) wait(ctx context.Context, attempt int, cause error) (bool, error) {
	if attempt > s.maxRetries {
		message := fmt.Sprintf("Gave up after %d reconnect attempts", s.maxRetries)
		logger.Error("Transport: %s: %v", message, cause)
		s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionError, Attempt: attempt - 1, Error: message}, 0)
		return false, apperrors.Transport(message, cause)
	}

	state := entity.ConnectionState{Status: entity.ConnectionDisconnected, Attempt: attempt}
	if cause != nil {
		state.Error = cause.Error()
	}
	s.setState(ctx, state, 0)
	s.metrics.Reconnect()

	timer := time.NewTimer(s.backoff.Duration(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionDisconnected}, 0)
		return false, nil
	}
}

func (s *Session) setState(ctx context.Context, state entity.ConnectionState, closeCode int) {
	state.Since = time.Now()
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.emit(ctx, entity.ConnectionEvent{State: state, CloseCode: closeCode})
}

// emit blocks while the consumer is behind; connection events raised after
// ctx ended are dropped if nobody is reading.
func (s *Session) emit(ctx context.Context, ev entity.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		select {
		case s.events <- ev:
		default:
		}
		return false
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) (int, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	live := &liveConn{out: make(chan []byte, s.sendBuffer), done: make(chan struct{})}
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.live == live {
			s.live = nil
		}
		s.mu.Unlock()
		close(live.done)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(connCtx, conn, live.out)
	}()

	// Connected is only announced once Publish can reach this connection.
	s.metrics.SetConnected(true)
	s.setState(ctx, entity.ConnectionState{Status: entity.ConnectionConnected}, 0)

	code, err := s.readPump(connCtx, conn)
	cancel()
	<-writerDone
	return code, err
}

func (s *Session) readPump(ctx context.Context, conn Conn) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, err
			}
			return 0, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))

		ev, err := DecodeEvent(raw)
		if err != nil {
			logger.Warn("Transport: dropping frame: %v", err)
			continue
		}
		if ev == nil {
			continue
		}
		s.metrics.Event(EventKind(ev))
		if !s.emit(ctx, ev) {
			return 0, ctx.Err()
		}
	}
}

// writePump is the only writer of data frames; it closes conn on exit, which
// also unblocks readPump.
func (s *Session) writePump(ctx context.Context, conn Conn, out <-chan []byte) {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Warn("Transport: write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				logger.Warn("Transport: ping failed: %v", err)
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeWait))
			return
		}
	}
}
