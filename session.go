package vim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/zongyulang/IM/internal/clock"
)

// ============================================================================
// Transport
// ============================================================================

// Conn is the transport under a Session. *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }

// WebSocketDialer dials with nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}

// ============================================================================
// Configuration
// ============================================================================

// SessionState is the connection state of a Session.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateConnecting   SessionState = "connecting"
	StateOpen         SessionState = "open"
	StateReconnecting SessionState = "reconnecting"
	StateClosed       SessionState = "closed"
)

var (
	// ErrNotOpen is returned by Send while the connection is not open.
	ErrNotOpen = errors.New("connection is not open")
	// ErrClosed is returned after the session was closed by the user.
	ErrClosed = errors.New("session closed")
)

// Default session timings.
const (
	DefaultHeartbeat        = 3 * time.Second
	DefaultReconnectTimeout = 5 * time.Second
	DefaultRetryInterval    = 3 * time.Second
	DefaultMaxRetries       = 50

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// AlertConnectionFailed is shown when the retry budget runs out.
const AlertConnectionFailed = "connection failed, check your network"

// SessionConfig configures a Session.
type SessionConfig struct {
	// URL returns the address to dial. It is called on every attempt so
	// host changes take effect on the next reconnect.
	URL func() string
	// Token returns the credential sent in the ready handshake.
	Token func() string
	// ClientType identifies the client kind in the handshake, e.g. "pc".
	ClientType string

	Heartbeat     time.Duration
	Timeout       time.Duration
	RetryInterval time.Duration
	MaxRetries    int

	Dialer Dialer
	Clock  clock.Clock
	Logger *slog.Logger

	// Handler receives every decoded frame except the heartbeat reply.
	Handler func(Frame)
	// Alert shows user-visible notices.
	Alert func(text string)
	// OnFatal runs after the retry budget is exhausted and the session
	// has closed. The application logs out from here.
	OnFatal func()
	// OnState observes state transitions. It runs after the session's
	// lock is released, in transition order per goroutine.
	OnState func(SessionState)
}

func (c *SessionConfig) defaults() {
	if c.Heartbeat == 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultReconnectTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Dialer == nil {
		c.Dialer = WebSocketDialer{}
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Token == nil {
		c.Token = func() string { return "" }
	}
}

// ============================================================================
// Session
// ============================================================================

// Session keeps one logical connection to the message server alive. It
// sends a ping every Heartbeat; if nothing arrives within Timeout after a
// ping the connection is presumed dead and replaced. Reconnects run after
// a fixed RetryInterval and at most one is in flight at a time. After
// MaxRetries consecutive failures the session closes and OnFatal runs.
type Session struct {
	cfg      SessionConfig
	clientID string
	log      *slog.Logger

	mu           sync.Mutex
	handler      func(Frame)
	state        SessionState
	conn         Conn
	cancelRead   context.CancelFunc
	gen          uint64
	retries      int
	closedByUser bool
	reconnecting bool
	heartbeat    *clock.Timer
	timeout      *clock.Timer
	retry        *clock.Timer
	notes        []SessionState
}

// NewSession creates an idle session with a fresh client id.
func NewSession(cfg SessionConfig) *Session {
	cfg.defaults()
	return &Session{
		cfg:      cfg,
		clientID: uuid.NewString(),
		log:      cfg.Logger,
		handler:  cfg.Handler,
		state:    StateIdle,
	}
}

// ClientID identifies this client instance across reconnects.
func (s *Session) ClientID() string { return s.clientID }

// SetHandler replaces the frame handler.
func (s *Session) SetHandler(h func(Frame)) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Retries returns the consecutive failed reconnect count.
func (s *Session) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Open connects. A failed first dial enters the reconnect cycle and the
// dial error is returned.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen, StateConnecting, StateReconnecting:
		s.unlock()
		return nil
	}
	s.closedByUser = false
	s.setStateLocked(StateConnecting)
	s.unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.log.Warn("connect failed", "error", err)
		s.fail()
		return err
	}
	return s.establish(conn)
}

// Close shuts the connection down for good. Pending timers, including a
// scheduled reconnect, are canceled.
func (s *Session) Close() {
	s.mu.Lock()
	s.closedByUser = true
	s.stopTimersLocked()
	s.retry.Stop()
	s.retry = nil
	s.reconnecting = false
	conn := s.detachLocked()
	s.setStateLocked(StateClosed)
	s.unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client close")
	}
}

// Send transmits one text frame. Frames are dropped unless the
// connection is open.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != StateOpen || conn == nil {
		s.log.Warn("connection not open, frame dropped", "state", state)
		return ErrNotOpen
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// SendEnvelope encodes payload under code and sends it.
func (s *Session) SendEnvelope(code Code, payload any) error {
	data, err := EncodeEnvelope(code, payload)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// SendMessage sends a chat message.
func (s *Session) SendMessage(msg Message) error { return s.SendEnvelope(CodeMessage, msg) }

// SendReceipt sends a read receipt.
func (s *Session) SendReceipt(r ReadReceipt) error { return s.SendEnvelope(CodeRead, r) }

// CheckStatus probes liveness right away, e.g. after the machine wakes
// up. Unless traffic arrives within Timeout-Heartbeat the connection is
// replaced.
func (s *Session) CheckStatus() {
	s.mu.Lock()
	if s.closedByUser {
		s.unlock()
		return
	}
	s.stopTimersLocked()
	s.retry.Stop()
	s.retry = nil
	s.reconnecting = false
	s.armTimeoutLocked(s.cfg.Timeout - s.cfg.Heartbeat)
	s.unlock()

	if err := s.Send([]byte(PingToken)); err != nil {
		s.log.Debug("status probe not sent", "error", err)
	}
}

// ============================================================================
// Connection lifecycle
// ============================================================================

func (s *Session) dial(ctx context.Context) (Conn, error) {
	if s.cfg.URL == nil {
		return nil, errors.New("session: no url configured")
	}
	return s.cfg.Dialer.Dial(ctx, s.cfg.URL())
}

// establish installs conn as the live transport: it sends the ready
// handshake, resets the retry counter and starts the heartbeat.
func (s *Session) establish(conn Conn) error {
	ready, err := EncodeEnvelope(CodeReady, ReadyAuth{
		Token:  s.cfg.Token(),
		Client: s.cfg.ClientType,
		UUID:   s.clientID,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode ready")
		return err
	}
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err = conn.Write(wctx, websocket.MessageText, ready)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "ready failed")
		s.log.Warn("ready handshake failed", "error", err)
		s.fail()
		return fmt.Errorf("send ready: %w", err)
	}

	s.mu.Lock()
	if s.closedByUser {
		s.unlock()
		conn.Close(websocket.StatusNormalClosure, "client close")
		return ErrClosed
	}
	old := s.detachLocked()
	s.gen++
	gen := s.gen
	ctx, cancelRead := context.WithCancel(context.Background())
	s.conn = conn
	s.cancelRead = cancelRead
	s.retries = 0
	s.reconnecting = false
	s.retry.Stop()
	s.retry = nil
	s.startHeartbeatLocked()
	s.setStateLocked(StateOpen)
	s.unlock()

	if old != nil {
		old.Close(websocket.StatusGoingAway, "replaced")
	}
	s.log.Info("connection open", "client_id", s.clientID)
	go s.readLoop(ctx, conn, gen)
	return nil
}

// detachLocked drops the current transport and returns it for closing.
func (s *Session) detachLocked() Conn {
	if s.cancelRead != nil {
		s.cancelRead()
		s.cancelRead = nil
	}
	conn := s.conn
	s.conn = nil
	return conn
}

func (s *Session) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClosed(gen, err)
			return
		}
		s.onMessage(gen, data)
	}
}

func (s *Session) onMessage(gen uint64, data []byte) {
	s.mu.Lock()
	if gen != s.gen || s.closedByUser {
		s.unlock()
		return
	}
	if string(data) == PongToken {
		if s.state == StateOpen {
			s.startHeartbeatLocked()
		}
		s.unlock()
		return
	}
	handler := s.handler
	s.unlock()

	frame, err := DecodeFrame(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", "error", err)
		return
	}
	if handler != nil {
		s.dispatch(handler, frame)
	}

	s.mu.Lock()
	if gen == s.gen && !s.closedByUser {
		s.retries = 0
		if s.state == StateOpen {
			s.startHeartbeatLocked()
		}
	}
	s.unlock()
}

func (s *Session) dispatch(handler func(Frame), frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("frame handler panicked", "frame", fmt.Sprintf("%T", frame), "panic", r)
		}
	}()
	handler(frame)
}

func (s *Session) handleClosed(gen uint64, err error) {
	s.mu.Lock()
	stale := gen != s.gen || s.closedByUser
	s.unlock()
	if stale {
		return
	}
	s.log.Warn("connection lost", "error", err, "close_status", websocket.CloseStatus(err))
	s.fail()
}

// fail is the failure path shared by dial errors, transport errors and
// heartbeat timeouts.
func (s *Session) fail() {
	s.mu.Lock()
	if s.closedByUser {
		s.unlock()
		return
	}
	if s.retries < s.cfg.MaxRetries {
		s.reconnectLocked()
		s.unlock()
		return
	}
	s.retries = 0
	s.unlock()

	s.log.Error("retry budget exhausted", "max_retries", s.cfg.MaxRetries)
	if s.cfg.Alert != nil {
		s.cfg.Alert(AlertConnectionFailed)
	}
	s.Close()
	if s.cfg.OnFatal != nil {
		s.cfg.OnFatal()
	}
}

// reconnectLocked schedules one reconnect attempt. It is a no-op while
// another attempt is pending or in flight.
func (s *Session) reconnectLocked() {
	if s.reconnecting {
		return
	}
	s.stopTimersLocked()
	s.reconnecting = true
	s.setStateLocked(StateReconnecting)

	var t *clock.Timer
	t = s.cfg.Clock.AfterFunc(s.cfg.RetryInterval, func() { s.attemptReconnect(t) })
	s.retry = t
}

func (s *Session) attemptReconnect(t *clock.Timer) {
	s.mu.Lock()
	if s.retry != t || s.closedByUser {
		s.unlock()
		return
	}
	s.retry = nil
	s.setStateLocked(StateConnecting)
	s.unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := s.dial(ctx)
	cancel()

	s.mu.Lock()
	s.reconnecting = false
	s.retries++
	retries, closed := s.retries, s.closedByUser
	s.unlock()

	if closed {
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "client close")
		}
		return
	}
	if err != nil {
		s.log.Warn("reconnect failed", "retry", retries, "error", err)
		s.fail()
		return
	}
	s.log.Info("reconnected", "retry", retries)
	s.establish(conn)
}

// ============================================================================
// Timers
// ============================================================================

// startHeartbeatLocked clears both heartbeat timers and arms a new cycle.
func (s *Session) startHeartbeatLocked() {
	s.stopTimersLocked()
	var t *clock.Timer
	t = s.cfg.Clock.AfterFunc(s.cfg.Heartbeat, func() { s.beat(t) })
	s.heartbeat = t
}

func (s *Session) beat(t *clock.Timer) {
	s.mu.Lock()
	if s.heartbeat != t {
		s.unlock()
		return
	}
	s.heartbeat = nil
	s.armTimeoutLocked(s.cfg.Timeout)
	s.unlock()

	if err := s.Send([]byte(PingToken)); err != nil {
		s.log.Debug("ping not sent", "error", err)
	}
}

// armTimeoutLocked arms the reconnect timeout, superseding any earlier one.
func (s *Session) armTimeoutLocked(d time.Duration) {
	s.timeout.Stop()
	var t *clock.Timer
	t = s.cfg.Clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timeout != t {
			s.unlock()
			return
		}
		s.timeout = nil
		if !s.closedByUser {
			s.log.Warn("no traffic before timeout, reconnecting")
			s.reconnectLocked()
		}
		s.unlock()
	})
	s.timeout = t
}

func (s *Session) stopTimersLocked() {
	s.heartbeat.Stop()
	s.heartbeat = nil
	s.timeout.Stop()
	s.timeout = nil
}

func (s *Session) setStateLocked(state SessionState) {
	if s.state == state {
		return
	}
	s.state = state
	s.log.Debug("session state", "state", state)
	s.notes = append(s.notes, state)
}

// unlock releases the session and then reports the state transitions
// made while it was held.
func (s *Session) unlock() {
	notes := s.notes
	s.notes = nil
	s.mu.Unlock()
	if s.cfg.OnState == nil {
		return
	}
	for _, state := range notes {
		s.cfg.OnState(state)
	}
}
