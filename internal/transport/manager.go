package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultCloseBackoff is the reconnect delay after the engine closed
	// the connection
	DefaultCloseBackoff = 10 * time.Second
	// DefaultErrorBackoff is the reconnect delay after a dial or read error
	DefaultErrorBackoff = 30 * time.Second

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// ErrNotConnected is returned by Send when no socket is open
var ErrNotConnected = errors.New("not connected")

// Role is the protocol spoken over a managed connection
type Role interface {
	// AuthFrame returns the first frame to send once the socket opens
	AuthFrame() any

	// HandleFrame processes one inbound frame. It is called from the
	// connection's reader goroutine, one frame at a time.
	HandleFrame(frame domain.Frame)

	// ConnectionChanged is told about transitions the role did not cause
	// itself: Connecting, AwaitingAuth on socket open, and Closed.
	// Transitions made through MarkAuthenticated are not reported here.
	ConnectionChanged(state domain.ConnectionState)
}

// Options locate the endpoint and tune reconnect behaviour
type Options struct {
	Host     string
	Port     int
	Endpoint string

	CloseBackoff time.Duration
	ErrorBackoff time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.CloseBackoff <= 0 {
		o.CloseBackoff = DefaultCloseBackoff
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = DefaultErrorBackoff
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Manager owns one outbound connection and keeps it in exactly one
// domain.ConnectionState. Dropped connections are redialled after a
// back-off; an explicit Close stops that.
type Manager struct {
	logger *zap.Logger
	opts   Options
	dialer domain.Dialer
	clock  clock.Clock
	role   Role
	states *notify.Broker[domain.ConnectionState]

	mu             sync.Mutex
	state          domain.ConnectionState
	socket         domain.Socket
	cancel         context.CancelFunc
	generation     uint64
	session        string
	reconnectTimer clock.Timer
}

// NewManager creates a manager in StateDisconnected. Nothing is dialled
// until Connect is called.
func NewManager(logger *zap.Logger, opts Options, dialer domain.Dialer, clk clock.Clock, role Role) *Manager {
	opts = opts.withDefaults()
	logger = logger.With(zap.String("endpoint", opts.Endpoint))
	return &Manager{
		logger: logger,
		opts:   opts,
		dialer: dialer,
		clock:  clk,
		role:   role,
		states: notify.NewBroker[domain.ConnectionState](logger, "connection"),
	}
}

// URL builds the endpoint URL, failing on an unusable host, port or path
func (m *Manager) URL() (string, error) {
	host := strings.TrimSpace(m.opts.Host)
	if host == "" {
		return "", errors.New("host is empty")
	}
	if m.opts.Port < 1 || m.opts.Port > 65535 {
		return "", fmt.Errorf("port %d out of range", m.opts.Port)
	}
	if !strings.HasPrefix(m.opts.Endpoint, "/") {
		return "", fmt.Errorf("endpoint %q must start with /", m.opts.Endpoint)
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(m.opts.Port)),
		Path:   m.opts.Endpoint,
	}
	if _, err := url.Parse(u.String()); err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return u.String(), nil
}

// State returns the current connection state
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the id of the current connection attempt
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// States subscribes to connection state transitions
func (m *Manager) States(buffer int) (<-chan domain.ConnectionState, func()) {
	return m.states.Subscribe(buffer)
}

// Connect replaces any existing connection with a new attempt and returns
// without waiting for it. An endpoint that cannot even be expressed as a
// URL is reported and not retried.
func (m *Manager) Connect() error {
	target, err := m.URL()
	if err != nil {
		m.logger.Error("Cannot build endpoint URL, not connecting", zap.Error(err))
		m.mu.Lock()
		m.stopReconnectLocked()
		m.teardownLocked()
		m.generation++
		m.state = domain.StateClosed
		m.mu.Unlock()
		m.announce(domain.StateClosed)
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.stopReconnectLocked()
	m.teardownLocked()
	m.generation++
	gen := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.session = uuid.NewString()
	session := m.session
	m.state = domain.StateConnecting
	m.mu.Unlock()

	m.logger.Info("Connecting", zap.String("url", target), zap.String("session", session))
	m.announce(domain.StateConnecting)

	go m.run(ctx, gen, target, m.logger.With(zap.String("session", session)))
	return nil
}

// Reconnect schedules a single Connect after delay, replacing any attempt
// that is already scheduled
func (m *Manager) Reconnect(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleReconnectLocked(delay)
}

// Close terminates the socket, cancels any scheduled reconnect and leaves
// the manager in StateClosed
func (m *Manager) Close() error {
	m.mu.Lock()
	m.stopReconnectLocked()
	m.generation++
	err := m.teardownLocked()
	m.state = domain.StateClosed
	m.mu.Unlock()

	m.logger.Info("Connection closed")
	m.announce(domain.StateClosed)
	if err != nil {
		return fmt.Errorf("terminate socket: %w", err)
	}
	return nil
}

// Send encodes frame as JSON and writes it. It fails with ErrNotConnected
// unless a socket is open.
func (m *Manager) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	m.mu.Lock()
	sock, state, session := m.socket, m.state, m.session
	m.mu.Unlock()

	if sock == nil || !state.Connected() {
		return fmt.Errorf("send in state %s: %w", state, ErrNotConnected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()
	if err := sock.Write(ctx, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	m.logger.Debug("Frame sent",
		zap.String("session", session),
		zap.ByteString("frame", data))
	return nil
}

// MarkAuthenticated records the engine's answer to the auth frame. A
// rejection leaves the socket open in StateAwaitingAuth; retrying needs a
// new Connect.
func (m *Manager) MarkAuthenticated(ok bool) domain.ConnectionState {
	m.mu.Lock()
	if !m.state.Connected() {
		state := m.state
		m.mu.Unlock()
		return state
	}
	next := domain.StateAwaitingAuth
	if ok {
		next = domain.StateActive
	}
	changed := m.state != next
	m.state = next
	m.mu.Unlock()

	if ok {
		m.logger.Info("Authenticated")
	} else {
		m.logger.Warn("Authentication rejected")
	}
	if changed {
		m.states.Publish(next)
	}
	return next
}

func (m *Manager) run(ctx context.Context, gen uint64, target string, logger *zap.Logger) {
	dialCtx, cancelDial := context.WithTimeout(ctx, m.opts.DialTimeout)
	sock, err := m.dialer.Dial(dialCtx, target)
	cancelDial()
	if err != nil {
		m.fail(gen, err, logger)
		return
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		_ = sock.Terminate()
		return
	}
	m.socket = sock
	m.state = domain.StateAwaitingAuth
	m.mu.Unlock()

	logger.Info("Socket open, authenticating")
	if err := m.Send(m.role.AuthFrame()); err != nil {
		logger.Error("Failed to send authentication frame", zap.Error(err))
	}
	m.announce(domain.StateAwaitingAuth)

	for {
		data, err := sock.Read(ctx)
		if err != nil {
			m.fail(gen, err, logger)
			return
		}
		if !m.isCurrent(gen) {
			return
		}

		frame, err := domain.DecodeFrame(data)
		if err != nil {
			logger.Warn("Ignoring undecodable message", zap.Error(err))
			continue
		}
		logger.Debug("Frame received", zap.ByteString("frame", data))
		m.role.HandleFrame(frame)
	}
}

// fail handles the end of connection gen. A close frame from the engine
// is routine and retried after CloseBackoff; anything else is retried
// after the longer ErrorBackoff.
func (m *Manager) fail(gen uint64, err error, logger *zap.Logger) {
	delay := m.opts.ErrorBackoff
	remoteClosed := errors.Is(err, domain.ErrRemoteClosed)
	if remoteClosed {
		delay = m.opts.CloseBackoff
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.state = domain.StateClosed
	m.scheduleReconnectLocked(delay)
	m.mu.Unlock()

	if remoteClosed {
		logger.Info("Connection closed by remote", zap.Error(err))
	} else {
		logger.Warn("Transport error", zap.Error(err))
	}
	m.announce(domain.StateClosed)
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *Manager) scheduleReconnectLocked(delay time.Duration) {
	m.stopReconnectLocked()
	m.logger.Info("Attempting reconnect", zap.Duration("delay", delay))

	var timer clock.Timer
	timer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.reconnectTimer != timer {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.mu.Unlock()

		_ = m.Connect()
	})
	m.reconnectTimer = timer
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// teardownLocked drops the current socket, if any
func (m *Manager) teardownLocked() error {
	var err error
	if m.socket != nil {
		err = m.socket.Terminate()
		m.socket = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return err
}

func (m *Manager) announce(state domain.ConnectionState) {
	m.role.ConnectionChanged(state)
	m.states.Publish(state)
}
