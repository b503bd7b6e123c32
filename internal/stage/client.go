// Package stage implements the stage display client: a read-only mirror of
// the slides, timers, clock and stage message the engine shows on stage.
package stage

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/notify"
	"github.com/genricoloni/stagelink/internal/transport"
	"go.uber.org/zap"
)

// Endpoint is the WebSocket path of the stage display protocol
const Endpoint = "/stagedisplay"

const defaultVersion = 6

// Options configure a stage display client
type Options struct {
	Host     string
	Port     int
	Password string
	// Version is the engine's major version; the wire protocol number is
	// derived from it
	Version int

	CloseBackoff time.Duration
	ErrorBackoff time.Duration
}

// Status is a point-in-time copy of the client
type Status struct {
	Connection domain.ConnectionState `json:"connection"`
	State
}

// Active reports whether the engine has accepted the credentials
func (s Status) Active() bool {
	return s.Connection == domain.StateActive
}

type authFrame struct {
	Acn string `json:"acn"`
	Pwd string `json:"pwd"`
	Ptl int    `json:"ptl"`
}

// Client mirrors stage display state. Frames are merged on the
// connection's reader goroutine; Status and the subscription methods are
// safe from any goroutine.
type Client struct {
	logger   *zap.Logger
	password string
	version  int
	manager  *transport.Manager

	mu     sync.Mutex
	merger *Merger

	updates      *notify.Broker[Status]
	data         *notify.Broker[Update]
	timers       *notify.Broker[domain.Timer]
	systemClocks *notify.Broker[domain.SystemClock]
	messages     *notify.Broker[string]
	slides       *notify.Broker[domain.Slides]
	frames       *notify.Broker[domain.Frame]
}

var _ domain.Client = (*Client)(nil)

// NewClient creates a client. Nothing connects until Start.
func NewClient(logger *zap.Logger, opts Options, dialer domain.Dialer, clk clock.Clock) *Client {
	if opts.Version <= 0 {
		opts.Version = defaultVersion
	}
	logger = logger.Named("stage")

	c := &Client{
		logger:       logger,
		password:     opts.Password,
		version:      opts.Version,
		merger:       NewMerger(),
		updates:      notify.NewBroker[Status](logger, "updates"),
		data:         notify.NewBroker[Update](logger, "data"),
		timers:       notify.NewBroker[domain.Timer](logger, "timers"),
		systemClocks: notify.NewBroker[domain.SystemClock](logger, "systime"),
		messages:     notify.NewBroker[string](logger, "messages"),
		slides:       notify.NewBroker[domain.Slides](logger, "slides"),
		frames:       notify.NewBroker[domain.Frame](logger, "frames"),
	}
	c.manager = transport.NewManager(logger, transport.Options{
		Host:         opts.Host,
		Port:         opts.Port,
		Endpoint:     Endpoint,
		CloseBackoff: opts.CloseBackoff,
		ErrorBackoff: opts.ErrorBackoff,
	}, dialer, clk, c)
	return c
}

// Start opens the connection
func (c *Client) Start(ctx context.Context) error {
	return c.manager.Connect()
}

// Stop closes the connection and cancels any pending reconnect
func (c *Client) Stop(ctx context.Context) error {
	return c.manager.Close()
}

// Reconnect schedules a fresh connection attempt after delay
func (c *Client) Reconnect(delay time.Duration) {
	c.manager.Reconnect(delay)
}

// State returns the connection state
func (c *Client) State() domain.ConnectionState {
	return c.manager.State()
}

// Status returns a copy of everything the client holds
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Updates streams a status snapshot after every change
func (c *Client) Updates(buffer int) (<-chan Status, func()) {
	return c.updates.Subscribe(buffer)
}

// Data streams every typed update
func (c *Client) Data(buffer int) (<-chan Update, func()) {
	return c.data.Subscribe(buffer)
}

// Timers streams timer updates
func (c *Client) Timers(buffer int) (<-chan domain.Timer, func()) {
	return c.timers.Subscribe(buffer)
}

// SystemClocks streams system clock updates
func (c *Client) SystemClocks(buffer int) (<-chan domain.SystemClock, func()) {
	return c.systemClocks.Subscribe(buffer)
}

// Messages streams stage message updates
func (c *Client) Messages(buffer int) (<-chan string, func()) {
	return c.messages.Subscribe(buffer)
}

// Slides streams slide snapshots
func (c *Client) Slides(buffer int) (<-chan domain.Slides, func()) {
	return c.slides.Subscribe(buffer)
}

// Frames streams every inbound frame, recognized or not
func (c *Client) Frames(buffer int) (<-chan domain.Frame, func()) {
	return c.frames.Subscribe(buffer)
}

// AuthFrame implements transport.Role
func (c *Client) AuthFrame() any {
	return authFrame{
		Acn: acnAuth,
		Pwd: c.password,
		Ptl: c.version*100 + 10,
	}
}

// HandleFrame implements transport.Role
func (c *Client) HandleFrame(frame domain.Frame) {
	c.mu.Lock()
	update, ok := c.merger.Apply(frame)
	if ok && update.Kind == KindAuthentication {
		accepted := update.Payload.(bool)
		if !accepted {
			c.logger.Warn("Stage display password rejected", zap.String("error", frame.Text("err")))
		}
		c.manager.MarkAuthenticated(accepted)
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.frames.Publish(frame)
	if ok {
		c.publish(update)
	}
	c.updates.Publish(status)
}

// ConnectionChanged implements transport.Role
func (c *Client) ConnectionChanged(state domain.ConnectionState) {
	c.mu.Lock()
	if state != domain.StateActive {
		c.merger.SetAuthenticated(false)
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.updates.Publish(status)
}

func (c *Client) publish(update Update) {
	switch payload := update.Payload.(type) {
	case domain.Timer:
		c.timers.Publish(payload)
	case domain.SystemClock:
		c.systemClocks.Publish(payload)
	case string:
		c.messages.Publish(payload)
	case domain.Slides:
		c.slides.Publish(payload)
	}
	c.data.Publish(update)
}

func (c *Client) statusLocked() Status {
	return Status{
		Connection: c.manager.State(),
		State:      c.merger.State(),
	}
}
