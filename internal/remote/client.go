// Package remote implements the control client: it mirrors the engine's
// catalog and clocks and issues playback commands.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/notify"
	"github.com/genricoloni/stagelink/internal/transport"
	"go.uber.org/zap"
)

// Endpoint is the WebSocket path of the control protocol
const Endpoint = "/remote"

// DefaultSlideQuality is the thumbnail quality requested with presentations
const DefaultSlideQuality = 200

const defaultVersion = 6

var (
	// ErrNotAuthenticated is returned by commands issued before the
	// engine accepted the password
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrPrivilegeDenied is returned by mutating commands when the engine
	// did not grant controller access
	ErrPrivilegeDenied = errors.New("controller privilege denied")
	// ErrNoPresentation is returned when a command needs a current
	// presentation or slide index and none is held
	ErrNoPresentation = errors.New("no current presentation")
)

// Options configure a control client
type Options struct {
	Host     string
	Port     int
	Password string
	Version  int

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
	Action   string `json:"action"`
	Password string `json:"password"`
	Protocol int    `json:"protocol"`
}

type actionFrame struct {
	Action string `json:"action"`
}

type clockFrame struct {
	Action     string `json:"action"`
	ClockIndex int    `json:"clockIndex"`
}

type presentationFrame struct {
	Action  string `json:"action"`
	Path    string `json:"presentationPath,omitempty"`
	Quality int    `json:"presentationSlideQuality"`
}

type triggerFrame struct {
	Action     string `json:"action"`
	SlideIndex int    `json:"slideIndex"`
	Path       string `json:"presentationPath"`
}

// Client holds the control connection. Frames are merged and callbacks
// run on the connection's reader goroutine; commands and Status are safe
// from any goroutine.
type Client struct {
	logger   *zap.Logger
	password string
	version  int
	manager  *transport.Manager

	mu         sync.Mutex
	correlator *Correlator

	updates    *notify.Broker[Status]
	clockState *notify.Broker[[]domain.CatalogClock]
	frames     *notify.Broker[domain.Frame]
}

var _ domain.Client = (*Client)(nil)

// NewClient creates a client. Nothing connects until Start.
func NewClient(logger *zap.Logger, opts Options, dialer domain.Dialer, clk clock.Clock) *Client {
	if opts.Version <= 0 {
		opts.Version = defaultVersion
	}
	logger = logger.Named("remote")

	c := &Client{
		logger:     logger,
		password:   opts.Password,
		version:    opts.Version,
		correlator: NewCorrelator(),
		updates:    notify.NewBroker[Status](logger, "updates"),
		clockState: notify.NewBroker[[]domain.CatalogClock](logger, "clocks"),
		frames:     notify.NewBroker[domain.Frame](logger, "frames"),
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

// Stop closes the connection, cancels any pending reconnect and drops
// pending commands
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

// Updates streams a status snapshot after every frame and connection change
func (c *Client) Updates(buffer int) (<-chan Status, func()) {
	return c.updates.Subscribe(buffer)
}

// ClockState streams the clock list whenever it changes
func (c *Client) ClockState(buffer int) (<-chan []domain.CatalogClock, func()) {
	return c.clockState.Subscribe(buffer)
}

// Frames streams every inbound frame, recognized or not
func (c *Client) Frames(buffer int) (<-chan domain.Frame, func()) {
	return c.frames.Subscribe(buffer)
}

// Action sends a bare action frame
func (c *Client) Action(action string, cb Callback) error {
	return c.command(false, action, actionFrame{Action: action}, cb)
}

// RequestClocks asks for the full clock list
func (c *Client) RequestClocks(cb Callback) error {
	return c.Action(ActionClockRequest, cb)
}

// RequestLibrary asks for the presentation library
func (c *Client) RequestLibrary(cb Callback) error {
	return c.Action(ActionLibraryRequest, cb)
}

// RequestPlaylists asks for every playlist
func (c *Client) RequestPlaylists(cb Callback) error {
	return c.Action(ActionPlaylistRequestAll, cb)
}

// RequestPresentation asks for the presentation at path, or the current
// one when path is empty. A quality of zero means DefaultSlideQuality.
func (c *Client) RequestPresentation(path string, quality int, cb Callback) error {
	if quality <= 0 {
		quality = DefaultSlideQuality
	}
	frame := presentationFrame{Action: ActionPresentationCurrent, Quality: quality}
	if path != "" {
		frame.Action = ActionPresentationRequest
		frame.Path = path
	}
	return c.command(false, frame.Action, frame, cb)
}

// RequestSlideIndex asks for the current slide index
func (c *Client) RequestSlideIndex(cb Callback) error {
	return c.Action(ActionPresentationSlideIndex, cb)
}

// SubscribeClocks asks the engine to send clock ticks
func (c *Client) SubscribeClocks(cb Callback) error {
	return c.Action(ActionClockSubscribe, cb)
}

// UnsubscribeClocks stops clock ticks
func (c *Client) UnsubscribeClocks(cb Callback) error {
	return c.Action(ActionClockUnsubscribe, cb)
}

// TriggerSlide shows slide index of the presentation at path, or of the
// current presentation when path is empty
func (c *Client) TriggerSlide(index int, path string, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.correlator.Authenticated() {
		return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrNotAuthenticated)
	}
	if !c.correlator.Controlling() {
		return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrPrivilegeDenied)
	}
	return c.triggerLocked(index, path, cb)
}

// Next shows the slide after the current one
func (c *Client) Next(cb Callback) error {
	return c.step(1, cb)
}

// Previous shows the slide before the current one, stopping at the first
func (c *Client) Previous(cb Callback) error {
	return c.step(-1, cb)
}

// StartClock starts the clock at index
func (c *Client) StartClock(index int, cb Callback) error {
	return c.command(true, ActionClockStart, clockFrame{Action: ActionClockStart, ClockIndex: index}, cb)
}

// StopClock stops the clock at index
func (c *Client) StopClock(index int, cb Callback) error {
	return c.command(true, ActionClockStop, clockFrame{Action: ActionClockStop, ClockIndex: index}, cb)
}

// ResetClock resets the clock at index
func (c *Client) ResetClock(index int, cb Callback) error {
	return c.command(true, ActionClockReset, clockFrame{Action: ActionClockReset, ClockIndex: index}, cb)
}

// AuthFrame implements transport.Role
func (c *Client) AuthFrame() any {
	return authFrame{
		Action:   ActionAuthenticate,
		Password: c.password,
		Protocol: c.version * 100,
	}
}

// HandleFrame implements transport.Role
func (c *Client) HandleFrame(frame domain.Frame) {
	c.mu.Lock()
	result := c.correlator.Apply(frame)
	if result.Authentication {
		c.manager.MarkAuthenticated(result.Authenticated)
		if result.Authenticated {
			c.loadLocked()
		} else {
			c.logger.Warn("Remote password rejected", zap.String("error", frame.Text("error")))
		}
	}
	if result.Resync != "" {
		c.sendLocked(presentationFrame{
			Action:  ActionPresentationRequest,
			Path:    result.Resync,
			Quality: DefaultSlideQuality,
		})
	}
	if result.NeedClocks {
		c.sendLocked(actionFrame{Action: ActionClockRequest})
	}
	var clocks []domain.CatalogClock
	if result.ClocksChanged {
		clocks = c.correlator.Clocks()
	}
	status := c.statusLocked()
	c.mu.Unlock()

	if result.ClocksChanged {
		c.clockState.Publish(clocks)
	}
	c.frames.Publish(frame)
	if result.Callback != nil {
		result.Callback(frame)
	}
	c.updates.Publish(status)
}

// ConnectionChanged implements transport.Role. Every transition reported
// here leaves the client unauthenticated, so pending commands are dropped.
func (c *Client) ConnectionChanged(state domain.ConnectionState) {
	c.mu.Lock()
	dropped := c.correlator.Pending()
	c.correlator.Disconnect()
	status := c.statusLocked()
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Debug("Dropped pending commands", zap.Int("count", dropped), zap.Stringer("state", state))
	}
	c.updates.Publish(status)
}

// loadLocked seeds the held status after authentication. The requests go
// out before the lock is released so no caller command can interleave.
func (c *Client) loadLocked() {
	frames := []any{
		actionFrame{Action: ActionLibraryRequest},
		actionFrame{Action: ActionPlaylistRequestAll},
		presentationFrame{Action: ActionPresentationCurrent, Quality: DefaultSlideQuality},
		actionFrame{Action: ActionPresentationSlideIndex},
		actionFrame{Action: ActionClockSubscribe},
	}
	for _, frame := range frames {
		if !c.sendLocked(frame) {
			return
		}
	}
}

func (c *Client) command(mutating bool, action string, frame any, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.correlator.Authenticated() {
		return fmt.Errorf("%s: %w", action, ErrNotAuthenticated)
	}
	if mutating && !c.correlator.Controlling() {
		return fmt.Errorf("%s: %w", action, ErrPrivilegeDenied)
	}
	return c.issueLocked(action, frame, cb)
}

func (c *Client) step(delta int, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.correlator.Authenticated() {
		return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrNotAuthenticated)
	}
	index, ok := c.correlator.SlideIndex()
	if c.correlator.Presentation() == nil || !ok {
		return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrNoPresentation)
	}
	if !c.correlator.Controlling() {
		return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrPrivilegeDenied)
	}
	return c.triggerLocked(max(index+delta, 0), "", cb)
}

func (c *Client) triggerLocked(index int, path string, cb Callback) error {
	if path == "" {
		current := c.correlator.Presentation()
		if current == nil {
			return fmt.Errorf("%s: %w", ActionPresentationTrigger, ErrNoPresentation)
		}
		path = current.Location
	}
	return c.issueLocked(ActionPresentationTrigger, triggerFrame{
		Action:     ActionPresentationTrigger,
		SlideIndex: index,
		Path:       path,
	}, cb)
}

// issueLocked sends frame and registers cb for its reply
func (c *Client) issueLocked(action string, frame any, cb Callback) error {
	if err := c.manager.Send(frame); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	c.correlator.Expect(action, cb)
	return nil
}

// sendLocked sends a frame nobody waits on, logging failures
func (c *Client) sendLocked(frame any) bool {
	if err := c.manager.Send(frame); err != nil {
		c.logger.Warn("Failed to send request", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) statusLocked() Status {
	return Status{
		Connection: c.manager.State(),
		State:      c.correlator.State(),
	}
}
