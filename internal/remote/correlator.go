package remote

import (
	"encoding/json"

	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/timefmt"
)

// Action names used on the control protocol
const (
	ActionAuthenticate           = "authenticate"
	ActionLibraryRequest         = "libraryRequest"
	ActionPlaylistRequestAll     = "playlistRequestAll"
	ActionPresentationCurrent    = "presentationCurrent"
	ActionPresentationRequest    = "presentationRequest"
	ActionPresentationSlideIndex = "presentationSlideIndex"
	ActionPresentationTrigger    = "presentationTriggerIndex"
	ActionClockRequest           = "clockRequest"
	ActionClockDeleteAdd         = "clockDeleteAdd"
	ActionClockNameChanged       = "clockNameChanged"
	ActionClockCurrentTimes      = "clockCurrentTimes"
	ActionClockStartStop         = "clockStartStop"
	ActionClockStart             = "clockStart"
	ActionClockStop              = "clockStop"
	ActionClockReset             = "clockReset"
	ActionClockSubscribe         = "clockStartSendingCurrentTime"
	ActionClockUnsubscribe       = "clockStopSendingCurrentTime"
)

// Callback receives the reply frame of a command. It runs on the
// connection's reader goroutine and may never be called at all.
type Callback func(frame domain.Frame)

// State is a copy of everything the correlator holds
type State struct {
	Authenticated       bool                  `json:"authenticated"`
	Controlling         bool                  `json:"controlling"`
	Clocks              []domain.CatalogClock `json:"clocks"`
	CurrentPresentation *domain.Presentation  `json:"currentPresentation"`
	SlideIndex          int                   `json:"currentSlideIndex"`
	HasSlideIndex       bool                  `json:"hasSlideIndex"`
	Library             json.RawMessage       `json:"library"`
	Playlists           []json.RawMessage     `json:"playlists"`
}

// Result tells the client what follow-up a merged frame needs
type Result struct {
	// Authentication is set when the frame was an authenticate reply;
	// Authenticated carries its verdict
	Authentication bool
	Authenticated  bool

	// Resync names a presentation that should be requested again
	Resync string

	// ClocksChanged means the clock list should be republished
	ClocksChanged bool

	// NeedClocks means a clock tick arrived with no clock list to apply
	// it to
	NeedClocks bool

	// Callback is the pending command resolved by this frame
	Callback Callback
}

// Correlator folds control frames into held status and matches replies
// with pending commands. It does no locking; the owning Client serializes
// access.
type Correlator struct {
	authenticated   bool
	controlling     bool
	clocks          []domain.CatalogClock
	presentation    *domain.Presentation
	slideIndex      int
	hasSlideIndex   bool
	library         json.RawMessage
	playlists       []json.RawMessage
	clocksRequested bool

	pending map[string]Callback
}

// NewCorrelator returns an empty correlator
func NewCorrelator() *Correlator {
	return &Correlator{
		playlists: []json.RawMessage{},
		pending:   make(map[string]Callback),
	}
}

// replyAction is the action the engine answers action with. A request
// for a named presentation comes back as presentationCurrent.
func replyAction(action string) string {
	if action == ActionPresentationRequest {
		return ActionPresentationCurrent
	}
	return action
}

// Expect registers cb for the reply to action. An earlier callback for
// the same reply is dropped.
func (c *Correlator) Expect(action string, cb Callback) {
	if cb == nil {
		return
	}
	c.pending[replyAction(action)] = cb
}

// Pending returns how many commands await a reply
func (c *Correlator) Pending() int {
	return len(c.pending)
}

// Disconnect clears the authentication flags and drops every pending
// command without calling it
func (c *Correlator) Disconnect() {
	c.authenticated = false
	c.controlling = false
	c.clocksRequested = false
	clear(c.pending)
}

// Authenticated reports whether the engine accepted the password
func (c *Correlator) Authenticated() bool { return c.authenticated }

// Controlling reports whether mutating commands are allowed
func (c *Correlator) Controlling() bool { return c.controlling }

// Presentation returns the held presentation, or nil
func (c *Correlator) Presentation() *domain.Presentation { return c.presentation }

// SlideIndex returns the held slide index and whether one is known
func (c *Correlator) SlideIndex() (int, bool) { return c.slideIndex, c.hasSlideIndex }

// Apply merges frame into the held state
func (c *Correlator) Apply(frame domain.Frame) Result {
	var result Result
	action := frame.Text("action")

	switch action {
	case ActionAuthenticate:
		c.authenticated = frame.Bool("authenticated")
		c.controlling = frame.Bool("controller")
		result.Authentication = true
		result.Authenticated = c.authenticated

	case ActionLibraryRequest:
		c.library = cloneRaw(frame["library"])

	case ActionPlaylistRequestAll:
		c.playlists = Flatten(frame["playlistAll"])

	case ActionPresentationCurrent:
		c.presentation = decodePresentation(frame["presentation"])

	case ActionPresentationSlideIndex:
		c.setSlideIndex(frame)

	case ActionPresentationTrigger:
		c.setSlideIndex(frame)
		path := frame.Text("presentationPath")
		if path != "" && (c.presentation == nil || c.presentation.Location != path) {
			result.Resync = path
		}

	case ActionClockRequest, ActionClockDeleteAdd:
		c.clocks = decodeClocks(frame)
		c.clocksRequested = false
		result.ClocksChanged = true

	case ActionClockNameChanged:
		if i, ok := c.clockAt(frame); ok {
			c.clocks[i].Name = frame.Text("clockName")
		}
		result.ClocksChanged = true

	case ActionClockCurrentTimes:
		var ticked int
		result.ClocksChanged, ticked = c.applyTimes(frame)
		if ticked > 0 && len(c.clocks) == 0 && !c.clocksRequested {
			c.clocksRequested = true
			result.NeedClocks = true
		}

	case ActionClockStartStop:
		if i, ok := c.clockAt(frame); ok {
			c.clocks[i].IsRunning = frame.Bool("clockState")
			c.clocks[i].RawTime = frame.Text("clockTime")
			derive(&c.clocks[i])
		}
		result.ClocksChanged = true
	}

	if cb, ok := c.pending[action]; ok && action != "" {
		delete(c.pending, action)
		result.Callback = cb
	}
	return result
}

// State returns a copy of the held state
func (c *Correlator) State() State {
	var presentation *domain.Presentation
	if c.presentation != nil {
		p := *c.presentation
		presentation = &p
	}
	playlists := make([]json.RawMessage, len(c.playlists))
	copy(playlists, c.playlists)

	return State{
		Authenticated:       c.authenticated,
		Controlling:         c.controlling,
		Clocks:              c.Clocks(),
		CurrentPresentation: presentation,
		SlideIndex:          c.slideIndex,
		HasSlideIndex:       c.hasSlideIndex,
		Library:             c.library,
		Playlists:           playlists,
	}
}

// Clocks returns a copy of the held clock list
func (c *Correlator) Clocks() []domain.CatalogClock {
	clocks := make([]domain.CatalogClock, len(c.clocks))
	copy(clocks, c.clocks)
	return clocks
}

func (c *Correlator) setSlideIndex(frame domain.Frame) {
	if n, ok := frame.Int("slideIndex"); ok {
		c.slideIndex = n
		c.hasSlideIndex = true
	}
}

func (c *Correlator) clockAt(frame domain.Frame) (int, bool) {
	i, ok := frame.Int("clockIndex")
	if !ok || i < 0 || i >= len(c.clocks) {
		return 0, false
	}
	return i, true
}

// applyTimes compares a clock tick with the held times. It reports
// whether any clock changed and how many times the tick carried.
func (c *Correlator) applyTimes(frame domain.Frame) (bool, int) {
	var times []string
	if err := frame.Decode("clockTimes", &times); err != nil {
		return false, 0
	}

	changed := false
	for i, t := range times {
		if i >= len(c.clocks) {
			break
		}
		if c.clocks[i].RawTime != t {
			c.clocks[i].RawTime = t
			c.clocks[i].Updated = true
			changed = true
		} else {
			c.clocks[i].Updated = false
		}
	}
	if changed {
		for i := range c.clocks {
			derive(&c.clocks[i])
		}
	}
	return changed, len(times)
}

func decodeClocks(frame domain.Frame) []domain.CatalogClock {
	var infos []domain.Frame
	if err := frame.Decode("clockInfo", &infos); err != nil {
		return []domain.CatalogClock{}
	}

	clocks := make([]domain.CatalogClock, 0, len(infos))
	for i, info := range infos {
		kind, _ := info.Int("clockType")
		clock := domain.CatalogClock{
			Index:     i,
			Name:      info.Text("clockName"),
			Kind:      domain.ClockKind(kind),
			RawTime:   info.Text("clockTime"),
			Duration:  info.Text("clockDuration"),
			IsRunning: info.Bool("clockState"),
		}
		derive(&clock)
		clocks = append(clocks, clock)
	}
	return clocks
}

// derive fills the fields computed from the raw clock data
func derive(clock *domain.CatalogClock) {
	clock.KindLabel = clock.Kind.Label()
	clock.Seconds = timefmt.HMS(clock.RawTime)
	clock.IsOver = clock.Seconds < 0
}

func decodePresentation(raw json.RawMessage) *domain.Presentation {
	var fields domain.Frame
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}
	return &domain.Presentation{
		Location: fields.Text("presentationCurrentLocation"),
		Name:     fields.Text("presentationName"),
		Raw:      cloneRaw(raw),
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
