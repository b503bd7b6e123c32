package domain

import "encoding/json"

// ConnectionState is the lifecycle position of a protocol client
type ConnectionState int

const (
	// StateDisconnected means no connection has been attempted yet
	StateDisconnected ConnectionState = iota
	// StateConnecting means a socket is being opened
	StateConnecting
	// StateAwaitingAuth means the socket is open but the engine has not
	// accepted the credentials (either no reply yet, or a rejection)
	StateAwaitingAuth
	// StateActive means the engine accepted the credentials
	StateActive
	// StateClosed means the socket is gone; a reconnect may be pending
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connected reports whether a socket is currently open
func (s ConnectionState) Connected() bool {
	return s == StateAwaitingAuth || s == StateActive
}

// Slide is one slide as shown on the stage display
type Slide struct {
	ID    string `json:"uid"`
	Text  string `json:"text"`
	Notes string `json:"notes"`
}

// Slides holds the current and upcoming slide
type Slides struct {
	Current Slide `json:"current"`
	Next    Slide `json:"next"`
}

// Timer is a stage display countdown or elapsed timer
type Timer struct {
	ID      string `json:"uid"`
	RawTime string `json:"text"`
	Seconds int    `json:"seconds"`
}

// SystemClock is the engine host's wall clock
type SystemClock struct {
	RawText string `json:"text"`
	Seconds int    `json:"seconds"`
}

// ClockKind is the type of a remote clock
type ClockKind int

const (
	// ClockCountdown counts down a fixed duration
	ClockCountdown ClockKind = iota
	// ClockCountdownToTime counts down to a wall clock time
	ClockCountdownToTime
	// ClockElapsed counts up from a start time
	ClockElapsed
)

// Label is the human readable name the engine's own UI uses
func (k ClockKind) Label() string {
	switch k {
	case ClockCountdown:
		return "Countdown"
	case ClockCountdownToTime:
		return "Countdown To Time"
	case ClockElapsed:
		return "Elapsed Time"
	default:
		return ""
	}
}

// CatalogClock is one entry of the remote clock list. Index is the
// engine's clock index and the position in the held list.
type CatalogClock struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Kind      ClockKind `json:"kind"`
	KindLabel string    `json:"kindLabel"`
	RawTime   string    `json:"text"`
	Duration  string    `json:"duration,omitempty"`
	Seconds   int       `json:"seconds"`
	IsOver    bool      `json:"over"`
	IsRunning bool      `json:"running"`
	Updated   bool      `json:"updated"`
}

// Presentation is a presentation record as sent by the engine. Raw is
// forwarded untouched; Location is extracted because commands address
// presentations by it.
type Presentation struct {
	Location string          `json:"location"`
	Name     string          `json:"name"`
	Raw      json.RawMessage `json:"raw"`
}
