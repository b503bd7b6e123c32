package stage

import (
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/timefmt"
)

// UpdateKind names the category of a stage display update
type UpdateKind string

const (
	KindAuthentication UpdateKind = "authentication"
	KindTimer          UpdateKind = "timer"
	KindSystemClock    UpdateKind = "systime"
	KindMessage        UpdateKind = "message"
	KindSlides         UpdateKind = "slides"
)

// Update is the typed result of merging one frame. Payload is a bool,
// domain.Timer, domain.SystemClock, string or domain.Slides depending on
// Kind.
type Update struct {
	Kind    UpdateKind `json:"type"`
	Payload any        `json:"data"`
}

// State is a copy of everything the merger holds
type State struct {
	Authenticated bool               `json:"authenticated"`
	StageMessage  string             `json:"stageMessage"`
	SystemClock   domain.SystemClock `json:"systemTime"`
	Timers        []domain.Timer     `json:"timers"`
	Slides        domain.Slides      `json:"slides"`
}

// Wire discriminators, carried in the "acn" field
const (
	acnAuth     = "ath"
	acnTimer    = "tmr"
	acnSystem   = "sys"
	acnMessage  = "msg"
	acnSlides   = "fv"
	acnCurrent  = "cs"
	acnCurNotes = "csn"
	acnNext     = "ns"
	acnNxtNotes = "nsn"
)

type slidePart struct {
	Acn string `json:"acn"`
	UID string `json:"uid"`
	Txt string `json:"txt"`
}

// Merger folds stage display frames into held state. It does no locking;
// the owning Client serializes access.
type Merger struct {
	authenticated bool
	message       string
	system        domain.SystemClock
	timers        []domain.Timer
	timerIndex    map[string]int
	slides        domain.Slides
}

// NewMerger returns an empty merger
func NewMerger() *Merger {
	return &Merger{timerIndex: make(map[string]int)}
}

// Apply merges frame and reports what changed. Frames with an unknown
// discriminator report false and leave the state untouched.
func (m *Merger) Apply(frame domain.Frame) (Update, bool) {
	switch frame.Text("acn") {
	case acnAuth:
		m.authenticated = frame.Bool("ath")
		return Update{Kind: KindAuthentication, Payload: m.authenticated}, true

	case acnTimer:
		timer := domain.Timer{
			ID:      frame.Text("uid"),
			RawTime: frame.Text("txt"),
		}
		timer.Seconds = timefmt.HMS(timer.RawTime)
		if i, ok := m.timerIndex[timer.ID]; ok {
			m.timers[i] = timer
		} else {
			m.timerIndex[timer.ID] = len(m.timers)
			m.timers = append(m.timers, timer)
		}
		return Update{Kind: KindTimer, Payload: timer}, true

	case acnSystem:
		text := frame.Text("txt")
		m.system = domain.SystemClock{RawText: text, Seconds: timefmt.ClockTime(text)}
		return Update{Kind: KindSystemClock, Payload: m.system}, true

	case acnMessage:
		m.message = frame.Text("txt")
		return Update{Kind: KindMessage, Payload: m.message}, true

	case acnSlides:
		m.applySlides(frame)
		return Update{Kind: KindSlides, Payload: m.slides}, true
	}
	return Update{}, false
}

// applySlides resets both slides and then fills in whichever of the four
// parts the snapshot carries. A missing part stays empty.
func (m *Merger) applySlides(frame domain.Frame) {
	m.slides = domain.Slides{}

	var parts []slidePart
	if err := frame.Decode("ary", &parts); err != nil {
		return
	}
	for _, part := range parts {
		switch part.Acn {
		case acnCurrent:
			m.slides.Current.ID = part.UID
			m.slides.Current.Text = part.Txt
		case acnCurNotes:
			m.slides.Current.Notes = part.Txt
		case acnNext:
			m.slides.Next.ID = part.UID
			m.slides.Next.Text = part.Txt
		case acnNxtNotes:
			m.slides.Next.Notes = part.Txt
		}
	}
}

// SetAuthenticated overrides the authentication flag, used when the
// connection drops
func (m *Merger) SetAuthenticated(ok bool) {
	m.authenticated = ok
}

// State returns a copy of the held state
func (m *Merger) State() State {
	timers := make([]domain.Timer, len(m.timers))
	copy(timers, m.timers)
	return State{
		Authenticated: m.authenticated,
		StageMessage:  m.message,
		SystemClock:   m.system,
		Timers:        timers,
		Slides:        m.slides,
	}
}

// Timer returns the held timer with the given id
func (m *Merger) Timer(id string) (domain.Timer, bool) {
	i, ok := m.timerIndex[id]
	if !ok {
		return domain.Timer{}, false
	}
	return m.timers[i], true
}
