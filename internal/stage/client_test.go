package stage

import (
	"context"
	"testing"
	"time"

	"github.com/genricoloni/stagelink/internal/clock"
	"github.com/genricoloni/stagelink/internal/domain"
	"github.com/genricoloni/stagelink/internal/domain/mocks"
	"github.com/genricoloni/stagelink/internal/transport"
	"github.com/genricoloni/stagelink/internal/transport/transporttest"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(transporttest.DefaultWait):
		t.Fatal("timed out waiting for a notification")
		var zero T
		return zero
	}
}

func waitForStatus(t *testing.T, ch <-chan Status, match func(Status) bool) Status {
	t.Helper()
	deadline := time.After(transporttest.DefaultWait)
	for {
		select {
		case s := <-ch:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
			return Status{}
		}
	}
}

// startClient connects a client to sock and returns the auth frame it sent
func startClient(t *testing.T, sock *transporttest.Socket, opts Options) (*Client, *clock.FakeClock, map[string]any) {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any(), "ws://localhost:60157/stagedisplay").Return(sock, nil)

	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 60157
	}
	fake := clock.NewFake(epoch)
	c := NewClient(zap.NewNop(), opts, dialer, fake)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, fake, sock.NextSent(t)
}

func authenticate(t *testing.T, c *Client, sock *transporttest.Socket) {
	t.Helper()
	updates, cancel := c.Updates(16)
	defer cancel()
	sock.Deliver(t, map[string]any{"acn": "ath", "ath": true})
	waitForStatus(t, updates, Status.Active)
}

func TestClientAuthFrame(t *testing.T) {
	tests := []struct {
		name    string
		version int
		ptl     float64
	}{
		{"default version", 0, 610},
		{"version 7", 7, 710},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := transporttest.NewSocket()
			_, _, auth := startClient(t, sock, Options{Password: "stage", Version: tt.version})

			if auth["acn"] != "ath" || auth["pwd"] != "stage" || auth["ptl"] != tt.ptl {
				t.Errorf("auth frame = %v", auth)
			}
		})
	}
}

func TestClientAuthenticationResult(t *testing.T) {
	sock := transporttest.NewSocket()
	c, _, _ := startClient(t, sock, Options{Password: "wrong"})

	updates, cancel := c.Updates(16)
	defer cancel()

	sock.Deliver(t, map[string]any{"acn": "ath", "ath": false, "err": "Invalid Password"})
	status := waitForStatus(t, updates, func(s Status) bool { return s.Connection == domain.StateAwaitingAuth })
	if status.Authenticated {
		t.Error("Authenticated after rejection")
	}

	sock.Deliver(t, map[string]any{"acn": "ath", "ath": true})
	status = waitForStatus(t, updates, Status.Active)
	if !status.Authenticated {
		t.Error("Active but not Authenticated")
	}
	if c.State() != domain.StateActive {
		t.Errorf("State() = %s", c.State())
	}
}

func TestClientTypedStreams(t *testing.T) {
	sock := transporttest.NewSocket()
	c, _, _ := startClient(t, sock, Options{})
	authenticate(t, c, sock)

	timers, cancelTimers := c.Timers(4)
	defer cancelTimers()
	clocks, cancelClocks := c.SystemClocks(4)
	defer cancelClocks()
	messages, cancelMessages := c.Messages(4)
	defer cancelMessages()
	slides, cancelSlides := c.Slides(4)
	defer cancelSlides()
	data, cancelData := c.Data(8)
	defer cancelData()

	sock.Deliver(t, map[string]any{"acn": "tmr", "uid": "t1", "txt": "00:01:30"})
	if timer := receive(t, timers); timer.ID != "t1" || timer.Seconds != 90 {
		t.Errorf("timer = %+v", timer)
	}

	sock.Deliver(t, map[string]any{"acn": "sys", "txt": "12:05 PM"})
	if sys := receive(t, clocks); sys.Seconds != 43500 {
		t.Errorf("system clock = %+v", sys)
	}

	sock.Deliver(t, map[string]any{"acn": "msg", "txt": "Hello"})
	if msg := receive(t, messages); msg != "Hello" {
		t.Errorf("message = %q", msg)
	}

	sock.Deliver(t, map[string]any{"acn": "fv", "ary": []map[string]string{{"acn": "ns", "uid": "n", "txt": "Next up"}}})
	if s := receive(t, slides); s.Next.Text != "Next up" || s.Current != (domain.Slide{}) {
		t.Errorf("slides = %+v", s)
	}

	kinds := []UpdateKind{KindTimer, KindSystemClock, KindMessage, KindSlides}
	for _, want := range kinds {
		if got := receive(t, data); got.Kind != want {
			t.Errorf("data kind = %s, want %s", got.Kind, want)
		}
	}

	status := c.Status()
	if len(status.Timers) != 1 || status.StageMessage != "Hello" || status.SystemClock.RawText != "12:05 PM" {
		t.Errorf("Status() = %+v", status)
	}
}

func TestClientForwardsUnknownFrames(t *testing.T) {
	sock := transporttest.NewSocket()
	c, _, _ := startClient(t, sock, Options{})

	frames, cancel := c.Frames(4)
	defer cancel()
	data, cancelData := c.Data(4)
	defer cancelData()

	sock.Deliver(t, map[string]any{"acn": "vid", "txt": "playing"})
	if frame := receive(t, frames); frame.Text("acn") != "vid" {
		t.Errorf("frame = %v", frame)
	}
	select {
	case u := <-data:
		t.Errorf("unexpected typed update %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientDropResetsAuthentication(t *testing.T) {
	sock := transporttest.NewSocket()
	c, fake, _ := startClient(t, sock, Options{})
	authenticate(t, c, sock)

	updates, cancel := c.Updates(16)
	defer cancel()

	sock.CloseFromRemote()
	status := waitForStatus(t, updates, func(s Status) bool { return s.Connection == domain.StateClosed })
	if status.Authenticated {
		t.Error("still authenticated after the socket closed")
	}

	pending := fake.Pending()
	if len(pending) != 1 || pending[0] != transport.DefaultCloseBackoff {
		t.Errorf("pending reconnects = %v, want [%s]", pending, transport.DefaultCloseBackoff)
	}
}

func TestClientStopCancelsReconnect(t *testing.T) {
	sock := transporttest.NewSocket()
	c, fake, _ := startClient(t, sock, Options{ErrorBackoff: time.Minute})

	updates, cancel := c.Updates(16)
	defer cancel()
	sock.Fail(context.DeadlineExceeded)
	waitForStatus(t, updates, func(s Status) bool { return s.Connection == domain.StateClosed })

	if pending := fake.Pending(); len(pending) != 1 || pending[0] != time.Minute {
		t.Fatalf("pending reconnects = %v", pending)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if pending := fake.Pending(); len(pending) != 0 {
		t.Errorf("pending reconnects after Stop = %v", pending)
	}
}
