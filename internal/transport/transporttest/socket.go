// Package transporttest provides an in-memory socket for exercising
// protocol clients without a network.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/stagelink/internal/domain"
)

// DefaultWait is how long Expect helpers wait for asynchronous traffic
const DefaultWait = 2 * time.Second

// Socket is a channel backed domain.Socket. Frames pushed with Deliver
// are returned by Read; frames written by the client are collected and
// can be taken with NextSent.
type Socket struct {
	inbound  chan readResult
	outbound chan []byte

	mu         sync.Mutex
	terminated bool
	done       chan struct{}
}

type readResult struct {
	data []byte
	err  error
}

// NewSocket creates an open socket
func NewSocket() *Socket {
	return &Socket{
		inbound:  make(chan readResult, 64),
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Read returns the next delivered frame or error
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-s.inbound:
		return r.data, r.err
	case <-s.done:
		return nil, errors.New("socket terminated")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write records data as sent by the client
func (s *Socket) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return errors.New("socket terminated")
	}
	select {
	case s.outbound <- append([]byte(nil), data...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate closes the socket; pending and future Reads fail
func (s *Socket) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminated {
		s.terminated = true
		close(s.done)
	}
	return nil
}

// Terminated reports whether Terminate has been called
func (s *Socket) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Deliver queues frame, JSON encoded, for the client to read
func (s *Socket) Deliver(t testing.TB, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	s.DeliverRaw(data)
}

// DeliverRaw queues data for the client to read as is
func (s *Socket) DeliverRaw(data []byte) {
	s.inbound <- readResult{data: data}
}

// Fail makes the next Read return err
func (s *Socket) Fail(err error) {
	s.inbound <- readResult{err: err}
}

// CloseFromRemote makes the next Read report a close frame
func (s *Socket) CloseFromRemote() {
	s.Fail(fmt.Errorf("%w: status 1000", domain.ErrRemoteClosed))
}

// NextSent waits for the next frame written by the client and decodes it
func (s *Socket) NextSent(t testing.TB) map[string]any {
	t.Helper()
	select {
	case data := <-s.outbound:
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("client sent invalid JSON %q: %v", data, err)
		}
		return frame
	case <-time.After(DefaultWait):
		t.Fatal("timed out waiting for an outbound frame")
		return nil
	}
}

// ExpectNoneSent fails if the client writes anything within wait
func (s *Socket) ExpectNoneSent(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case data := <-s.outbound:
		t.Fatalf("unexpected outbound frame %s", data)
	case <-time.After(wait):
	}
}
