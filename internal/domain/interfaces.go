package domain

import (
	"context"
	"errors"
)

// ErrRemoteClosed marks a Read that ended because the engine sent a close
// frame. It is the expected way for a connection to end (idle timeout,
// engine restart) and is retried sooner than any other failure.
var ErrRemoteClosed = errors.New("connection closed by remote")

// Socket is one open duplex connection carrying text frames
//
//go:generate mockgen -destination=mocks/transport_mock.go -package=mocks github.com/genricoloni/stagelink/internal/domain Dialer,Socket
type Socket interface {
	// Read blocks until the next text message arrives. A close frame from
	// the remote end is reported as an error wrapping ErrRemoteClosed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text message
	Write(ctx context.Context, data []byte) error

	// Terminate drops the connection without a closing handshake
	Terminate() error
}

// Dialer opens sockets
type Dialer interface {
	// Dial connects to url. ctx bounds the handshake only.
	Dial(ctx context.Context, url string) (Socket, error)
}

// Client is the lifecycle shared by the stage display and remote clients
type Client interface {
	// Start opens the connection. It returns once the first attempt has
	// been scheduled; connection progress is reported asynchronously.
	Start(ctx context.Context) error

	// Stop closes the connection and cancels any pending reconnect
	Stop(ctx context.Context) error

	// State returns the current connection state
	State() ConnectionState
}
