package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/coder/websocket"
	"github.com/genricoloni/stagelink/internal/domain"
	"go.uber.org/zap"
)

// DefaultReadLimit bounds a single inbound message. Library and
// presentation responses carry slide thumbnails and easily exceed the
// library's 32 KiB default.
const DefaultReadLimit = 16 << 20

// WebSocketDialer opens sockets with github.com/coder/websocket
type WebSocketDialer struct {
	logger    *zap.Logger
	readLimit int64
}

// NewWebSocketDialer creates a dialer; readLimit <= 0 uses DefaultReadLimit
func NewWebSocketDialer(logger *zap.Logger, readLimit int64) *WebSocketDialer {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return &WebSocketDialer{logger: logger, readLimit: readLimit}
}

// Dial performs the WebSocket handshake against url
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (domain.Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(d.readLimit)

	d.logger.Debug("WebSocket handshake complete", zap.String("url", url))
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return nil, fmt.Errorf("%w: status %d", domain.ErrRemoteClosed, status)
			}
			return nil, err
		}
		// The protocol is text only
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Terminate() error {
	err := s.conn.CloseNow()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
