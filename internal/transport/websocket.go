package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cryguy/swkit/internal/core"
)

// maxWSMessageBytes bounds a single control message (1 MB).
const maxWSMessageBytes = 1 << 20

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// WSPort carries messages over a WebSocket connection, used when the host
// and the worker run in different processes.
type WSPort struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial connects to a worker control endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*WSPort, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	conn.SetReadLimit(maxWSMessageBytes)
	return &WSPort{conn: conn}, nil
}

// Accept upgrades an inbound HTTP request into a port.
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string) (*WSPort, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return nil, fmt.Errorf("accepting websocket: %w", err)
	}
	conn.SetReadLimit(maxWSMessageBytes)
	return &WSPort{conn: conn}, nil
}

// PostMessage writes msg as a JSON text frame.
func (p *WSPort) PostMessage(ctx context.Context, msg core.Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, p.conn, msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Listen reads messages and hands them to h until the connection closes or
// ctx is done. A normal closure returns nil.
func (p *WSPort) Listen(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.keepAlive(ctx)

	for {
		var msg core.Message
		if err := wsjson.Read(ctx, p.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading message: %w", err)
		}
		h(msg)
	}
}

func (p *WSPort) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := p.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close performs a normal closure handshake.
func (p *WSPort) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "")
}
