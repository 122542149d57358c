package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("bridge not connected")

const wsWriteTimeout = 2 * time.Second

// WebSocketBridge pushes message calls to an engine that listens on a
// WebSocket. JSON envelopes go out as text frames, msgpack as binary.
// A dropped connection is redialled by Run.
type WebSocketBridge struct {
	url       string
	encoding  string
	reconnect time.Duration
	dialer    *websocket.Dialer
	log       *logrus.Entry

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketBridge(url, encoding string, reconnect time.Duration, log *logrus.Entry) *WebSocketBridge {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &WebSocketBridge{
		url:       url,
		encoding:  encoding,
		reconnect: reconnect,
		dialer:    websocket.DefaultDialer,
		log:       log.WithField("component", "bridge"),
	}
}

// Connect dials the engine once.
func (b *WebSocketBridge) Connect(ctx context.Context) error {
	conn, resp, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial %s: %w", b.url, err)
	}
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()
	b.log.WithField("url", b.url).Info("engine bridge connected")
	return nil
}

// Run keeps the bridge connected until ctx is done, redialling at the
// reconnect interval while disconnected.
func (b *WebSocketBridge) Run(ctx context.Context) {
	t := time.NewTicker(b.reconnect)
	defer t.Stop()
	for {
		if !b.Connected() {
			if err := b.Connect(ctx); err != nil {
				b.log.WithError(err).Debug("engine bridge unavailable")
			}
		}
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-t.C:
		}
	}
}

func (b *WebSocketBridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *WebSocketBridge) Send(target, method, payload string) error {
	data, err := encodeEnvelope(Envelope{Target: target, Method: method, Payload: payload}, b.encoding)
	if err != nil {
		return err
	}
	kind := websocket.TextMessage
	if b.encoding == "msgpack" {
		kind = websocket.BinaryMessage
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := b.conn.WriteMessage(kind, data); err != nil {
		b.conn.Close()
		b.conn = nil
		b.log.WithError(err).Warn("engine bridge connection lost")
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

func (b *WebSocketBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := b.conn.Close()
	b.conn = nil
	return err
}
