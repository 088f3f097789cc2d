package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WebsocketDialer connects to the relay over a websocket
type WebsocketDialer struct {
	URL        string
	APIKey     string
	TerminalID string
	Dialer     *websocket.Dialer // defaults to websocket.DefaultDialer
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Link, error) {
	target, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	if d.TerminalID != "" {
		q := target.Query()
		q.Set("terminal", d.TerminalID)
		target.RawQuery = q.Encode()
	}

	header := http.Header{}
	if d.APIKey != "" {
		header.Add("X-Api-Key", d.APIKey)
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay handshake failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	link := &wsLink{conn: conn, done: make(chan struct{})}
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go link.keepalive()
	return link, nil
}

type wsLink struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (l *wsLink) Receive(context.Context) ([]byte, error) {
	for {
		kind, msg, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// A message extends the deadline just like a pong does
		l.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (l *wsLink) Send(_ context.Context, msg []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return l.conn.WriteMessage(websocket.TextMessage, msg)
}

// keepalive pings the relay so dead connections are noticed
func (l *wsLink) keepalive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			l.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (l *wsLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}
