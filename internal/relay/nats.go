package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var errLinkClosed = errors.New("relay link closed")

// NATSDialer connects to the relay through a NATS server. The terminal
// listens on <subject>.<terminal>.in and publishes on <subject>.<terminal>.out.
type NATSDialer struct {
	URL        string
	Subject    string
	TerminalID string
	Token      string
	Timeout    time.Duration
}

func (d *NATSDialer) subjects() (in, out string) {
	base := d.Subject + "." + d.TerminalID
	return base + ".in", base + ".out"
}

func (d *NATSDialer) Dial(ctx context.Context) (Link, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	link := &natsLink{
		inbox: make(chan *nats.Msg, outboxSize),
		done:  make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name("cafeprint-" + d.TerminalID),
		nats.Timeout(timeout),
		// The relay client owns reconnects and re-announces presence
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			link.fail(err)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			link.fail(nil)
		}),
	}
	if d.Token != "" {
		opts = append(opts, nats.Token(d.Token))
	}

	conn, err := nats.Connect(d.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}

	in, out := d.subjects()
	sub, err := conn.ChanSubscribe(in, link.inbox)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", in, err)
	}

	link.conn = conn
	link.sub = sub
	link.subject = out
	return link, nil
}

type natsLink struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	inbox   chan *nats.Msg

	mu       sync.Mutex
	err      error
	done     chan struct{}
	doneOnce sync.Once
}

func (l *natsLink) fail(err error) {
	l.doneOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *natsLink) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-l.inbox:
		return msg.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.err != nil {
			return nil, l.err
		}
		return nil, errLinkClosed
	}
}

func (l *natsLink) Send(_ context.Context, msg []byte) error {
	return l.conn.Publish(l.subject, msg)
}

func (l *natsLink) Close() error {
	if l.sub != nil {
		l.sub.Unsubscribe()
	}
	l.conn.Close()
	l.fail(nil)
	return nil
}
