package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketDialer_HandshakeAndEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	seen := make(chan *http.Request, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := &WebsocketDialer{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay",
		APIKey:     "secret",
		TerminalID: "front-1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	link, err := d.Dial(ctx)
	require.NoError(t, err)
	defer link.Close()

	r := <-seen
	assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
	assert.Equal(t, "front-1", r.URL.Query().Get("terminal"))
	assert.Equal(t, "/relay", r.URL.Path)

	require.NoError(t, link.Send(ctx, []byte(`{"event":"ping"}`)))
	msg, err := link.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"ping"}`, string(msg))

	require.NoError(t, link.Close())
	assert.NoError(t, link.Close())

	_, err = link.Receive(ctx)
	assert.Error(t, err)
}

func TestWebsocketDialer_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWebsocketDialer_InvalidURL(t *testing.T) {
	d := &WebsocketDialer{URL: "://nope"}
	_, err := d.Dial(context.Background())
	assert.ErrorContains(t, err, "invalid relay url")
}
