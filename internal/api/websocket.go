package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/cafeprint/internal/dispatch"
)

// EventPrinterStatus is the only message the status stream carries
const EventPrinterStatus = "printer:status"

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Event string          `json:"event"`
	Data  dispatch.Status `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

// handleWebSocket streams the combined printer status: the current value
// on connect, then one message per change
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan WSMessage, 16),
	}
	client.send <- WSMessage{Event: EventPrinterStatus, Data: s.router.Status()}
	s.addClient(client)
	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("status client connected")

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

// removeClient closes the send channel exactly once
func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// readPump discards inbound messages; it exists to notice closes and pongs
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.removeClient(c)
		c.conn.Close()
		s.logger.Debug().Msg("status client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("status client read failed")
			}
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcastStatus runs on the session goroutine; slow clients miss updates
func (s *Server) broadcastStatus(status dispatch.Status) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	msg := WSMessage{Event: EventPrinterStatus, Data: status}
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
