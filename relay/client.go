package relay

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veilcall/veilcall/shared"
	"github.com/veilcall/veilcall/signal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// client is one websocket connection to the relay. Identity fields are
// written only by the hub loop after a join.
type client struct {
	hub      *Hub
	logger   shared.LoggerAdapter
	conn     *websocket.Conn
	socketID string
	send     chan *signal.Envelope

	userID    string
	username  string
	publicKey string
	roomID    string
}

func (c *client) participant() *signal.Participant {
	return &signal.Participant{
		ID:        c.userID,
		Username:  c.username,
		SocketID:  c.socketID,
		PublicKey: c.publicKey,
	}
}

// readPump decodes inbound envelopes and hands them to the hub. It owns
// all reads on the connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read ended", zap.String("socket", c.socketID), zap.Error(err))
			}
			return
		}
		env := new(signal.Envelope)
		if err := sonic.Unmarshal(raw, env); err != nil {
			c.logger.Warn("dropping malformed message", zap.String("socket", c.socketID), zap.Error(err))
			continue
		}
		select {
		case c.hub.inbound <- inbound{from: c, env: env}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump owns all writes on the connection, including keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			raw, err := sonic.Marshal(env)
			if err != nil {
				c.logger.Error("marshaling outbound message", err, zap.String("type", string(env.Type)))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
