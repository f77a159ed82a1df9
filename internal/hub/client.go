package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// client is one partner socket. Only writePump writes to conn.
type client struct {
	id        string
	partnerID primitive.ObjectID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue queues payload without blocking. It reports false when the
// buffer is full or the client has gone.
func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) writePump(timeout time.Duration, log logrus.FieldLogger) {
	defer c.conn.Close()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.WithError(err).WithField("conn_id", c.id).Debug("Socket write failed")
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump handles client frames until the connection fails.
func (c *client) readPump(h *Hub) {
	c.conn.SetReadLimit(maxInboundMessage)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).WithField("conn_id", c.id).Debug("Socket closed unexpectedly")
			}
			return
		}

		var in struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Type == TypePing {
			h.deliver(c, Message{Type: TypePong, Timestamp: time.Now()})
		}
	}
}
