package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"eventhub/pulse/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Upper bound on an on-demand snapshot build
	snapshotTimeout = 10 * time.Second
)

// Client is one subscriber connection. Identity fields are copied from the
// validated session token at upgrade time.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	email    string
	role     string
	joinedAt time.Time
	logger   logging.Logger
}

// readPump pumps control frames from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		var ctrl ControlFrame
		if err := json.Unmarshal(message, &ctrl); err != nil {
			c.logger.WithError(err).Warn("Invalid control frame")
			continue
		}

		c.handleControl(&ctrl)
	}
}

// writePump pumps frames from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleControl dispatches one client request.
func (c *Client) handleControl(ctrl *ControlFrame) {
	switch ctrl.Action {
	case ActionJoinAdmin:
		if err := c.hub.JoinGroup(c, GroupAdmin); err != nil {
			c.sendFrame(TypeJoinDenied, map[string]interface{}{
				"group":  GroupAdmin,
				"reason": "admin role required",
			})
			return
		}
		c.sendFrame(TypeJoinConfirmed, map[string]interface{}{
			"group": GroupAdmin,
		})
		// New admins get the current snapshot without waiting for a tick.
		go c.pushSnapshot()

	case ActionRequestAnalytics:
		go c.pushSnapshot()

	default:
		c.logger.WithField("action", ctrl.Action).Warn("Unknown control action")
	}
}

// pushSnapshot builds the current snapshot and delivers it to this client
// only. Build failure is recoverable; the connection stays open.
func (c *Client) pushSnapshot() {
	if c.hub.snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snap, err := c.hub.snapshot(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("client_id", c.id).Error("On-demand snapshot failed")
		c.sendFrame(TypeAnalyticsError, map[string]interface{}{
			"error": "analytics temporarily unavailable",
		})
		return
	}

	c.sendFrame(TypeAnalyticsUpdate, snap)
}

// sendFrame marshals and queues one frame for this client. A full send
// buffer drops the frame rather than blocking the caller.
func (c *Client) sendFrame(msgType string, data interface{}) {
	payload, err := json.Marshal(Frame{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal client frame")
		return
	}

	select {
	case c.send <- payload:
		if c.hub.metrics != nil {
			c.hub.metrics.MessagesSent.WithLabelValues(msgType).Inc()
		}
	default:
		if c.hub.metrics != nil {
			c.hub.metrics.MessagesDropped.WithLabelValues(msgType).Inc()
		}
		c.logger.WithField("client_id", c.id).Warn("Send buffer full, dropping frame")
	}
}
