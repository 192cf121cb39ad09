package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"eventhub/pulse/internal/analytics"
	"eventhub/pulse/internal/metrics"
	"eventhub/pulse/pkg/auth"
	"eventhub/pulse/pkg/logging"
)

// Broadcast groups.
const (
	GroupAdmin = "admin"
)

// Outbound frame types.
const (
	TypeAnalyticsUpdate = "analytics-update"
	TypeNewRegistration = "new-registration"
	TypeNewEvent        = "new-event"
	TypeEventUpdated    = "event-updated"
	TypeJoinConfirmed   = "join-confirmed"
	TypeJoinDenied      = "join-denied"
	TypeAnalyticsError  = "analytics-error"
)

// Inbound control actions.
const (
	ActionJoinAdmin        = "join-admin"
	ActionRequestAnalytics = "request-analytics"
)

// ErrUnauthorizedGroupJoin is returned when a client's verified role does not
// admit it to the requested group. The client stays connected.
var ErrUnauthorizedGroupJoin = errors.New("unauthorized group join")

// Frame is the envelope for every outbound message.
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ControlFrame is a client request. Group membership is decided by the
// verified role carried on the connection, never by frame contents.
type ControlFrame struct {
	Action string `json:"action"`
}

// SnapshotFunc supplies the current analytics snapshot for initial and
// on-demand pushes.
type SnapshotFunc func(ctx context.Context) (*analytics.Snapshot, error)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of active subscribers and their group memberships,
// and fans broadcast frames out to group members.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	metrics    *metrics.Metrics
	snapshot   SnapshotFunc
	mutex      sync.RWMutex
}

// NewHub creates a hub. metrics may be nil in tests.
func NewHub(logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    m,
	}
}

// SetSnapshotProvider wires the snapshot source. Must be called before the
// first client connects.
func (h *Hub) SetSnapshotProvider(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			if h.metrics != nil {
				h.metrics.ConnectedClients.WithLabelValues().Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"client_id":    client.id,
				"user_id":      client.userID,
				"client_count": count,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			count := len(h.clients)
			if _, ok := h.clients[client]; ok {
				h.removeFromAllGroups(client)
				delete(h.clients, client)
				close(client.send)
				count = len(h.clients)
			}
			h.mutex.Unlock()
			if h.metrics != nil {
				h.metrics.ConnectedClients.WithLabelValues().Set(float64(count))
			}
			h.logger.WithFields(logging.Fields{
				"client_id":    client.id,
				"client_count": count,
			}).Info("Client disconnected")
		}
	}
}

// removeFromAllGroups must be called with the mutex held.
func (h *Hub) removeFromAllGroups(client *Client) {
	for group, members := range h.groups {
		if members[client] {
			delete(members, client)
			if h.metrics != nil {
				h.metrics.GroupMembers.WithLabelValues(group).Set(float64(len(members)))
			}
		}
	}
}

// JoinGroup admits a client to a broadcast group. The admin group requires a
// verified ADMIN role; any other outcome leaves the client's memberships
// untouched.
func (h *Hub) JoinGroup(client *Client, group string) error {
	if group == GroupAdmin && client.role != auth.RoleAdmin {
		if h.metrics != nil {
			h.metrics.GroupJoinAttempts.WithLabelValues(group, "denied").Inc()
		}
		h.logger.WithFields(logging.Fields{
			"client_id": client.id,
			"role":      client.role,
		}).Warn("Unauthorized admin group join attempt")
		return ErrUnauthorizedGroupJoin
	}

	h.mutex.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Client]bool)
		h.groups[group] = members
	}
	members[client] = true
	size := len(members)
	h.mutex.Unlock()

	if h.metrics != nil {
		h.metrics.GroupJoinAttempts.WithLabelValues(group, "granted").Inc()
		h.metrics.GroupMembers.WithLabelValues(group).Set(float64(size))
	}
	h.logger.WithFields(logging.Fields{
		"client_id": client.id,
		"group":     group,
		"members":   size,
	}).Info("Client joined group")
	return nil
}

// MembersOf returns the channel ids currently in a group.
func (h *Hub) MembersOf(group string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := h.groups[group]
	ids := make([]string, 0, len(members))
	for client := range members {
		ids = append(ids, client.id)
	}
	return ids
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// BroadcastToGroup sends one frame to every member of a group. A member whose
// send buffer is full has the frame dropped; delivery to the others proceeds.
func (h *Hub) BroadcastToGroup(group, msgType string, data interface{}) {
	payload, err := json.Marshal(Frame{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast frame")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.groups[group] {
		select {
		case client.send <- payload:
			if h.metrics != nil {
				h.metrics.MessagesSent.WithLabelValues(msgType).Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.MessagesDropped.WithLabelValues(msgType).Inc()
			}
			h.logger.WithField("client_id", client.id).Warn("Send buffer full, dropping frame")
		}
	}
}

// ServeWS upgrades an authenticated request and starts the client pumps.
// Identity comes from the already-validated claims, never from the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		id:       uuid.New().String(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   claims.UserID,
		email:    claims.Email,
		role:     claims.Role,
		joinedAt: time.Now().UTC(),
		logger:   h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}
