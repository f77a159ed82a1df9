// Package hub keeps one WebSocket per connected partner and pushes booking
// events to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/urban-services/internal/config"
	"github.com/ukydev/urban-services/internal/events"
	"github.com/ukydev/urban-services/internal/metrics"
	"github.com/ukydev/urban-services/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types exchanged with partner apps, in addition to the event types.
const (
	TypeInitialData = "INITIAL_DATA"
	TypePing        = "PING"
	TypePong        = "PONG"
)

const maxInboundMessage = 4096

// ErrNotPartner rejects sockets opened with a non-partner credential.
var ErrNotPartner = errors.New("token does not belong to a partner")

// Message is the envelope of every frame the hub writes.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// TokenValidator verifies the token passed on the socket URL.
type TokenValidator interface {
	ValidateToken(token string) (*models.Claims, error)
}

// PartnerResolver maps a user id to its partner profile.
type PartnerResolver interface {
	Resolve(ctx context.Context, userID string) (*models.Partner, error)
}

// SnapshotSource builds the INITIAL_DATA payload.
type SnapshotSource interface {
	InitialData(ctx context.Context, partnerID primitive.ObjectID) (*models.InitialData, error)
}

// Hub is the partner connection registry. It serves the socket endpoint and
// receives booking events as an events.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[primitive.ObjectID]*client

	tokens    TokenValidator
	partners  PartnerResolver
	snapshots SnapshotSource
	upgrader  websocket.Upgrader
	cfg       config.WebSocketConfig
	log       logrus.FieldLogger
}

// New creates an empty hub.
func New(cfg config.WebSocketConfig, tokens TokenValidator, partners PartnerResolver, snapshots SnapshotSource, log logrus.FieldLogger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		clients:   make(map[primitive.ObjectID]*client),
		tokens:    tokens,
		partners:  partners,
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Partner apps are native clients and send no Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg: cfg,
		log: log,
	}
}

// ServeHTTP upgrades the request, authenticates the partner and serves the
// connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	partnerID, err := h.authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("Rejected partner socket")
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
		_ = conn.Close()
		return
	}

	c := &client{
		id:        uuid.NewString(),
		partnerID: partnerID,
		conn:      conn,
		send:      make(chan []byte, h.cfg.SendBuffer),
		done:      make(chan struct{}),
	}
	h.register(c)
	go c.writePump(h.cfg.WriteTimeout, h.log)

	h.sendInitialData(r.Context(), c)
	c.readPump(h)

	h.unregister(c)
	c.close()
}

func (h *Hub) authenticate(ctx context.Context, token string) (primitive.ObjectID, error) {
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		return primitive.NilObjectID, err
	}
	// Only partner credentials name a registry key; a customer sharing a
	// partner's phone must not resolve to that partner.
	if claims.Role != models.RolePartner {
		return primitive.NilObjectID, ErrNotPartner
	}
	if claims.PartnerID != "" {
		if id, err := primitive.ObjectIDFromHex(claims.PartnerID); err == nil {
			return id, nil
		}
	}
	partner, err := h.partners.Resolve(ctx, claims.UserID)
	if err != nil {
		return primitive.NilObjectID, err
	}
	return partner.ID, nil
}

func (h *Hub) sendInitialData(ctx context.Context, c *client) {
	data, err := h.snapshots.InitialData(ctx, c.partnerID)
	if err != nil {
		h.log.WithError(err).WithField("partner_id", c.partnerID.Hex()).Error("Failed to build initial data")
		return
	}
	h.deliver(c, Message{Type: TypeInitialData, Data: data, Timestamp: time.Now()})
}

// register makes c the partner's connection. An older connection for the
// same partner stays open but stops receiving pushes.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	previous, replaced := h.clients[c.partnerID]
	h.clients[c.partnerID] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetConnections(n)
	entry := h.log.WithFields(logrus.Fields{"partner_id": c.partnerID.Hex(), "conn_id": c.id})
	if replaced {
		entry = entry.WithField("replaced_conn_id", previous.id)
	}
	entry.Info("Partner connected")
}

// unregister removes c only if it is still the partner's current connection.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current, ok := h.clients[c.partnerID]
	if ok && current == c {
		delete(h.clients, c.partnerID)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetConnections(n)
	h.log.WithFields(logrus.Fields{"partner_id": c.partnerID.Hex(), "conn_id": c.id}).Info("Partner disconnected")
}

// HandleEvent pushes a booking event. Delivery is best effort and never fails.
func (h *Hub) HandleEvent(_ context.Context, event events.Event) error {
	msg := Message{Type: event.Type, Data: event.Booking, Timestamp: event.OccurredAt}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	booking := event.Booking
	switch event.Type {
	case events.TypeBookingUpdated:
		if booking.IsAssigned() {
			h.sendTo(*booking.PartnerID, event.Type, payload)
		}
		h.broadcast(event.Type, payload)
	case events.TypeNewBooking:
		h.broadcast(event.Type, payload)
	case events.TypeBookingCancelled:
		if booking.IsAssigned() {
			h.sendTo(*booking.PartnerID, event.Type, payload)
		}
	}
	return nil
}

// SendToPartner pushes msg to one partner if connected.
func (h *Hub) SendToPartner(partnerID primitive.ObjectID, msg Message) bool {
	h.mu.RLock()
	c, ok := h.clients[partnerID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.deliver(c, msg)
}

func (h *Hub) sendTo(partnerID primitive.ObjectID, msgType string, payload []byte) {
	h.mu.RLock()
	c, ok := h.clients[partnerID]
	h.mu.RUnlock()
	if !ok {
		metrics.ObserveMessage(msgType, "offline")
		return
	}
	observe(msgType, c.enqueue(payload))
}

func (h *Hub) broadcast(msgType string, payload []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		observe(msgType, c.enqueue(payload))
	}
}

func (h *Hub) deliver(c *client, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("type", msg.Type).Error("Failed to encode socket message")
		return false
	}
	ok := c.enqueue(payload)
	observe(msg.Type, ok)
	return ok
}

// Connected reports whether partnerID has a registered connection.
func (h *Hub) Connected(partnerID primitive.ObjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[partnerID]
	return ok
}

// Connections returns the number of registered partners.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[primitive.ObjectID]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		_ = c.conn.Close()
	}
	metrics.SetConnections(0)
}

func observe(msgType string, sent bool) {
	if sent {
		metrics.ObserveMessage(msgType, "sent")
		return
	}
	metrics.ObserveMessage(msgType, "dropped")
}
