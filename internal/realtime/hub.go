package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/auth"
	"realtime-service/internal/store"
	"realtime-service/pkg/logger"
)

// Options tunes the hub's connection handling. Zero values fall back to
// defaults so test hubs can be built from an empty struct.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	SendBuffer        int
	RateLimitMax      int
	RateLimitWindow   time.Duration
	ChannelsEnabled   bool
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = time.Second
	}
	return o
}

// PresenceMirror reflects connection lifecycle into an external store so
// other services can see who is online. All methods are best effort.
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	JoinChannel(ctx context.Context, channel, userID string) error
	LeaveChannel(ctx context.Context, channel, userID string) error
}

// Hub owns the connection table and wires the router, channel manager,
// limiter and store together. It is safe for concurrent use.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	clients map[string]*Client

	router   *SubscriptionRouter
	channels *ChannelManager
	limiter  *RateLimiter
	metrics  *Metrics
	store    store.Store
	presence PresenceMirror
	detach   func()
	logger   *logger.Logger
}

func NewHub(opts Options, st store.Store, router *SubscriptionRouter, channels *ChannelManager, presence PresenceMirror, log *logger.Logger) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		opts:     opts,
		clients:  make(map[string]*Client),
		router:   router,
		channels: channels,
		limiter:  NewRateLimiter(opts.RateLimitMax, opts.RateLimitWindow),
		metrics:  NewMetrics(),
		store:    st,
		presence: presence,
		logger:   log,
	}
	if st != nil {
		h.detach = st.OnChange(h.PublishChange)
	}
	return h
}

func (h *Hub) Metrics() *Metrics { return h.metrics }

// Register adds the client to the table and delivers the connected
// greeting.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info("client connected",
		"clientID", client.id,
		"remoteAddr", client.remoteAddr,
		"authenticated", client.identity != nil)

	if h.presence != nil && client.identity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.presence.SetUserOnline(ctx, client.identity.ID); err != nil {
			h.logger.Warn("presence mirror online failed", "clientID", client.id, "error", err)
		}
		cancel()
	}

	var user interface{}
	if client.identity != nil {
		user = map[string]interface{}{
			"id":     client.identity.ID,
			"role":   client.identity.Role,
			"scopes": client.identity.Scopes,
		}
	}
	h.sendToClient(client, connectedPayload(client.id, user))
}

// CleanupReport summarizes what connection teardown removed.
type CleanupReport struct {
	Subscriptions int
	Channels      int
}

// Remove tears down all state for a connection. Safe to call more than
// once; only the first call does work.
func (h *Hub) Remove(connID string) CleanupReport {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()
	if !ok {
		return CleanupReport{}
	}

	client.close()

	report := CleanupReport{Subscriptions: h.router.SubscriptionCount(connID)}
	h.router.RemoveConnection(connID)

	departures := h.channels.LeaveAll(connID)
	report.Channels = len(departures)

	h.limiter.Forget(connID)
	h.metrics.ConnectionClosed()

	if h.presence != nil && client.identity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		for _, dep := range departures {
			if err := h.presence.LeaveChannel(ctx, dep.Channel, client.identity.ID); err != nil {
				h.logger.Debug("presence mirror leave failed", "channel", dep.Channel, "error", err)
			}
		}
		if err := h.presence.SetUserOffline(ctx, client.identity.ID); err != nil {
			h.logger.Warn("presence mirror offline failed", "clientID", connID, "error", err)
		}
		cancel()
	}

	// Membership is already gone, so broadcasting here cannot echo back
	// to the departing connection.
	for _, dep := range departures {
		if dep.Type == ChannelPresence {
			h.BroadcastToChannel(dep.Channel, presencePayload("presence:member_left", dep.Channel, dep.Member), connID)
		}
	}

	h.logger.Info("client disconnected",
		"clientID", connID,
		"subscriptions", report.Subscriptions,
		"channels", report.Channels)
	return report
}

// PublishChange fans a store change out to every matching subscriber.
// It is the single entry point for both local mutations and external
// feeds.
func (h *Hub) PublishChange(resource string, event store.EventKind, record store.Record) {
	connIDs, redacted := h.router.Match(resource, event, record)
	if len(connIDs) == 0 {
		return
	}

	payload := eventPayload(event, resource, redacted)
	for _, connID := range connIDs {
		if h.Send(connID, payload) {
			h.metrics.EventDispatched()
		}
	}
}

// Serve upgrades nothing itself; the HTTP handler passes an established
// connection here and the hub takes ownership.
func (h *Hub) Serve(conn *websocket.Conn, identity *auth.Identity, r *http.Request) *Client {
	client := NewClient(h, conn, identity, r.RemoteAddr, r.UserAgent())
	h.Register(client)
	go client.writePump()
	go client.readPump()
	return client
}

// Stats reports live gauge values alongside the counter snapshot.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()

	return map[string]interface{}{
		"connections": connected,
		"channels":    h.channels.ChannelCount(),
		"counters":    h.metrics.Snapshot(),
	}
}

// Shutdown closes every connection and detaches from the store feed.
// Each client's pumps are drained before its state is purged, so no
// in-flight handler can re-register state for a removed connection.
func (h *Hub) Shutdown(ctx context.Context) {
	if h.detach != nil {
		h.detach()
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			c.conn.Close()
		}

		timeout := time.Second
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		c.waitForGoroutines(timeout)
		h.Remove(c.id)
	}

	h.logger.Info("hub shut down", "closedConnections", len(clients))
}
