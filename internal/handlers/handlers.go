package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"eventhub/pulse/internal/analytics"
	"eventhub/pulse/internal/metrics"
	"eventhub/pulse/internal/scheduler"
	"eventhub/pulse/internal/store"
	"eventhub/pulse/internal/websocket"
	"eventhub/pulse/pkg/auth"
	"eventhub/pulse/pkg/cache"
	"eventhub/pulse/pkg/logging"
)

const (
	footerCacheTTL      = 60 * time.Second
	footerPublicKey     = "footer_public"
	footerAdminKey      = "footer_admin"
	snapshotHTTPTimeout = 10 * time.Second
)

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	logger    logging.Logger
	metrics   *metrics.Metrics
	hub       *websocket.Hub
	cache     *cache.Cache
	source    analytics.Source
	scheduler *scheduler.Scheduler
	snapshot  websocket.SnapshotFunc
	jwtSecret []byte
}

// New creates the handler set. snapshot is the cached snapshot provider
// shared with the hub and scheduler.
func New(
	logger logging.Logger,
	m *metrics.Metrics,
	hub *websocket.Hub,
	c *cache.Cache,
	source analytics.Source,
	sched *scheduler.Scheduler,
	snapshot websocket.SnapshotFunc,
	jwtSecret []byte,
) *Handlers {
	return &Handlers{
		logger:    logger,
		metrics:   m,
		hub:       hub,
		cache:     c,
		source:    source,
		scheduler: sched,
		snapshot:  snapshot,
		jwtSecret: jwtSecret,
	}
}

// HandleWebSocket validates the session token and hands the connection to
// the hub. Invalid tokens are rejected before the upgrade.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	token := auth.SessionToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	claims, err := auth.ValidateJWT(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return
	}

	h.hub.ServeWS(c.Writer, c.Request, claims)
}

// GetDashboardAnalytics serves the full snapshot for the admin dashboard's
// initial load. Live updates arrive over the WebSocket afterwards.
func (h *Handlers) GetDashboardAnalytics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotHTTPTimeout)
	defer cancel()

	snap, err := h.snapshot(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Dashboard snapshot failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// GetFooterStats serves the public footer counter bundle.
func (h *Handlers) GetFooterStats(c *gin.Context) {
	h.footerStats(c, footerPublicKey, false)
}

// GetAdminFooterStats serves the footer bundle extended with
// registration counters.
func (h *Handlers) GetAdminFooterStats(c *gin.Context) {
	h.footerStats(c, footerAdminKey, true)
}

func (h *Handlers) footerStats(c *gin.Context, key string, admin bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotHTTPTimeout)
	defer cancel()

	value, err := h.cache.GetOrCompute(ctx, key, footerCacheTTL, func(ctx context.Context) (interface{}, error) {
		return h.buildFooterStats(ctx, admin)
	})
	if err != nil {
		h.logger.WithError(err).Error("Footer stats failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, value)
}

func (h *Handlers) buildFooterStats(ctx context.Context, admin bool) (map[string]int, error) {
	now := time.Now().UTC()

	totalEvents, err := h.source.CountEvents(ctx, store.CountFilter{})
	if err != nil {
		return nil, err
	}
	upcoming, err := h.source.CountUpcomingEvents(ctx, now)
	if err != nil {
		return nil, err
	}
	totalUsers, err := h.source.CountUsers(ctx, store.CountFilter{})
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total_events":    totalEvents,
		"upcoming_events": upcoming,
		"total_users":     totalUsers,
	}
	if !admin {
		return stats, nil
	}

	totalRegs, err := h.source.CountRegistrations(ctx, store.CountFilter{})
	if err != nil {
		return nil, err
	}
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todayRegs, err := h.source.CountRegistrations(ctx, store.CountFilter{Since: &startOfDay})
	if err != nil {
		return nil, err
	}
	stats["total_registrations"] = totalRegs
	stats["today_registrations"] = todayRegs
	return stats, nil
}

type domainEventRequest struct {
	Kind       string                 `json:"kind" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NotifyDomainEvent accepts a domain event from the CRUD layer and feeds the
// scheduler. Guarded by the service token middleware.
func (h *Handlers) NotifyDomainEvent(c *gin.Context) {
	var req domainEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	if req.OccurredAt.IsZero() {
		req.OccurredAt = time.Now().UTC()
	}

	if h.metrics != nil {
		h.metrics.DomainEvents.WithLabelValues(req.Kind, "http").Inc()
	}

	h.scheduler.Notify(analytics.DomainEvent{
		Kind:       req.Kind,
		Payload:    req.Payload,
		OccurredAt: req.OccurredAt,
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ClearCache drops every cached value so the next read recomputes.
func (h *Handlers) ClearCache(c *gin.Context) {
	h.cache.Clear()
	h.logger.WithField("user_id", c.GetString(auth.CtxUserID)).Info("Analytics cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "cache cleared"})
}

// GetSystemHealth serves the process health block of the current snapshot.
func (h *Handlers) GetSystemHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotHTTPTimeout)
	defer cancel()

	snap, err := h.snapshot(ctx)
	if err != nil {
		h.logger.WithError(err).Error("System health snapshot failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analytics temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, snap.Health)
}

// HandleNotFound is the catch-all route.
func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}
