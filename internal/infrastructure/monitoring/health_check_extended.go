package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"medea/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Pinger is the part of a redis client the health check needs.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RoomProber serializes rooms. A room whose actor is stuck fails the probe
// by not answering before the deadline.
type RoomProber interface {
	Get(ctx context.Context, uris []domain.LocalURI) (map[string]domain.Element, error)
}

// AddRedisCheck probes the redis connection behind the event bus and room ownership.
func (h *HealthChecker) AddRedisCheck(client Pinger, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddRoomsCheck asks every running room for its spec.
func (h *HealthChecker) AddRoomsCheck(rooms RoomProber, interval, timeout time.Duration) {
	h.AddCheck("rooms", func(ctx context.Context) error {
		if _, err := rooms.Get(ctx, nil); err != nil {
			return fmt.Errorf("rooms not responding: %w", err)
		}
		return nil
	}, interval, timeout)
}

// AddCallbackQueueCheck fails once the callback backlog reaches its capacity,
// the point where new callbacks are dropped.
func (h *HealthChecker) AddCallbackQueueCheck(backlog func() (queued, capacity int), interval time.Duration) {
	h.AddCheck("callbacks", func(ctx context.Context) error {
		queued, capacity := backlog()
		if capacity > 0 && queued >= capacity {
			return fmt.Errorf("callback queue is full (%d/%d)", queued, capacity)
		}
		return nil
	}, interval, time.Second)
}

// IsReady reports whether every check passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

// LivenessHandler always answers 200 while the process serves requests.
func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessHandler runs every check; any failure answers 503.
func (h *HealthChecker) ReadinessHandler(c *gin.Context) {
	status := h.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
