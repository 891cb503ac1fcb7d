package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Checker pings a dependency; pgxpool.Pool satisfies it.
type Checker interface {
	Ping(ctx context.Context) error
}

type Manager struct {
	ready    atomic.Bool
	checkers []Checker
	timeout  time.Duration
}

func NewManager(initialReady bool, checkers ...Checker) *Manager {
	m := &Manager{checkers: checkers, timeout: 2 * time.Second}
	m.ready.Store(initialReady)
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// Check reports readiness including a ping of every registered dependency.
func (m *Manager) Check(ctx context.Context) bool {
	if !m.IsReady() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	for _, c := range m.checkers {
		if err := c.Ping(ctx); err != nil {
			return false
		}
	}
	return true
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.Check(c.Request.Context()) {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
	}
}
