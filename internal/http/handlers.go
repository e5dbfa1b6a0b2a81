package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

// DebugLister lista usuarios para el endpoint de diagnóstico.
type DebugLister interface {
	DebugUsers(ctx context.Context) ([]domain.DebugUser, error)
}

// Handlers agrupa los endpoints operativos (health y debug).
type Handlers struct {
	logger     *zap.Logger
	users      DebugLister
	production bool
	now        func() time.Time
}

func NewHandlers(logger *zap.Logger, users DebugLister, production bool) *Handlers {
	return &Handlers{
		logger:     logger,
		users:      users,
		production: production,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Health maneja GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	})
}

// DebugUsers maneja GET /debug/users. En producción responde 404.
func (h *Handlers) DebugUsers(c *gin.Context) {
	if h.production {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	users, err := h.users.DebugUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}
