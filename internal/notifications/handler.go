package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/notifications/websocket"
	"studioflow/production-portal/production-portal-backend/pkg/apperr"
	"studioflow/production-portal/production-portal-backend/pkg/httputil"
)

type Handler struct {
	inbox  *Inbox
	ws     *websocket.Manager
	logger *zap.Logger
}

func NewHandler(inbox *Inbox, ws *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{inbox: inbox, ws: ws, logger: logger}
}

// RegisterRoutes registers notification routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	n := router.Group("/notifications")
	{
		n.GET("", h.list)
		n.POST("/:id/read", h.markRead)
	}
	router.GET("/ws", h.connect)
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	unread := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	out, err := h.inbox.List(c.Request.Context(), actor.UserID, unread, limit)
	if err != nil {
		httputil.RespondError(c, h.logger, apperr.Internal("notifications.List", err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) markRead(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	if err := h.inbox.MarkRead(c.Request.Context(), actor.UserID, id); err != nil {
		httputil.RespondError(c, h.logger, apperr.Internal("notifications.MarkRead", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) connect(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if _, err := h.ws.HandleConnection(c.Writer, c.Request, actor.UserID); err != nil {
		// the upgrader already answered the client
		h.logger.Debug("Socket upgrade failed", zap.Error(err))
	}
}
