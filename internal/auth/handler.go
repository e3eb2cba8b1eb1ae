package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// Me returns the resolved actor and its capabilities.
func (h *Handler) Me(c *gin.Context) {
	actor, ok := CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":      actor.UserID,
		"role":         actor.Role,
		"capabilities": actor.Capabilities.List(),
	})
}
