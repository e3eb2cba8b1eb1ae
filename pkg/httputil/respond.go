package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/pkg/apperr"
)

// RespondError writes err with the status its kind maps to. Internal errors
// are logged and their details withheld.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "kind": apperr.KindInternal})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.KindOf(err)})
}

// ParamID parses a uuid path parameter, answering 400 when it is malformed.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "kind": apperr.KindValidation})
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the body, answering 400 on failure.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindValidation})
		return false
	}
	return true
}
