package payments

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/pkg/httputil"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers payment routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	payments := router.Group("/payments")
	{
		payments.GET("", h.list)
		payments.GET("/statement.xlsx", h.exportStatement)
		payments.GET("/statement.csv", h.exportStatementCSV)
		payments.POST("/adjustments", h.recordAdjustment)
		payments.POST("/:id/paid", h.markPaid)
		payments.POST("/:id/received", h.markReceived)
	}
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	views, err := h.service.ListVisible(c.Request.Context(), actor)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) exportStatement(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	data, err := h.service.ExportStatement(c.Request.Context(), actor)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	name := fmt.Sprintf("statement-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) exportStatementCSV(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	data, err := h.service.ExportStatementCSV(c.Request.Context(), actor)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	name := fmt.Sprintf("statement-%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv", data)
}

func (h *Handler) recordAdjustment(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req AdjustmentRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.RecordAdjustment(c.Request.Context(), actor, req)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) markPaid(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reference string `json:"reference" binding:"max=255"`
	}
	if c.Request.ContentLength > 0 && !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.MarkPaid(c.Request.Context(), actor, id, req.Reference)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) markReceived(c *gin.Context) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.MarkReceived(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
