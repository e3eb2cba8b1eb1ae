package projects

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/pkg/httputil"
)

// defaultMaxSubmissionSize caps multipart deliverable uploads.
const defaultMaxSubmissionSize = 64 << 20

// multipartOverhead leaves room for the form fields around the file.
const multipartOverhead = 1 << 20

// Handler exposes the lifecycle controller over HTTP.
type Handler struct {
	service   *Service
	logger    *zap.Logger
	maxUpload int64
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger, maxUpload: defaultMaxSubmissionSize}
}

// WithMaxUpload overrides the deliverable size cap. Non-positive values
// keep the default.
func (h *Handler) WithMaxUpload(n int64) *Handler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// RegisterRoutes registers project and work item routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects")
	{
		projects.GET("", h.listProjects)
		projects.POST("", h.createProject)
		projects.GET("/:id", h.getProject)
		projects.POST("/:id/reject", h.rejectProject)
		projects.POST("/:id/accept", h.acceptProject)
		projects.GET("/:id/items", h.listWorkItems)
		projects.POST("/:id/items", h.addWorkItem)
		projects.POST("/:id/approve", h.approveProject)
		projects.POST("/:id/close", h.closeProject)
	}

	items := router.Group("/work-items")
	{
		items.GET("/:id", h.getWorkItem)
		items.PATCH("/:id/terms", h.updateTerms)
		items.POST("/:id/assign", h.assignWorker)
		items.POST("/:id/start", h.startWork)
		items.POST("/:id/submit", h.submitWork)
		items.GET("/:id/corrections", h.listCorrections)
		items.POST("/:id/corrections", h.requestCorrection)
		items.POST("/:id/approve", h.approveWorkItem)
		items.POST("/:id/decline", h.declineWorkItem)
	}

	router.POST("/corrections/:id/done", h.correctionDone)
}

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	actor, ok := auth.CurrentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return actor, ok
}

func (h *Handler) listProjects(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	out, err := h.service.ListProjects(c.Request.Context(), actor)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CreateProjectRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.CreateProject(c.Request.Context(), actor, req)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.GetProject(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) rejectProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"max=1000"`
	}
	if c.Request.ContentLength > 0 && !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.RejectProject(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) acceptProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req AcceptProjectRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.AcceptProject(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listWorkItems(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	items, err := h.service.ListWorkItems(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) addWorkItem(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var in WorkItemInput
	if !httputil.BindJSON(c, &in) {
		return
	}
	item, err := h.service.AddWorkItem(c.Request.Context(), actor, id, in)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

type approvalRequest struct {
	Side ApprovalSide `json:"side" binding:"required"`
}

func (h *Handler) approveProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req approvalRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	p, err := h.service.SetProjectApproval(c.Request.Context(), actor, id, req.Side)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) closeProject(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	p, err := h.service.CloseProject(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getWorkItem(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	item, err := h.service.GetWorkItem(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updateTerms(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req UpdateTermsRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	item, err := h.service.UpdateWorkItemTerms(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) assignWorker(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req struct {
		AssigneeID uuid.UUID `json:"assignee_id" binding:"required"`
	}
	if !httputil.BindJSON(c, &req) {
		return
	}
	item, err := h.service.AssignWorker(c.Request.Context(), actor, id, req.AssigneeID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) startWork(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	item, err := h.service.StartWork(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// submitWork accepts either a multipart upload with a "file" field or a
// JSON body carrying a url.
func (h *Handler) submitWork(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}

	var req SubmitWorkRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		limit := h.maxUpload + multipartOverhead
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fh.Size > h.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			httputil.RespondError(c, h.logger, err)
			return
		}
		defer f.Close()
		if req.File, err = io.ReadAll(f); err != nil {
			httputil.RespondError(c, h.logger, err)
			return
		}
		req.FileKind = c.PostForm("kind")
		req.Note = c.PostForm("note")
	} else if !httputil.BindJSON(c, &req) {
		return
	}

	item, err := h.service.SubmitWork(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) listCorrections(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	out, err := h.service.ListCorrections(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) requestCorrection(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note" binding:"required,max=2000"`
	}
	if !httputil.BindJSON(c, &req) {
		return
	}
	corr, err := h.service.RequestCorrection(c.Request.Context(), actor, id, req.Note)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, corr)
}

func (h *Handler) correctionDone(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	corr, err := h.service.MarkCorrectionDone(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, corr)
}

func (h *Handler) approveWorkItem(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req approvalRequest
	if !httputil.BindJSON(c, &req) {
		return
	}
	item, err := h.service.SetApproval(c.Request.Context(), actor, id, req.Side)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) declineWorkItem(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := httputil.ParamID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"max=1000"`
	}
	if c.Request.ContentLength > 0 && !httputil.BindJSON(c, &req) {
		return
	}
	item, err := h.service.Decline(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
