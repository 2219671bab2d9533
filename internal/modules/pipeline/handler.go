package pipeline

import (
	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/modules/interview/processor"
	"github.com/storyloom/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the pipeline. uploadMW guards the processing route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, uploadMW ...gin.HandlerFunc) {
	authed := rg.Group("", authMW)
	authed.POST("/upload-and-process", append(uploadMW, h.uploadAndProcess)...)
	authed.POST("/generate-chapters", h.generateChapters)
	authed.POST("/speech", h.requestSpeech)
	authed.GET("/tasks/:id", h.getTask)
}

// POST /upload-and-process  [auth]
func (h *Handler) uploadAndProcess(c *gin.Context) {
	var req processor.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_id and storage_path are required")
		return
	}
	res, err := h.svc.Process(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// POST /generate-chapters  [auth]
func (h *Handler) generateChapters(c *gin.Context) {
	var req processor.ChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_id is required")
		return
	}
	task, err := h.svc.EnqueueChapters(c.Request.Context(), middleware.CurrentUserID(c), req.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, processor.ChapterJob{TaskID: task.ID, Status: string(task.Status)})
}

// POST /speech  [auth]
func (h *Handler) requestSpeech(c *gin.Context) {
	var req processor.SpeechRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "session_id and turn_id are required")
		return
	}
	ready, err := h.svc.RequestSpeech(c.Request.Context(), middleware.CurrentUserID(c), req.SessionID, req.TurnID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, processor.SpeechJob{TurnID: req.TurnID, Ready: ready})
}

// GET /tasks/:id  [auth]
func (h *Handler) getTask(c *gin.Context) {
	task, err := h.svc.Task(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, task)
}
