package cascade

import (
	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, extra ...gin.HandlerFunc) {
	authed := rg.Group("", append([]gin.HandlerFunc{authMW}, extra...)...)
	authed.POST("/delete-book-deep", h.deleteBook)
	authed.POST("/delete-session-deep", h.deleteSession)
}

// POST /delete-book-deep  [auth]
func (h *Handler) deleteBook(c *gin.Context) {
	var dto deleteBookDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "storyGroupId is required")
		return
	}
	report, err := h.svc.DeleteBook(c.Request.Context(), dto.StoryGroupID, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// POST /delete-session-deep  [auth]
func (h *Handler) deleteSession(c *gin.Context) {
	var dto deleteSessionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "sessionId is required")
		return
	}
	report, err := h.svc.DeleteSession(c.Request.Context(), dto.SessionID, middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
