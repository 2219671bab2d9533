package story

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/pkg/pagination"
	"github.com/storyloom/core/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the story routes. Extra middleware runs after authMW.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc, extra ...gin.HandlerFunc) {
	authed := rg.Group("", append([]gin.HandlerFunc{authMW}, extra...)...)

	authed.POST("/books", h.createBook)
	authed.GET("/books", h.listBooks)
	authed.GET("/books/:id/stories", h.listStories)

	authed.POST("/stories/assemble", h.assemble)
	authed.GET("/stories/:id", h.getStory)
	authed.PATCH("/stories/:id", h.updateStory)
	authed.GET("/stories/:id/html", h.renderStory)
	authed.GET("/stories/:id/images", h.listImages)

	authed.POST("/story-images", h.uploadImage)
	authed.DELETE("/story-images/:id", h.deleteImage)
}

// POST /books  [auth]
func (h *Handler) createBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "title is required")
		return
	}
	book, err := h.svc.CreateBook(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, book)
}

// GET /books  [auth]
func (h *Handler) listBooks(c *gin.Context) {
	books, err := h.svc.ListBooks(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	page, meta := pagination.Slice(books, pagination.FromContext(c))
	response.Paged(c, page, meta)
}

// GET /books/:id/stories  [auth]
func (h *Handler) listStories(c *gin.Context) {
	stories, err := h.svc.ListStories(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	page, meta := pagination.Slice(stories, pagination.FromContext(c))
	response.Paged(c, page, meta)
}

// POST /stories/assemble  [auth]
func (h *Handler) assemble(c *gin.Context) {
	var req AssembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "story_group_id is required")
		return
	}
	st, err := h.svc.Assemble(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, st)
}

// GET /stories/:id  [auth]
func (h *Handler) getStory(c *gin.Context) {
	st, err := h.svc.Story(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// PATCH /stories/:id  [auth]
func (h *Handler) updateStory(c *gin.Context) {
	var req UpdateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	st, err := h.svc.UpdateStory(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}

// GET /stories/:id/html  [auth]
func (h *Handler) renderStory(c *gin.Context) {
	html, err := h.svc.RenderHTML(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// GET /stories/:id/images  [auth]
func (h *Handler) listImages(c *gin.Context) {
	images, err := h.svc.Images(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, images)
}

// POST /story-images  [auth, multipart]
func (h *Handler) uploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if fileHeader.Size > int64(h.svc.MaxImageBytes()) {
		response.BadRequest(c, "image is too large")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.InternalError(c, err)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, int64(h.svc.MaxImageBytes())+1))
	if err != nil {
		response.InternalError(c, err)
		return
	}

	img, err := h.svc.AddImage(c.Request.Context(), middleware.CurrentUserID(c), ImageUpload{
		StoryID:   formValue(c, "story_id"),
		ChapterID: formValue(c, "chapter_id"),
		TurnID:    formValue(c, "turn_id"),
		Caption:   c.PostForm("caption"),
		Filename:  fileHeader.Filename,
		Data:      payload,
		MimeType:  fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, img)
}

// DELETE /story-images/:id  [auth]
func (h *Handler) deleteImage(c *gin.Context) {
	if err := h.svc.DeleteImage(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func formValue(c *gin.Context, key string) *string {
	v, ok := c.GetPostForm(key)
	if !ok {
		return nil
	}
	return &v
}
