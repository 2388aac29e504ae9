// internal/api/blog_handlers.go
package api

import (
	"strconv"
	"strings"

	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/services"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 100

// ListBlogs returns documents filtered by category, tags (comma separated),
// author and exclude, newest first.
func (h *Handler) ListBlogs(c *gin.Context) {
	filter := models.ContentFilter{
		Category:  strings.TrimSpace(c.Query("category")),
		CreatedBy: strings.TrimSpace(c.Query("author")),
		ExcludeID: strings.TrimSpace(c.Query("exclude")),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.Response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	docs, err := h.Contents.List(c.Request.Context(), filter)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, docs)
}

// ListMyBlogs returns the caller's documents.
func (h *Handler) ListMyBlogs(c *gin.Context) {
	docs, err := h.Contents.ListByAuthor(c.Request.Context(), IdentityFromContext(c).UserID)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, docs)
}

func (h *Handler) GetBlog(c *gin.Context) {
	doc, err := h.Contents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, doc)
}

// RenderBlog returns sanitized display HTML with the outline.
func (h *Handler) RenderBlog(c *gin.Context) {
	rendered, err := h.Contents.Render(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, rendered)
}

func (h *Handler) CreateBlog(c *gin.Context) {
	var input services.ContentInput
	if !h.bindJSON(c, &input) {
		return
	}
	doc, err := h.Contents.Create(c.Request.Context(), IdentityFromContext(c), input)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Created(c, doc, "Blog created")
}

// UpdateBlog applies a partial update. plain_text_content is ignored.
func (h *Handler) UpdateBlog(c *gin.Context) {
	var patch models.ContentPatch
	if !h.bindJSON(c, &patch) {
		return
	}
	doc, err := h.Contents.Update(c.Request.Context(), IdentityFromContext(c), c.Param("id"), patch)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, doc, "Blog updated")
}

func (h *Handler) DeleteBlog(c *gin.Context) {
	if err := h.Contents.Delete(c.Request.Context(), IdentityFromContext(c), c.Param("id")); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id")}, "Blog deleted")
}

// RegisterBlogView counts a view; the route is rate limited per client.
func (h *Handler) RegisterBlogView(c *gin.Context) {
	views, err := h.Contents.RegisterView(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id"), "views": views})
}

// SwitchModeRequest selects the representation to convert the blog to.
type SwitchModeRequest struct {
	ContentType models.ContentType `json:"content_type" binding:"required"`
}

func (h *Handler) SwitchBlogMode(c *gin.Context) {
	var req SwitchModeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	doc, err := h.Contents.SwitchMode(c.Request.Context(), IdentityFromContext(c), c.Param("id"), req.ContentType)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, doc)
}

func (h *Handler) SummarizeBlog(c *gin.Context) {
	summary, err := h.Contents.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"id": c.Param("id"), "summary": summary})
}
