// internal/api/content_handlers.go
package api

import (
	"github.com/Corphon/ShelfTalk/internal/content"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/gin-gonic/gin"
)

// maxConvertBytes bounds the conversion endpoints.
const maxConvertBytes = 2 << 20

type htmlRequest struct {
	HTML string `json:"html"`
}

type markdownRequest struct {
	Markdown string `json:"markdown"`
}

type plainTextRequest struct {
	Content     string             `json:"content"`
	ContentType models.ContentType `json:"content_type"`
}

func (h *Handler) tooLarge(c *gin.Context, n int) bool {
	if n > maxConvertBytes {
		h.Response.HandleError(c, apperrors.NewValidationError("Content is too large", nil))
		return true
	}
	return false
}

// ConvertToMarkdown turns editor HTML into Markdown.
func (h *Handler) ConvertToMarkdown(c *gin.Context) {
	var req htmlRequest
	if !h.bindJSON(c, &req) || h.tooLarge(c, len(req.HTML)) {
		return
	}
	markdown, err := h.Renderer.Codec().ToMarkdown(req.HTML)
	if err != nil {
		h.Response.HandleError(c, apperrors.NewProcessingError("Failed to convert to Markdown", err))
		return
	}
	h.Response.Success(c, gin.H{"markdown": markdown})
}

// ConvertToHTML turns Markdown into sanitized HTML.
func (h *Handler) ConvertToHTML(c *gin.Context) {
	var req markdownRequest
	if !h.bindJSON(c, &req) || h.tooLarge(c, len(req.Markdown)) {
		return
	}
	html, err := h.Renderer.Codec().ToStructuredDocument(req.Markdown)
	if err != nil {
		h.Response.HandleError(c, apperrors.NewProcessingError("Failed to convert to HTML", err))
		return
	}
	outline, _ := content.Outline(html)
	h.Response.Success(c, gin.H{"html": html, "outline": outline})
}

func (h *Handler) SanitizeHTML(c *gin.Context) {
	var req htmlRequest
	if !h.bindJSON(c, &req) || h.tooLarge(c, len(req.HTML)) {
		return
	}
	h.Response.Success(c, gin.H{"html": h.Renderer.Sanitizer().Sanitize(req.HTML)})
}

func (h *Handler) ExtractPlainText(c *gin.Context) {
	var req plainTextRequest
	if !h.bindJSON(c, &req) || h.tooLarge(c, len(req.Content)) {
		return
	}
	contentType, ok := models.ParseContentType(string(req.ContentType))
	if !ok {
		h.Response.HandleError(c, apperrors.NewValidationError("Unsupported content type", nil))
		return
	}
	h.Response.Success(c, gin.H{"text": content.PlainText(req.Content, contentType)})
}
