// internal/api/upload_handlers.go
package api

import (
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUploadBytes = 5 << 20

// allowedImageTypes maps sniffed content types to file extensions.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadImage stores a featured or inline image and returns its URL. The
// type is sniffed from the bytes, not taken from the client.
func (h *Handler) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "A file field named \"file\" is required")
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge, "Images must be at most 5 MB")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "Failed to read the upload")
		return
	}
	if len(data) > maxUploadBytes {
		h.Response.Error(c, http.StatusRequestEntityTooLarge, ErrorFileTooLarge, "Images must be at most 5 MB")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		h.Response.Error(c, http.StatusUnsupportedMediaType, ErrorFileInvalid, "Only JPEG, PNG, GIF and WebP images are accepted")
		return
	}

	identity := IdentityFromContext(c)
	key := path.Join("images", identity.UserID, time.Now().UTC().Format("2006/01"), uuid.NewString()+ext)
	url, err := h.Media.Put(c.Request.Context(), key, contentType, data)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorFileUploadFailed, "Failed to store the image", err.Error())
		return
	}

	h.Response.Created(c, gin.H{
		"url":          url,
		"content_type": contentType,
		"size":         len(data),
	})
}
