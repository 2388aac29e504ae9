// internal/api/discussion_handlers.go
package api

import (
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/gin-gonic/gin"
)

// SummarizeBookRequest is the body of the summary endpoints.
type SummarizeBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// DialogueRequest is the body of the stateless dialogue endpoint.
type DialogueRequest struct {
	Summary  string           `json:"summary"`
	Personas []models.Persona `json:"personas"`
}

// VideosRequest is the body of the stateless video endpoint.
type VideosRequest struct {
	Dialogue []models.DialogueLine `json:"dialogue"`
}

// CreateSessionRequest starts a discussion session.
type CreateSessionRequest struct {
	Title    string           `json:"title"`
	Author   string           `json:"author"`
	Personas []models.Persona `json:"personas"`
}

func (h *Handler) ListPersonas(c *gin.Context) {
	h.Response.Success(c, h.Discussions.Personas())
}

// SummarizeBook runs the summary stage without a session.
func (h *Handler) SummarizeBook(c *gin.Context) {
	var req SummarizeBookRequest
	if !h.bindJSON(c, &req) {
		return
	}
	summary, err := h.Summaries.Summarize(c.Request.Context(), req.Title, req.Author)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"summary": summary})
}

// GenerateDialogue runs the dialogue stage without a session.
func (h *Handler) GenerateDialogue(c *gin.Context) {
	var req DialogueRequest
	if !h.bindJSON(c, &req) {
		return
	}
	dialogue, err := h.Dialogues.Generate(c.Request.Context(), req.Summary, req.Personas)
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, dialogue)
}

// CreateVideos runs the video stage without a session. When no video was
// created the error response still carries the sentinels and warnings.
func (h *Handler) CreateVideos(c *gin.Context) {
	var req VideosRequest
	if !h.bindJSON(c, &req) {
		return
	}
	batch, err := h.Videos.CreateVideos(c.Request.Context(), req.Dialogue)
	if err != nil {
		if batch != nil {
			h.Response.ErrorWithData(c, err, batch)
			return
		}
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, batch, batch.Message)
}

func (h *Handler) GetVideoStatus(c *gin.Context) {
	job, err := h.Videos.Status(c.Request.Context(), models.VideoJobID(c.Param("job_id")))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, job)
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.Response.Created(c, h.Discussions.CreateSession(req.Title, req.Author, req.Personas))
}

func (h *Handler) GetSession(c *gin.Context) {
	res, err := h.Discussions.GetSession(c.Param("id"))
	if err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, res)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Discussions.DeleteSession(c.Param("id")); err != nil {
		h.Response.HandleError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"session_id": c.Param("id")}, "Session deleted")
}

// stageResponse writes a stage outcome. A failed stage still returns the
// session snapshot so earlier results stay visible.
func (h *Handler) stageResponse(c *gin.Context, res *models.WorkflowResult, err error) {
	switch {
	case err != nil && res != nil:
		h.Response.ErrorWithData(c, err, res)
	case err != nil:
		h.Response.HandleError(c, err)
	default:
		h.Response.Success(c, res, res.Message)
	}
}

// RunSessionSummary accepts an optional body overriding title and author.
func (h *Handler) RunSessionSummary(c *gin.Context) {
	var req SummarizeBookRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	res, err := h.Discussions.RunSummary(c.Request.Context(), c.Param("id"), req.Title, req.Author)
	h.stageResponse(c, res, err)
}

func (h *Handler) RunSessionDialogue(c *gin.Context) {
	res, err := h.Discussions.RunDialogue(c.Request.Context(), c.Param("id"))
	h.stageResponse(c, res, err)
}

func (h *Handler) RunSessionVideos(c *gin.Context) {
	res, err := h.Discussions.RunVideos(c.Request.Context(), c.Param("id"))
	h.stageResponse(c, res, err)
}

func (h *Handler) StopSession(c *gin.Context) {
	res, err := h.Discussions.Stop(c.Param("id"))
	h.stageResponse(c, res, err)
}

func (h *Handler) ResetSession(c *gin.Context) {
	res, err := h.Discussions.Reset(c.Param("id"))
	h.stageResponse(c, res, err)
}
