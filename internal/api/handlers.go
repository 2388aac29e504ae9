// internal/api/handlers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/ShelfTalk/internal/config"
	"github.com/Corphon/ShelfTalk/internal/content"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
	"github.com/Corphon/ShelfTalk/internal/services"
	"github.com/Corphon/ShelfTalk/internal/storage"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler serves the HTTP API.
type Handler struct {
	Contents    *services.ContentService
	Renderer    *content.Renderer
	Summaries   *services.SummaryService
	Dialogues   *services.DialogueService
	Videos      *services.VideoService
	Discussions *services.DiscussionService
	LLM         *services.LLMService
	Media       storage.MediaStore
	Hub         *DiscussionHub
	Metrics     *utils.APIMetrics
	Response    *ResponseHelper

	startedAt time.Time
}

// HandlerDeps lists the services a Handler needs.
type HandlerDeps struct {
	Contents    *services.ContentService
	Renderer    *content.Renderer
	Summaries   *services.SummaryService
	Dialogues   *services.DialogueService
	Videos      *services.VideoService
	Discussions *services.DiscussionService
	LLM         *services.LLMService
	Media       storage.MediaStore
	Hub         *DiscussionHub
}

func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		Contents:    deps.Contents,
		Renderer:    deps.Renderer,
		Summaries:   deps.Summaries,
		Dialogues:   deps.Dialogues,
		Videos:      deps.Videos,
		Discussions: deps.Discussions,
		LLM:         deps.LLM,
		Media:       deps.Media,
		Hub:         deps.Hub,
		Metrics:     utils.NewAPIMetrics(),
		Response:    NewResponseHelper(),
		startedAt:   time.Now(),
	}
}

// bindJSON decodes the body into req and writes a 400 on failure.
func (h *Handler) bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.Response.BadRequest(c, "Invalid request body", err.Error())
		return false
	}
	return true
}

// Health reports liveness and whether text generation is configured.
func (h *Handler) Health(c *gin.Context) {
	ready, state := h.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"llm_ready":      ready,
		"llm_state":      state,
	})
}

// GetMetrics returns the collected counters and histograms.
func (h *Handler) GetMetrics(c *gin.Context) {
	metrics := utils.GetMetricsCollector().GetMetrics()
	if h.Hub != nil {
		metrics["websocket"] = h.Hub.GetStatus()
	}
	h.Response.Success(c, metrics)
}

// GetSettings returns the text-generation settings. API keys are never
// returned, only whether one is set.
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	ready, state := h.LLM.GetProviderStatus()

	providers := llm.ListProviders()
	models := make(map[string][]string, len(providers))
	for _, name := range providers {
		models[name] = llm.GetSupportedModelsForProvider(name)
	}

	h.Response.Success(c, gin.H{
		"llm_provider":        cfg.LLMProvider,
		"summary_model":       cfg.SummaryModel,
		"dialogue_model":      cfg.DialogueModel,
		"api_key_set":         cfg.LLMConfig["api_key"] != "",
		"ready":               ready,
		"ready_state":         state,
		"available_providers": providers,
		"supported_models":    models,
		"video_configured":    cfg.DIDAPIKey != "",
	})
}

// UpdateLLMSettingsRequest switches the text-generation provider.
type UpdateLLMSettingsRequest struct {
	Provider      string `json:"provider" binding:"required"`
	APIKey        string `json:"api_key"`
	SummaryModel  string `json:"summary_model"`
	DialogueModel string `json:"dialogue_model"`
}

// UpdateLLMSettings validates the provider by building it, then persists
// the overlay.
func (h *Handler) UpdateLLMSettings(c *gin.Context) {
	var req UpdateLLMSettingsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))

	current := config.GetCurrentConfig()
	settings := map[string]string{"api_key": strings.TrimSpace(req.APIKey)}
	if settings["api_key"] == "" && req.Provider == current.LLMProvider {
		settings["api_key"] = current.LLMConfig["api_key"]
	}
	if settings["api_key"] == "" {
		h.Response.HandleError(c, apperrors.NewValidationError("An API key is required", nil))
		return
	}

	if err := h.LLM.UpdateProvider(req.Provider, settings); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "Failed to configure the provider", err.Error())
		return
	}
	if err := config.UpdateLLMConfig(req.Provider, settings, req.SummaryModel, req.DialogueModel); err != nil {
		h.Response.HandleError(c, apperrors.NewProcessingError("Failed to save settings", err))
		return
	}

	utils.GetLogger().Info("llm settings updated", map[string]interface{}{"provider": req.Provider})
	h.GetSettings(c)
}
