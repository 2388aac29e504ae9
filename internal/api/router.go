// internal/api/router.go
package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/Corphon/ShelfTalk/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	DebugMode     bool
	CORSOrigins   []string
	Tokens        *auth.TokenConfig // nil treats every caller as a guest
	ViewRateLimit int               // views per minute per client
	UploadsDir    string            // served at /uploads when set
}

// SetupRouter registers every route on a new engine.
func SetupRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(h.Metrics))
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(AuthMiddleware(opts.Tokens))

	if opts.UploadsDir != "" {
		r.Static("/uploads", opts.UploadsDir)
	}

	r.GET("/ws/discussions/:id", h.DiscussionWebSocket)

	viewLimiter := NewRateLimiter(opts.ViewRateLimit, time.Minute)
	requireAuth := RequireIdentity()

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/metrics", h.GetMetrics)

		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", h.GetSettings)
			settingsGroup.PUT("/llm", requireAuth, h.UpdateLLMSettings)
		}

		blogs := api.Group("/blogs")
		{
			blogs.GET("", h.ListBlogs)
			blogs.GET("/mine", requireAuth, h.ListMyBlogs)
			blogs.POST("", requireAuth, h.CreateBlog)
			blogs.GET("/:id", h.GetBlog)
			blogs.GET("/:id/render", h.RenderBlog)
			blogs.PUT("/:id", requireAuth, h.UpdateBlog)
			blogs.DELETE("/:id", requireAuth, h.DeleteBlog)
			blogs.POST("/:id/views", viewLimiter.Middleware(ClientKey), h.RegisterBlogView)
			blogs.POST("/:id/mode", requireAuth, h.SwitchBlogMode)
			blogs.POST("/:id/summary", h.SummarizeBlog)
		}

		contentGroup := api.Group("/content")
		{
			contentGroup.POST("/markdown", h.ConvertToMarkdown)
			contentGroup.POST("/html", h.ConvertToHTML)
			contentGroup.POST("/sanitize", h.SanitizeHTML)
			contentGroup.POST("/plaintext", h.ExtractPlainText)
		}

		api.POST("/uploads", requireAuth, h.UploadImage)

		discussions := api.Group("/discussions")
		{
			discussions.GET("/personas", h.ListPersonas)
			discussions.POST("/summarize", h.SummarizeBook)
			discussions.POST("/dialogue", h.GenerateDialogue)
			discussions.POST("/videos", h.CreateVideos)
			discussions.GET("/videos/:job_id", h.GetVideoStatus)

			sessions := discussions.Group("/sessions")
			{
				sessions.POST("", h.CreateSession)
				sessions.GET("/:id", h.GetSession)
				sessions.DELETE("/:id", h.DeleteSession)
				sessions.POST("/:id/summary", h.RunSessionSummary)
				sessions.POST("/:id/dialogue", h.RunSessionDialogue)
				sessions.POST("/:id/videos", h.RunSessionVideos)
				sessions.POST("/:id/stop", h.StopSession)
				sessions.POST("/:id/reset", h.ResetSession)
			}
		}
	}

	r.NoRoute(func(c *gin.Context) {
		h.Response.Error(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
