// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/ShelfTalk/internal/api"
	"github.com/Corphon/ShelfTalk/internal/config"
	"github.com/Corphon/ShelfTalk/internal/content"
	"github.com/Corphon/ShelfTalk/internal/di"
	"github.com/Corphon/ShelfTalk/internal/services"
	"github.com/Corphon/ShelfTalk/internal/storage"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/Corphon/ShelfTalk/internal/video"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	// text-generation providers register themselves
	_ "github.com/Corphon/ShelfTalk/internal/llm/providers/gemini"
	_ "github.com/Corphon/ShelfTalk/internal/llm/providers/openrouter"
)

// Names under which services are registered in the container.
const (
	ServiceStore       = "store"
	ServiceMedia       = "media"
	ServiceLLM         = "llm"
	ServiceRenderer    = "renderer"
	ServiceSummary     = "summary"
	ServiceDialogue    = "dialogue"
	ServiceVideo       = "video"
	ServiceDiscussions = "discussions"
	ServiceContent     = "content"
	ServiceHub         = "hub"
)

const (
	lockCleanupInterval = 10 * time.Minute
	shutdownTimeout     = 30 * time.Second
)

// App owns the service graph and the HTTP server.
type App struct {
	config    *config.AppConfig
	container *di.Container
	router    *gin.Engine
	server    *http.Server

	mu          sync.Mutex
	initialized bool
	closers     []func(context.Context) error
}

var (
	instance *App
	once     sync.Once
)

// GetApp returns the process-wide application.
func GetApp() *App {
	once.Do(func() {
		instance = &App{container: di.GetContainer()}
	})
	return instance
}

// New returns an application bound to its own container.
func New(container *di.Container) *App {
	return &App{container: container}
}

// Initialize loads the configuration and builds every service.
func (a *App) Initialize(ctx context.Context, dataDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.config = config.GetCurrentConfig()

	logger := utils.GetLogger()
	if err := utils.InitLogger(filepath.Join(a.config.LogDir, "shelftalk.log")); err != nil {
		logger.Warn("file logging disabled", map[string]interface{}{"error": err.Error()})
	}
	if a.config.DebugMode {
		logger.SetLogLevel(utils.DEBUG)
	}

	if err := a.initServices(ctx); err != nil {
		a.closeAll(context.Background())
		return err
	}

	a.initialized = true
	logger.Info("application initialized", map[string]interface{}{
		"store":    a.config.StoreBackend,
		"media":    a.config.MediaBackend,
		"provider": a.config.LLMProvider,
		"services": len(a.container.GetNames()),
	})
	return nil
}

// initServices builds the graph in dependency order and registers each node.
func (a *App) initServices(ctx context.Context) error {
	cfg := a.config
	c := a.container

	store, err := newContentStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	a.closers = append(a.closers, store.Close)
	c.Register(ServiceStore, store)

	media, uploadsDir, err := newMediaStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s media store: %w", cfg.MediaBackend, err)
	}
	c.Register(ServiceMedia, media)

	llmService, err := services.NewLLMService()
	if err != nil {
		utils.GetLogger().Warn("text generation not ready", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err.Error(),
		})
		llmService = services.NewEmptyLLMService()
	}
	c.Register(ServiceLLM, llmService)

	sanitizer := content.NewSanitizer()
	renderer := content.NewRenderer(sanitizer, content.NewCodec(sanitizer))
	c.Register(ServiceRenderer, renderer)

	summaries := services.NewSummaryService(llmService, cfg.StageTimeout)
	dialogues := services.NewDialogueService(llmService, cfg.StageTimeout)
	c.Register(ServiceSummary, summaries)
	c.Register(ServiceDialogue, dialogues)

	executor := services.NewSequentialExecutor(cfg.VideoRequestDelay)
	videos := services.NewVideoService(video.NewDIDClient(cfg.DIDAPIKey, cfg.DIDBaseURL), executor, cfg.VideoMaxTextLength)
	c.Register(ServiceVideo, videos)

	poller := services.NewVideoPoller(videos, cfg.VideoPollInterval)
	discussions := services.NewDiscussionService(summaries, dialogues, videos, poller, services.DiscussionOptions{})
	a.closers = append(a.closers, func(context.Context) error {
		discussions.Close()
		return nil
	})
	c.Register(ServiceDiscussions, discussions)

	contents := services.NewContentService(store, renderer, llmService, cfg.StageTimeout)
	c.Register(ServiceContent, contents)

	hub := api.NewDiscussionHub(cfg.CORSOrigins)
	discussions.SetNotifier(hub)
	a.closers = append(a.closers, func(context.Context) error {
		hub.Close()
		return nil
	})
	c.Register(ServiceHub, hub)

	handler := api.NewHandler(api.HandlerDeps{
		Contents:    contents,
		Renderer:    renderer,
		Summaries:   summaries,
		Dialogues:   dialogues,
		Videos:      videos,
		Discussions: discussions,
		LLM:         llmService,
		Media:       media,
		Hub:         hub,
	})
	a.router = api.SetupRouter(handler, api.RouterOptions{
		DebugMode:     cfg.DebugMode,
		CORSOrigins:   cfg.CORSOrigins,
		Tokens:        api.NewTokenConfig(cfg.AuthSecret),
		ViewRateLimit: cfg.ViewRateLimit,
		UploadsDir:    uploadsDir,
	})
	return nil
}

// newContentStore opens the configured document store.
func newContentStore(ctx context.Context, cfg *config.AppConfig) (storage.ContentStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := storage.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		store := storage.NewMongoContentStore(db)
		if err := store.EnsureIndexes(connectCtx); err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		return store, nil
	case config.StoreBackendFirestore:
		client, err := storage.NewFirestoreClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, err
		}
		return storage.NewFirestoreContentStore(client), nil
	default:
		files, err := storage.NewFileStorage(filepath.Join(cfg.DataDir, "documents"))
		if err != nil {
			return nil, err
		}
		return storage.NewFileContentStore(files), nil
	}
}

// newMediaStore opens the upload target. The returned directory is served
// statically and is empty for remote buckets.
func newMediaStore(cfg *config.AppConfig) (storage.MediaStore, string, error) {
	if cfg.MediaBackend == config.MediaBackendS3 {
		store, err := storage.NewS3MediaStore(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		return store, "", err
	}

	dir := filepath.Join(cfg.DataDir, "uploads")
	store, err := storage.NewLocalMediaStore(dir, "/uploads")
	return store, dir, err
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return errors.New("application not initialized")
	}
	a.server = &http.Server{
		Addr:              ":" + a.config.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := a.server
	a.mu.Unlock()

	hub := di.MustResolve[*api.DiscussionHub](a.container, ServiceHub)
	contents := di.MustResolve[*services.ContentService](a.container, ServiceContent)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.GetLogger().Info("server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		hub.Run()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(lockCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := contents.PruneLocks(); n > 0 {
					utils.GetLogger().Debug("pruned idle document locks", map[string]interface{}{"count": n})
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		utils.GetLogger().Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		a.Cleanup(shutdownCtx)
		return err
	})

	return g.Wait()
}

// Cleanup releases stores, stops background work and flushes the log.
func (a *App) Cleanup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeAll(ctx)
	utils.GetLogger().Sync()
}

// closeAll runs the closers in reverse registration order. Callers hold mu.
func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			utils.GetLogger().Warn("cleanup step failed", map[string]interface{}{"error": err.Error()})
		}
	}
	a.closers = nil
}

// Router returns the HTTP handler; nil before Initialize.
func (a *App) Router() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.router == nil {
		return nil
	}
	return a.router
}

func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

func (a *App) GetDIContainer() *di.Container {
	return a.container
}

func (a *App) IsDebugMode() bool {
	return a.config != nil && a.config.DebugMode
}
