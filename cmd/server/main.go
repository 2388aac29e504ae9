// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Corphon/ShelfTalk/internal/app"
	"github.com/Corphon/ShelfTalk/internal/config"
	"github.com/Corphon/ShelfTalk/internal/utils"
)

func main() {
	log.Println("starting ShelfTalk server...")

	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	for _, dir := range []string{baseConfig.DataDir, baseConfig.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.GetApp()
	if err := application.Initialize(ctx, baseConfig.DataDir); err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	utils.GetLogger().Info("ready", map[string]interface{}{
		"port":  baseConfig.Port,
		"debug": baseConfig.DebugMode,
	})

	if err := application.Run(ctx); err != nil {
		utils.GetLogger().Error("server stopped with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	log.Println("server stopped")
}
