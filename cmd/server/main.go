package main

import (
	"fmt"
	"os"

	"github.com/geovision/geovision-backend/internal/api"
	"github.com/geovision/geovision-backend/internal/cache"
	"github.com/geovision/geovision-backend/internal/config"
	"github.com/geovision/geovision-backend/internal/geometry"
	"github.com/geovision/geovision-backend/internal/handler"
	"github.com/geovision/geovision-backend/internal/imagery"
	"github.com/geovision/geovision-backend/internal/logger"
	"github.com/geovision/geovision-backend/internal/narrator"
	"github.com/geovision/geovision-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.Setup()

	if cfg.SentinelClientID == "" || cfg.SentinelClientSecret == "" {
		log.Warn("imagery provider credentials not set; analyses will fail until SH_CLIENT_ID/SH_CLIENT_SECRET are configured")
	}
	if cfg.GoogleAPIKey == "" {
		log.Warn("GOOGLE_API_KEY not set; narration disabled, numeric results only")
	}

	store := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cfg.RedisURL)
	tasks := service.NewTaskStore(cfg.TaskRetention)
	defer tasks.Close()

	svc := service.New(
		geometry.New(cfg.MaxExtentDegrees),
		imagery.NewClient(cfg),
		narrator.NewGemini(cfg),
		store,
		tasks,
	)

	router := api.SetupRouter(handler.NewAnalysisHandler(svc))

	log.Info("server starting", "addr", cfg.Port)
	if err := router.Run(cfg.Port); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}
