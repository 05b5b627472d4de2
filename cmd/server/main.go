package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyforge/internal/api"
	"storyforge/internal/config"
	"storyforge/internal/db"
	"storyforge/internal/openai"
	"storyforge/internal/repository"
	"storyforge/internal/services"
	"storyforge/internal/services/collaboration"
	"storyforge/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting StoryForge server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	shutdownTracer, err := telemetry.InitJaeger("storyforge", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Jaeger initialization failed, continuing without tracing: %v", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	userRepo := repository.NewUserRepository(database.DB)
	projectRepo := repository.NewProjectRepository(database.DB)
	sceneRepo := repository.NewSceneRepository(database.DB)
	objectRepo := repository.NewObjectRepository(database.DB)
	analysisRepo := repository.NewAnalysisRepository(database.DB)
	embeddingRepo := repository.NewEmbeddingRepository(database.DB)

	embedder := openai.NewClient(cfg.OpenAIAPIKey)

	embeddingService := services.NewSceneEmbeddingService(
		embedder, embeddingRepo,
		cfg.EmbeddingWorkers, cfg.EmbeddingQueueSize,
	)
	embeddingService.Start()

	hub := collaboration.NewHub(userRepo)
	if err := hub.Start(); err != nil {
		log.Fatalf("❌ Failed to start collaboration hub: %v", err)
	}

	criticService := services.NewCriticService(
		cfg.AnthropicAPIKey, cfg.AnthropicModel,
		sceneRepo, projectRepo, analysisRepo, userRepo,
		embeddingRepo, embedder, hub,
		cfg.CriticWorkers, cfg.CriticQueueSize,
	)
	criticService.Start()
	hub.SetCriticSubmitter(criticService)

	wsHandler := collaboration.NewWebSocketHandler(hub)
	handlers := api.NewHandlers(
		projectRepo, sceneRepo, objectRepo, analysisRepo, userRepo,
		hub, criticService, embeddingService,
	)
	router := api.NewRouter(handlers, wsHandler.HandleConnection)

	server := &http.Server{
		Addr:         cfg.ServerHost + ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("✓ Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  HTTP server shutdown error: %v", err)
	}

	hub.Shutdown()
	criticService.Shutdown()
	embeddingService.Shutdown()

	if err := shutdownTracer(ctx); err != nil {
		log.Printf("⚠️  Tracer shutdown error: %v", err)
	}

	log.Println("✓ Shutdown complete")
}
