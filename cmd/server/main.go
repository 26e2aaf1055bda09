package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serenity-backend/internal/config"
	"serenity-backend/internal/database"
	"serenity-backend/internal/handlers"
	"serenity-backend/internal/middleware"
	"serenity-backend/internal/repository"
	"serenity-backend/internal/router"
	"serenity-backend/internal/services"
	"serenity-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Serenity Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Client ────
	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	snippetRepo := repository.NewSnippetRepo(pool)
	documentRepo := repository.NewDocumentRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Step 5: Initialize Gemini Client ────
	geminiService, err := services.NewGeminiService(
		cfg.GeminiAPIKey,
		cfg.GeminiChatModel,
		cfg.GeminiEmbedModel,
		cfg.GeminiConcurrentReqs,
	)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer geminiService.Close()
	log.Println("✓ Gemini client initialized")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	fileExtractService := services.NewFileExtractService()
	chatPipeline := services.NewChatPipeline(geminiService, snippetRepo, cfg.RetrievalTopK)

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatPipeline)
	documentHandler := handlers.NewDocumentHandler(documentRepo, jobRepo, redisClient, cfg.StoragePath)

	// ──── Step 6: Start Indexing Worker Pool ────
	workerPool := worker.NewPool(
		redisClient,
		geminiService,
		fileExtractService,
		jobRepo,
		documentRepo,
		snippetRepo,
		cfg.IndexWorkers,
	)
	workerPool.Start()
	log.Printf("✓ Indexing worker pool started (%d goroutines)", cfg.IndexWorkers)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(jwtAuth, chatHandler, documentHandler, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // generation calls can legitimately take a while
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Serenity Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
