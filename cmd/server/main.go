package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/handlers"
	"parley/internal/health"
	"parley/internal/jobs"
	"parley/internal/logging"
	"parley/internal/middleware"
	"parley/internal/preflight"
	"parley/internal/services"
	"parley/pkg/auth"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	}

	logging.Init()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("🚀 Starting parley (%s) on port %s", cfg.Environment, cfg.Port)

	rootCtx, stopWatchers := context.WithCancel(context.Background())
	defer stopWatchers()

	// Transcript store (SQLite or MySQL)
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := services.NewTranscriptStore(db)
	initCtx, cancelInit := context.WithTimeout(rootCtx, 30*time.Second)
	if err := store.Ready(initCtx); err != nil {
		cancelInit()
		log.Fatalf("❌ Failed to initialize transcript schema: %v", err)
	}
	cancelInit()
	log.Printf("✅ Transcript store ready (%s)", db.Dialect)

	if results := preflight.NewChecker(db, cfg).RunAll(rootCtx); preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	healthService := health.NewService(3, 2*time.Second)
	healthService.Register("transcript_store", true, store.Ping)

	// Rate-limit store: Redis when configured, otherwise in-process
	var rateStore services.RateLimitStore
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			if cfg.Environment == "production" {
				log.Fatalf("❌ Failed to connect to Redis: %v", err)
			}
			log.Printf("⚠️  Redis unavailable, falling back to in-memory rate limiting: %v", err)
		}
	}
	if redisService != nil {
		rateStore = services.NewRedisRateLimitStore(redisService)
		healthService.Register("redis", false, redisService.Ping)
		log.Println("✅ Rate limiting backed by Redis")
	} else {
		rateStore = services.NewMemoryRateLimitStore()
		log.Println("⚠️  Rate limiting is per-process (REDIS_URL not set)")
	}

	// Pipeline step log: MongoDB when configured, otherwise in-process
	var stepLog services.PipelineStepLog
	var mongoDB *database.MongoDB
	if cfg.MongoURI != "" {
		mongoDB, err = database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			log.Printf("⚠️  MongoDB unavailable, pipeline runs will not survive restarts: %v", err)
		} else {
			mongoCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
			if err := mongoDB.Initialize(mongoCtx); err != nil {
				log.Printf("⚠️  Failed to create MongoDB indexes: %v", err)
			}
			cancel()
		}
	}
	if mongoDB != nil {
		stepLog = services.NewMongoStepLog(mongoDB)
		healthService.Register("mongodb", false, mongoDB.Ping)
		log.Println("✅ Summarization step log backed by MongoDB")
	} else {
		stepLog = services.NewMemoryStepLog()
		log.Println("⚠️  Summarization step log is in-memory (MONGODB_URI not set)")
	}

	// Prompts, hot-reloaded from PROMPTS_FILE
	prompts, err := services.NewPromptService(cfg.PromptsFile)
	if err != nil {
		log.Fatalf("❌ Failed to load prompts: %v", err)
	}
	go prompts.Watch(rootCtx)

	inference := services.NewInferenceService(services.InferenceConfig{
		BaseURL:     cfg.InferenceBaseURL,
		APIKey:      cfg.InferenceAPIKey,
		Model:       cfg.InferenceModel,
		Timeout:     cfg.InferenceTimeout,
		RPS:         cfg.InferenceRPS,
		Temperature: cfg.InferenceTemperature,
	})

	// Conversation actors, then metrics (the active-actor gauge reads the registry)
	registry := services.NewActorRegistry(services.ActorRegistryConfig{
		Shards:       cfg.ActorShards,
		HistoryLimit: cfg.ActorHistoryLimit,
		IdleTTL:      cfg.ActorIdleTTL,
	}, store, inference, prompts, nil)
	metrics := services.InitMetrics(registry)
	registry.SetMetrics(metrics)

	pipeline := services.NewSummarizationPipeline(services.SummarizationPipelineConfig{
		Workers:     cfg.PipelineWorkers,
		QueueSize:   cfg.PipelineQueueSize,
		MaxMessages: cfg.PipelineMaxMessages,
		StepTimeout: cfg.PipelineStepTimeout,
		StaleAfter:  cfg.PipelineStaleAfter,
	}, store, inference, prompts, registry, stepLog, metrics)
	registry.SetScheduler(pipeline)
	pipeline.Start()

	// Pick up runs a previous process left behind
	go func() {
		if _, err := pipeline.RecoverStale(rootCtx); err != nil {
			log.Printf("⚠️  [PIPELINE] Startup recovery failed: %v", err)
		}
	}()

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("pipeline_recovery", jobs.NewPipelineRecoveryJob(pipeline, cfg.PipelineRecoveryInterval)); err != nil {
		log.Printf("⚠️  %v", err)
	}
	if err := jobScheduler.Register("actor_eviction", jobs.NewActorEvictionJob(registry, time.Minute)); err != nil {
		log.Printf("⚠️  %v", err)
	}
	jobScheduler.Start()

	// Voice transcription
	var transcriber handlers.Transcriber
	audioService := audio.NewService(audio.DefaultProviders(cfg.GroqAPIKey, cfg.OpenAIAPIKey))
	if audioService.Enabled() {
		transcriber = audioService
		log.Println("✅ Voice transcription enabled")
	} else {
		log.Println("⚠️  No transcription provider configured, voice messages will be rejected")
	}

	// Internal RPC auth
	var tokenAuth *auth.ServiceTokenAuth
	if cfg.InternalRPCSecret != "" {
		tokenAuth, err = auth.NewServiceTokenAuth(cfg.InternalRPCSecret, time.Hour)
		if err != nil {
			log.Fatalf("❌ Failed to initialize internal RPC auth: %v", err)
		}
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "parley v1.0",
		ReadTimeout:  3 * time.Minute,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  3 * time.Minute,
		BodyLimit:    40 * 1024 * 1024, // base64 voice payloads up to 25MB of audio
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("parley")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins
	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/agent")
		},
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg)

	handlers.Register(app, handlers.Routes{
		Health: handlers.NewHealthHandler(healthService, registry, pipeline),
		Chat: handlers.NewChatHandler(handlers.ChatHandlerConfig{
			Registry:     registry,
			Store:        store,
			Limiter:      services.NewRateLimiter(rateStore),
			RateLimits:   rateLimitConfig,
			Transcriber:  transcriber,
			Metrics:      metrics,
			TurnTimeout:  cfg.TurnTimeout,
			HistoryLimit: cfg.HistoryLimit,
		}),
		Agent:      handlers.NewAgentHandler(registry, cfg.TurnTimeout),
		RateLimits: rateLimitConfig,
		TokenAuth:  tokenAuth,
	})

	log.Printf("💬 Chat endpoint: http://localhost:%s/api/chat", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: pipeline recovery (every %v), actor eviction (every 1m)", cfg.PipelineRecoveryInterval)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	listen := func() error { return app.Listen(":" + cfg.Port) }
	err = serve(listen, sigChan, func() {
		log.Println("\n🛑 Shutting down server...")

		// Stop taking requests first so no new turns enqueue summaries
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		jobScheduler.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pipeline.Stop(drainCtx)
		cancel()

		stopWatchers()

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}
		if mongoDB != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mongoDB.Close(closeCtx); err != nil {
				log.Printf("⚠️ Error closing MongoDB: %v", err)
			}
			cancel()
		}
	})
	if err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	log.Println("👋 Server stopped")
}

// serve runs listen until a signal arrives, then returns only once shutdown has finished.
// Shutting Fiber down makes listen return early, so main must not exit on that alone.
func serve(listen func() error, signals <-chan os.Signal, shutdown func()) error {
	done := make(chan struct{})
	go func() {
		<-signals
		shutdown()
		close(done)
	}()

	if err := listen(); err != nil {
		return err
	}
	<-done
	return nil
}
