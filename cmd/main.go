package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kb-service/agents"
	"github.com/kb-service/config"
	"github.com/kb-service/handlers"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
	"github.com/kb-service/services/impl"
)

// startupTimeout bounds the embedding dimension probe and schema setup at
// boot. The server still starts when these fail; /health reports degraded.
const startupTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	var startupErrors []string

	gormDB, sqlDB, err := initDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := gormDB.AutoMigrate(
		&models.DocumentRecord{},
		&models.IndexMeta{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	docStore := impl.NewDocStore(gormDB)

	retriever, router, startupErrors := buildPipeline(cfg, sqlDB, docStore, startupErrors)

	kbHandlers := handlers.NewKBHandlers(retriever, docStore, router, &cfg.Retrieval, sqlDB, startupErrors)
	limiter := handlers.NewRateLimiter(&cfg.RateLimit)

	engine := setupRouter(kbHandlers, limiter, cfg)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("Knowledge base server starting on %s", cfg.GetServerAddress())
		log.Printf("Embedding model: %s", cfg.Embedding.Model)
		log.Printf("Chat model: %s", cfg.LLM.Model)
		if len(startupErrors) > 0 {
			log.Printf("Starting degraded with %d startup errors", len(startupErrors))
		}

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

// buildPipeline wires the retrieval and answering stack. Failures here are
// collected instead of fatal so the server can come up degraded and report
// them on /health.
func buildPipeline(cfg *config.Config, sqlDB *sql.DB, docStore services.DocStore, startupErrors []string) (services.Retriever, *agents.Router, []string) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	embedder := impl.NewEmbeddingService(&cfg.Embedding)

	dimension, err := embedder.ProbeDimension(ctx)
	if err != nil {
		startupErrors = append(startupErrors, fmt.Sprintf("embedding probe: %v", err))
		return nil, nil, startupErrors
	}

	vectorStore, err := impl.NewVectorStore(ctx, sqlDB, cfg.Embedding.Model, dimension)
	if err != nil {
		startupErrors = append(startupErrors, fmt.Sprintf("vector store: %v", err))
		return nil, nil, startupErrors
	}

	var retriever services.Retriever = impl.NewRetriever(embedder, vectorStore, &cfg.Retrieval)

	if cfg.Redis.EnableRetrievalCache {
		cache, err := impl.NewCacheService(&cfg.Redis)
		if err != nil {
			log.Printf("Warning: retrieval cache initialization failed, continuing without caching: %v", err)
		} else {
			retriever = impl.NewCachedRetriever(retriever, cache, cfg.Redis.RetrievalCacheTTL)
		}
	}

	chat := impl.NewChatService(&cfg.LLM)
	web := impl.NewWebSearchService(&cfg.WebSearch)

	knowledgeAgent := agents.NewKnowledgeAgent(retriever, chat, docStore, &cfg.Retrieval)
	webAgent := agents.NewWebSearchAgent(web, chat, cfg.WebSearch.MaxResults)
	hybridAgent := agents.NewHybridAgent(knowledgeAgent, webAgent, web)

	router := agents.NewRouter(knowledgeAgent, webAgent, hybridAgent, web.Enabled())

	return retriever, router, startupErrors
}

func initDB(cfg *config.Config) (*gorm.DB, *sql.DB, error) {
	dsn := cfg.GetDatabaseDSN()

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pool, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	pool.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	pool.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	// Raw vector SQL runs over its own connection.
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return gormDB, sqlDB, nil
}

func setupRouter(kbHandlers *handlers.KBHandlers, limiter *handlers.RateLimiter, cfg *config.Config) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(handlers.RequestID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/", kbHandlers.Root)
	router.GET("/health", kbHandlers.Health)
	router.GET("/ready", kbHandlers.Ready)
	router.POST("/search", kbHandlers.Search)
	router.POST("/ask", kbHandlers.Ask)

	// Streaming endpoints carry the daily quota; everything else is
	// unmetered.
	stream := router.Group("/")
	if cfg.RateLimit.Enabled {
		stream.Use(limiter.Middleware())
	}
	{
		stream.POST("/stream", kbHandlers.Stream)
		stream.POST("/chat/stream", kbHandlers.Stream)
		stream.POST("/ask/stream", kbHandlers.Stream)
	}

	return router
}
