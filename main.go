package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"audigest_back/ingest"
	"audigest_back/knowledge"
	"audigest_back/llm"
	"audigest_back/sources"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	origins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if origins == "" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(origins, ",")
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-User-ID")
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

func main() {
	mustLoadEnv()

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	knowledgeStore, err := knowledge.OpenStoreFromEnv()
	if err != nil {
		log.Fatalf("init knowledge store: %v", err)
	}

	sourcesModule, err := sources.RegisterRoutes(r, func(c *gin.Context, userID, sourceID string) error {
		return knowledgeStore.DeleteBySource(c.Request.Context(), userID, sourceID)
	})
	if err != nil {
		log.Fatalf("register source routes: %v", err)
	}

	ingestService, err := ingest.NewServiceFromEnv(sourcesModule.Store(), knowledgeStore)
	if err != nil {
		log.Fatalf("init ingest service: %v", err)
	}
	if _, err := ingest.RegisterRoutes(r, ingestService); err != nil {
		log.Fatalf("register ingest routes: %v", err)
	}

	if _, err := llm.RegisterRoutes(r, knowledgeStore, sourcesModule.Store().GetTitles); err != nil {
		log.Fatalf("register chat routes: %v", err)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}
