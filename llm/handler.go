package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"audigest_back/cache"
	"audigest_back/sources"
)

const defaultHistoryLimit = 50

// Module bundles the chat endpoints and their dependencies.
type Module struct {
	db        *gorm.DB
	client    *ChatClient
	retriever *retriever
	catalog   []ChatModelOption
	cache     *messageCache
}

// RegisterRoutes wires the chat, search, and model endpoints into the router.
// The searcher and title resolver come from the knowledge and sources modules.
func RegisterRoutes(router *gin.Engine, searcher ChunkSearcher, titles TitleResolver) (*Module, error) {
	if router == nil {
		return nil, errors.New("llm: router is required")
	}
	if searcher == nil {
		return nil, errors.New("llm: chunk searcher is required")
	}

	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, err
	}

	client, err := NewChatClientFromEnv()
	if err != nil {
		return nil, err
	}

	catalog := loadChatModelCatalog()

	var msgCache *messageCache
	if redisClient, cacheErr := cache.GetRedisClient(); cacheErr != nil {
		log.Printf("llm: recent message cache disabled: %v", cacheErr)
	} else {
		msgCache = newMessageCache(redisClient)
	}

	module := &Module{
		db:        db,
		client:    client,
		retriever: newRetriever(searcher, titles, catalog),
		catalog:   catalog,
		cache:     msgCache,
	}

	router.GET("/models", module.handleListModels)
	router.POST("/chat", module.handleChat)
	router.GET("/chat/stream", module.handleChatStream)
	router.GET("/chat/history", module.handleHistory)
	router.GET("/search", module.handleSearch)

	return module, nil
}

func (m *Module) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  m.catalog,
		"default": m.client.DefaultModel(),
	})
}

type chatRequest struct {
	Question string `json:"question"`
	Model    string `json:"model"`
	Context  string `json:"context"`
}

type chatResponse struct {
	Answer    string           `json:"answer"`
	Model     string           `json:"model"`
	Citations []SourceCitation `json:"citations"`
	Truncated bool             `json:"truncated,omitempty"`
	Usage     *ChatUsage       `json:"usage,omitempty"`
}

func (m *Module) handleChat(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = m.client.DefaultModel()
	}

	assembled := m.retriever.Assemble(c.Request.Context(), userID, question, modelID, req.Context)

	result, err := m.client.Chat(c.Request.Context(), modelID, buildPrompt(assembled, question))
	if err != nil {
		log.Printf("llm: chat completion failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "language model unavailable"})
		return
	}

	m.recordTurn(c.Request.Context(), userID, modelID, question, result.Content, assembled.Sources)

	c.JSON(http.StatusOK, chatResponse{
		Answer:    result.Content,
		Model:     modelID,
		Citations: citationsOrEmpty(assembled.Sources),
		Truncated: assembled.Truncated,
		Usage:     result.Usage,
	})
}

func (m *Module) handleHistory(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	if limit == defaultHistoryLimit {
		if cached, err := m.cache.get(c.Request.Context(), userID); err == nil {
			c.JSON(http.StatusOK, gin.H{"messages": cached})
			return
		}
	}

	var messages []Message
	if err := m.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	// Reverse to chronological order for display.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if limit == defaultHistoryLimit {
		m.cache.set(c.Request.Context(), userID, messages)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (m *Module) handleSearch(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	k := 10
	if raw := strings.TrimSpace(c.Query("k")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= retrievalKMax {
			k = parsed
		}
	}

	chunks, err := m.retriever.searcher.Search(c.Request.Context(), userID, query, k)
	if err != nil {
		log.Printf("llm: search failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	titles := m.retriever.resolveTitles(c.Request.Context(), userID, chunks)

	type searchHit struct {
		SourceID string  `json:"source_id"`
		Title    string  `json:"title"`
		Seq      int     `json:"seq"`
		Text     string  `json:"text"`
		Score    float64 `json:"score"`
	}
	hits := make([]searchHit, 0, len(chunks))
	for _, chunk := range chunks {
		title := titles[chunk.SourceID]
		if title == "" {
			title = unknownSourceTitle
		}
		hits = append(hits, searchHit{
			SourceID: chunk.SourceID,
			Title:    title,
			Seq:      chunk.Seq,
			Text:     chunk.Text,
			Score:    chunk.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

// recordTurn persists the question and answer pair. History is best effort
// and never fails the chat request.
func (m *Module) recordTurn(ctx context.Context, userID, modelID, question, answer string, citations []SourceCitation) {
	now := time.Now().UTC()

	var citationJSON datatypes.JSON
	if len(citations) > 0 {
		if raw, err := json.Marshal(citations); err == nil {
			citationJSON = datatypes.JSON(raw)
		}
	}

	turns := []Message{
		{UserID: userID, Role: "user", Content: question, ModelID: modelID, CreatedAt: now},
		{UserID: userID, Role: "assistant", Content: answer, ModelID: modelID, Citations: citationJSON, CreatedAt: now.Add(time.Millisecond)},
	}
	if err := m.db.WithContext(ctx).Create(&turns).Error; err != nil {
		log.Printf("llm: persist chat turn: %v", err)
		return
	}
	m.cache.invalidate(ctx, userID)
}

func citationsOrEmpty(citations []SourceCitation) []SourceCitation {
	if citations == nil {
		return []SourceCitation{}
	}
	return citations
}
