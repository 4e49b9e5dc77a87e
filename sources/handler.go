package sources

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type Module struct {
	store  *Store
	purger purger
}

type purger interface {
	PurgeSource(c *gin.Context, userID, sourceID string) error
}

// RegisterRoutes mounts the source library endpoints under /sources.
func RegisterRoutes(router *gin.Engine, purgeChunks func(c *gin.Context, userID, sourceID string) error) (*Module, error) {
	db, err := openDatabaseFromEnv()
	if err != nil {
		return nil, err
	}

	store, err := NewStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}

	module := &Module{store: store}
	if purgeChunks != nil {
		module.purger = purgeFunc(purgeChunks)
	}

	group := router.Group("/sources")
	group.GET("", module.handleList)
	group.POST("", module.handleCreate)
	group.DELETE("/:id", module.handleDelete)

	return module, nil
}

// Store exposes the underlying store for other modules.
func (m *Module) Store() *Store {
	return m.store
}

type purgeFunc func(c *gin.Context, userID, sourceID string) error

func (f purgeFunc) PurgeSource(c *gin.Context, userID, sourceID string) error {
	return f(c, userID, sourceID)
}

// UserID extracts the authenticated user id injected by the upstream auth
// layer. Requests without it are rejected by the handlers.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-User-ID"))
}

type sourceRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Kind    Kind   `json:"type"`
	AddedAt string `json:"addedAt"`
}

func (m *Module) handleList(c *gin.Context) {
	userID := UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	rows, err := m.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := make([]sourceRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, sourceRecord{
			ID:      row.ID,
			Title:   row.Title,
			URL:     row.URL,
			Kind:    row.Kind,
			AddedAt: row.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": records})
}

type createRequest struct {
	Title string `json:"title" binding:"required"`
	URL   string `json:"url" binding:"required"`
	Kind  Kind   `json:"type" binding:"required"`
}

func (m *Module) handleCreate(c *gin.Context) {
	userID := UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title, url and type are required"})
		return
	}

	src, err := m.store.Create(c.Request.Context(), userID, req.Title, req.URL, req.Kind)
	if err != nil {
		if errors.Is(err, ErrDuplicateSource) {
			c.JSON(http.StatusConflict, gin.H{"error": "this source already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sourceRecord{
		ID:      src.ID,
		Title:   src.Title,
		URL:     src.URL,
		Kind:    src.Kind,
		AddedAt: src.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (m *Module) handleDelete(c *gin.Context) {
	userID := UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	sourceID := strings.TrimSpace(c.Param("id"))
	if sourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source id is required"})
		return
	}

	if _, err := m.store.Get(c.Request.Context(), userID, sourceID); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Purge vectors first so a failed chunk delete never leaves chunks
	// unreachable behind a missing source row.
	if m.purger != nil {
		if err := m.purger.PurgeSource(c, userID, sourceID); err != nil {
			log.Printf("sources: purge chunks for %s failed: %v", sourceID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete source chunks"})
			return
		}
	}

	if err := m.store.Delete(c.Request.Context(), userID, sourceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
