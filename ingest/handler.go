package ingest

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"audigest_back/sources"
)

// Module bundles the ingestion endpoints.
type Module struct {
	service *Service
}

// RegisterRoutes mounts the ingestion endpoints under /ingest.
func RegisterRoutes(router *gin.Engine, service *Service) (*Module, error) {
	if router == nil {
		return nil, errors.New("ingest: router is required")
	}
	if service == nil {
		return nil, errors.New("ingest: service is required")
	}

	module := &Module{service: service}

	group := router.Group("/ingest")
	group.POST("/url", module.handleIngestURL)
	group.POST("/upload", module.handleIngestUpload)

	return module, nil
}

type ingestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

func (m *Module) handleIngestURL(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	outcome, err := m.service.IngestURL(c.Request.Context(), userID, rawURL)
	if err != nil {
		m.respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

func (m *Module) handleIngestUpload(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user id is required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}
	defer file.Close()

	outcome, err := m.service.IngestUpload(c.Request.Context(), userID, fileHeader.Filename, file)
	if err != nil {
		m.respondIngestError(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

// respondIngestError maps the acquisition error taxonomy to status codes.
// Exhausted chains report every stage failure for diagnosis.
func (m *Module) respondIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sources.ErrUnsupportedSource):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported source URL"})
	case errors.Is(err, sources.ErrDuplicateSource):
		c.JSON(http.StatusConflict, gin.H{"error": "this source already exists"})
	default:
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			stages := make([]gin.H, 0, len(exhausted.Stages))
			for _, stage := range exhausted.Stages {
				stages = append(stages, gin.H{"stage": stage.Stage, "error": stage.Err.Error()})
			}
			c.JSON(http.StatusBadGateway, gin.H{
				"error":  "all acquisition strategies failed",
				"stages": stages,
			})
			return
		}
		var transcription *TranscriptionError
		if errors.As(err, &transcription) {
			c.JSON(http.StatusBadGateway, gin.H{"error": transcription.Error()})
			return
		}
		log.Printf("ingest: unexpected failure: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
	}
}
