package llm

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"audigest_back/sources"
)

const streamWriteTimeout = 10 * time.Second

var chatStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 << 10,
	WriteBufferSize: 16 << 10,
	CheckOrigin: func(r *http.Request) bool {
		// Browser origin policy is enforced by the CORS layer.
		return true
	},
}

type streamRequest struct {
	Question string `json:"question"`
	Model    string `json:"model"`
	Context  string `json:"context"`
}

type streamEvent struct {
	Type      string           `json:"type"`
	Content   string           `json:"content,omitempty"`
	Answer    string           `json:"answer,omitempty"`
	Model     string           `json:"model,omitempty"`
	Citations []SourceCitation `json:"citations,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// handleChatStream answers one question over a websocket, emitting delta
// events as the model produces tokens and a final done event with citations.
func (m *Module) handleChatStream(c *gin.Context) {
	userID := sources.UserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	conn, err := chatStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("llm: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := func(event streamEvent) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteJSON(event)
	}

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		send(streamEvent{Type: "error", Error: "invalid request"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		send(streamEvent{Type: "error", Error: "question is required"})
		return
	}

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = m.client.DefaultModel()
	}

	ctx := c.Request.Context()
	assembled := m.retriever.Assemble(ctx, userID, question, modelID, req.Context)

	result, err := m.client.ChatStream(ctx, modelID, buildPrompt(assembled, question), func(delta ChatStreamDelta) error {
		if delta.Content == "" {
			return nil
		}
		return send(streamEvent{Type: "delta", Content: delta.Content})
	})
	if err != nil {
		log.Printf("llm: streaming chat failed: %v", err)
		send(streamEvent{Type: "error", Error: "language model unavailable"})
		return
	}

	m.recordTurn(ctx, userID, modelID, question, result.Content, assembled.Sources)

	send(streamEvent{
		Type:      "done",
		Answer:    result.Content,
		Model:     modelID,
		Citations: citationsOrEmpty(assembled.Sources),
		Truncated: assembled.Truncated,
	})
}
