package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type qdrantClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	vectorSize int
}

func newQdrantClientFromEnv() (*qdrantClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("QDRANT_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("knowledge: invalid Qdrant URL %q", baseURL)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("knowledge: parse Qdrant URL: %w", err)
	}

	vectorSize := 384
	if raw := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			vectorSize = parsed
		}
	}

	return &qdrantClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		vectorSize: vectorSize,
	}, nil
}

func (c *qdrantClient) do(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil {
		return errors.New("knowledge: qdrant client is not configured")
	}

	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return fmt.Errorf("knowledge: encode qdrant payload: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("knowledge: create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge: qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("knowledge: qdrant status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("knowledge: decode qdrant response: %w", err)
	}
	return nil
}

func (c *qdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	size := vectorSize
	if size <= 0 {
		size = c.vectorSize
	}
	if size <= 0 {
		return errors.New("knowledge: vector size must be positive")
	}

	payload := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), payload, nil)
}

func (c *qdrantClient) UpsertPoints(ctx context.Context, collection string, points []qdrantPoint) error {
	if len(points) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(collection))
	return c.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil)
}

func (c *qdrantClient) DeletePoints(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points/delete", url.PathEscape(collection))
	return c.do(ctx, http.MethodPost, path, map[string]any{"points": pointIDs}, nil)
}

func (c *qdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]qdrantHit, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	payload := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		payload["filter"] = filter
	}

	var decoded struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(collection))
	if err := c.do(ctx, http.MethodPost, path, payload, &decoded); err != nil {
		return nil, err
	}

	hits := make([]qdrantHit, 0, len(decoded.Result))
	for _, item := range decoded.Result {
		hits = append(hits, qdrantHit{
			ID:      stringifyQdrantID(item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return hits, nil
}

func stringifyQdrantID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
