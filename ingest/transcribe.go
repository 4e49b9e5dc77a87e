package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const qualityWhisper = "audio:whisper"

// Transcriber converts a local audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// whisperClient sends audio to the speech-to-text sidecar service.
type whisperClient struct {
	httpClient *http.Client
	baseURL    string
}

func newWhisperClientFromEnv() (*whisperClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("WHISPER_SERVICE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8004"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("ingest: invalid whisper URL %q", baseURL)
	}
	return &whisperClient{
		// Transcribing a long episode takes minutes.
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		baseURL:    baseURL,
	}, nil
}

func (c *whisperClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &TranscriptionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &TranscriptionError{
			Err: fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &TranscriptionError{Err: err}
	}

	text := strings.TrimSpace(decoded.Text)
	if text == "" {
		return "", &TranscriptionError{Err: fmt.Errorf("empty transcription for %s", filepath.Base(audioPath))}
	}
	return text, nil
}
