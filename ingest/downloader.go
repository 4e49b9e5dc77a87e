package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const androidUserAgent = "Mozilla/5.0 (Linux; Android 10; SM-G975F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.120 Mobile Safari/537.36"

// DownloadConfig is one declarative variant of the audio download. The
// variants are tried in order of decreasing selectivity: looser selectors
// risk lower fidelity but raise the success probability.
type DownloadConfig struct {
	Name          string   `json:"name"`
	Format        string   `json:"format"`
	AudioQuality  string   `json:"audio_quality"`
	PlayerClients []string `json:"player_clients"`
	UserAgent     string   `json:"user_agent,omitempty"`
	IgnoreErrors  bool     `json:"ignore_errors"`
}

// downloadConfigs lists the fallback variants after the format-probed primary
// attempt. One parameterized download routine consumes all of them.
var downloadConfigs = []DownloadConfig{
	{
		Name:          "audio-permissive",
		Format:        "best/worst",
		AudioQuality:  "128",
		PlayerClients: []string{"android", "web", "ios", "tv_embedded"},
		UserAgent:     androidUserAgent,
		IgnoreErrors:  true,
	},
	{
		Name:          "audio-video-floor",
		Format:        "worst[height<=480]/worst",
		AudioQuality:  "128",
		PlayerClients: []string{"android", "web", "ios", "tv_embedded"},
		UserAgent:     androidUserAgent,
		IgnoreErrors:  true,
	},
	{
		Name:          "audio-max-permissive",
		Format:        "worst",
		AudioQuality:  "96",
		PlayerClients: []string{"android", "web", "ios", "tv_embedded", "mweb"},
		UserAgent:     androidUserAgent,
		IgnoreErrors:  true,
	},
}

// mediaFormat is one stream encoding reported by the downloader's probe.
type mediaFormat struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	ACodec   string `json:"acodec"`
	VCodec   string `json:"vcodec"`
}

func (f mediaFormat) audioOnly() bool {
	return f.ACodec != "" && f.ACodec != "none" && (f.VCodec == "" || f.VCodec == "none")
}

// DownloadError carries the downloader's underlying message for aggregation
// across fallback stages.
type DownloadError struct {
	Config string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("ingest: download (%s) failed: %v", e.Config, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// downloadClient talks to the media downloader sidecar service.
type downloadClient struct {
	httpClient *http.Client
	baseURL    string
}

func newDownloadClientFromEnv() (*downloadClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("YTDLP_SERVICE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8003"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("ingest: invalid downloader URL %q", baseURL)
	}
	return &downloadClient{
		// Downloads of long episodes are slow; the generous timeout is the
		// per-stage budget, not a request hint.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    baseURL,
	}, nil
}

// Probe lists the formats the platform exposes for the URL so the primary
// attempt can pick audio-only vs. video+extract without guessing.
func (c *downloadClient) Probe(ctx context.Context, mediaURL string) ([]mediaFormat, error) {
	payload := map[string]any{"url": mediaURL}
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("ingest: encode probe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/formats", body)
	if err != nil {
		return nil, fmt.Errorf("ingest: create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ingest: probe status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		Formats []mediaFormat `json:"formats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ingest: decode probe response: %w", err)
	}
	return decoded.Formats, nil
}

// primaryConfig builds the probe-informed first download attempt.
func primaryConfig(formats []mediaFormat) DownloadConfig {
	selector := "bestaudio/best/worst"
	if len(formats) > 0 {
		hasAudioOnly := false
		for _, format := range formats {
			if format.audioOnly() {
				hasAudioOnly = true
				break
			}
		}
		if hasAudioOnly {
			selector = "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio[ext=mp3]/bestaudio/best/worst"
		} else {
			selector = "best[height<=480]/best/worst"
		}
	}
	return DownloadConfig{
		Name:          "audio-primary",
		Format:        selector,
		AudioQuality:  "192",
		PlayerClients: []string{"android", "web", "ios"},
	}
}

// Download fetches the media as audio under the given config and spools it to
// a temporary file. The caller owns the file and must remove it on every exit
// path.
func (c *downloadClient) Download(ctx context.Context, mediaURL string, cfg DownloadConfig) (path string, title string, err error) {
	payload := map[string]any{
		"url":            mediaURL,
		"format":         cfg.Format,
		"audio_quality":  cfg.AudioQuality,
		"player_clients": cfg.PlayerClients,
		"ignore_errors":  cfg.IgnoreErrors,
	}
	if cfg.UserAgent != "" {
		payload["user_agent"] = cfg.UserAgent
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", body)
	if err != nil {
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", &DownloadError{
			Config: cfg.Name,
			Err:    fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	title = strings.TrimSpace(resp.Header.Get("X-Media-Title"))

	tmp, err := os.CreateTemp("", "audigest-audio-*.mp3")
	if err != nil {
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", &DownloadError{Config: cfg.Name, Err: err}
	}
	return tmp.Name(), title, nil
}

// fetchAudioFile downloads a direct audio URL (a feed enclosure) without the
// downloader sidecar.
func fetchAudioFile(ctx context.Context, httpClient *http.Client, audioURL string) (string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingest: create audio request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest: fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingest: audio fetch status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "audigest-audio-*.mp3")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: spool audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
