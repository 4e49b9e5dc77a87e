package ingest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

const (
	// Caption quality tags distinguish author captions from auto-generated
	// ones so the source record reflects transcript fidelity.
	qualityCaptionsAuthor = "captions:author"
	qualityCaptionsAuto   = "captions:auto"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([A-Za-z0-9_-]{11})`),
}

var errNoVideoID = errors.New("ingest: could not extract video id from URL")

// extractVideoID pulls the 11-character video id out of the common YouTube
// URL shapes.
func extractVideoID(rawURL string) (string, error) {
	for _, pattern := range videoIDPatterns {
		if match := pattern.FindStringSubmatch(rawURL); len(match) == 2 {
			return match[1], nil
		}
	}
	return "", errNoVideoID
}

// captionsClient fetches existing caption tracks from the platform's
// timedtext service.
type captionsClient struct {
	httpClient *http.Client
	baseURL    string
}

func newCaptionsClientFromEnv() *captionsClient {
	baseURL := strings.TrimSpace(os.Getenv("CAPTIONS_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://www.youtube.com/api/timedtext"
	}
	return &captionsClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type captionTrack struct {
	LangCode string `xml:"lang_code,attr"`
	Name     string `xml:"name,attr"`
	Kind     string `xml:"kind,attr"`
}

type captionTrackList struct {
	Tracks []captionTrack `xml:"track"`
}

func (t captionTrack) auto() bool {
	return t.Kind == "asr"
}

// Fetch returns the best available caption track as plain text. Author
// captions beat auto-generated ones, and English beats other languages, but
// any available language beats failing outright.
func (c *captionsClient) Fetch(ctx context.Context, videoURL string) (*Result, error) {
	videoID, err := extractVideoID(videoURL)
	if err != nil {
		return nil, err
	}

	tracks, err := c.listTracks(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("ingest: no caption tracks for video %s", videoID)
	}

	track := pickCaptionTrack(tracks)
	text, err := c.fetchTrack(ctx, videoID, track)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingest: caption track %s/%s is empty", track.LangCode, track.Name)
	}

	quality := qualityCaptionsAuthor
	if track.auto() {
		quality = qualityCaptionsAuto
	}
	if !strings.HasPrefix(track.LangCode, "en") {
		quality += ":" + track.LangCode
	}

	return &Result{Transcript: text, Quality: quality}, nil
}

// pickCaptionTrack prefers author captions over auto-generated and English
// over other languages, in that order of priority.
func pickCaptionTrack(tracks []captionTrack) captionTrack {
	var best captionTrack
	bestRank := -1
	for _, track := range tracks {
		rank := 0
		if !track.auto() {
			rank += 2
		}
		if strings.HasPrefix(track.LangCode, "en") {
			rank++
		}
		if rank > bestRank {
			best = track
			bestRank = rank
		}
	}
	return best
}

func (c *captionsClient) listTracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	query := url.Values{}
	query.Set("type", "list")
	query.Set("v", videoID)

	body, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}

	var list captionTrackList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("ingest: parse caption track list: %w", err)
	}
	return list.Tracks, nil
}

type captionDocument struct {
	Lines []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

func (c *captionsClient) fetchTrack(ctx context.Context, videoID string, track captionTrack) (string, error) {
	query := url.Values{}
	query.Set("v", videoID)
	query.Set("lang", track.LangCode)
	if track.Name != "" {
		query.Set("name", track.Name)
	}
	if track.auto() {
		query.Set("kind", "asr")
	}

	body, err := c.get(ctx, query)
	if err != nil {
		return "", err
	}

	var doc captionDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("ingest: parse caption document: %w", err)
	}

	lines := make([]string, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		text := strings.TrimSpace(html.UnescapeString(line.Text))
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " "), nil
}

func (c *captionsClient) get(ctx context.Context, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: create captions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: captions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: captions service status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
