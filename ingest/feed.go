package ingest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const qualityTranscriptFeed = "transcript:feed"

var applePodcastIDPattern = regexp.MustCompile(`/id(\d+)`)

var errNoAudioEnclosure = errors.New("ingest: feed entry has no audio enclosure")

// feedResolver derives a podcast's syndication feed URL and matches the
// target episode inside it.
type feedResolver struct {
	httpClient *http.Client
	lookupURL  string
}

func newFeedResolverFromEnv() *feedResolver {
	return &feedResolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		lookupURL:  "https://itunes.apple.com/lookup",
	}
}

// ResolveFeedURL finds the podcast's RSS feed. The directory lookup API is
// the primary method; scraping the episode page for a feed link is the
// secondary one.
func (r *feedResolver) ResolveFeedURL(ctx context.Context, episodeURL string) (string, error) {
	feedURL, lookupErr := r.lookupFeedURL(ctx, episodeURL)
	if lookupErr == nil {
		return feedURL, nil
	}

	feedURL, scrapeErr := r.scrapeFeedURL(ctx, episodeURL)
	if scrapeErr == nil {
		return feedURL, nil
	}
	return "", fmt.Errorf("ingest: resolve feed URL: lookup: %v; scrape: %v", lookupErr, scrapeErr)
}

func (r *feedResolver) lookupFeedURL(ctx context.Context, episodeURL string) (string, error) {
	match := applePodcastIDPattern.FindStringSubmatch(episodeURL)
	if len(match) != 2 {
		return "", errors.New("no podcast id in URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.lookupURL+"?id="+match[1], nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup status %s", resp.Status)
	}

	var decoded struct {
		Results []struct {
			FeedURL string `json:"feedUrl"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	for _, result := range decoded.Results {
		if result.FeedURL != "" {
			return result.FeedURL, nil
		}
	}
	return "", errors.New("lookup returned no feed URL")
}

func (r *feedResolver) scrapeFeedURL(ctx context.Context, episodeURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, episodeURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	if href, ok := doc.Find(`link[type="application/rss+xml"]`).First().Attr("href"); ok && href != "" {
		return href, nil
	}
	return "", errors.New("page has no feed link")
}

// feedEnclosure is a media attachment on a feed entry.
type feedEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// feedEntry is one episode in a syndication feed. Transcript elements come
// from the podcasting namespace extension.
type feedEntry struct {
	Title       string          `xml:"title"`
	Enclosures  []feedEnclosure `xml:"enclosure"`
	Transcripts []feedEnclosure `xml:"transcript"`
}

type feedDocument struct {
	Channel struct {
		Title   string      `xml:"title"`
		Entries []feedEntry `xml:"item"`
	} `xml:"channel"`
}

// matchedEpisode is the outcome of resolving an episode inside a feed:
// either a transcript URL or an audio URL, transcript preferred.
type matchedEpisode struct {
	PodcastName   string
	EpisodeTitle  string
	TranscriptURL string
	AudioURL      string
}

// FindEpisode fetches and parses the feed, then matches the episode by
// normalized title substring.
func (r *feedResolver) FindEpisode(ctx context.Context, feedURL, episodeTitle string) (*matchedEpisode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: create feed request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: feed status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("ingest: read feed: %w", err)
	}

	var doc feedDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ingest: parse feed: %w", err)
	}

	for _, entry := range doc.Channel.Entries {
		if !titleMatches(entry.Title, episodeTitle) {
			continue
		}

		matched := &matchedEpisode{
			PodcastName:  strings.TrimSpace(doc.Channel.Title),
			EpisodeTitle: strings.TrimSpace(entry.Title),
		}
		for _, transcript := range entry.Transcripts {
			if transcript.URL != "" {
				matched.TranscriptURL = transcript.URL
				break
			}
		}
		for _, enclosure := range entry.Enclosures {
			if strings.HasPrefix(enclosure.Type, "audio") && enclosure.URL != "" {
				matched.AudioURL = enclosure.URL
				break
			}
		}
		return matched, nil
	}
	return nil, fmt.Errorf("ingest: episode %q not found in feed", episodeTitle)
}

// FetchTranscriptEnclosure downloads the transcript text linked from a feed
// entry.
func (r *feedResolver) FetchTranscriptEnclosure(ctx context.Context, transcriptURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingest: create transcript request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest: fetch transcript enclosure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingest: transcript enclosure status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("ingest: read transcript enclosure: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", errors.New("ingest: transcript enclosure is empty")
	}
	return text, nil
}
