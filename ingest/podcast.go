package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const qualityTranscriptIndex = "transcript:index"

var titleNormalizer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeTitle lowercases and strips diacritics so episode titles from
// different sites compare equal.
func normalizeTitle(title string) string {
	normalized, _, err := transform.String(titleNormalizer, title)
	if err != nil {
		normalized = title
	}
	return strings.ToLower(strings.TrimSpace(normalized))
}

// titleMatches reports whether needle occurs in haystack after Unicode
// normalization. Substring containment can false-positive on short generic
// titles; the needle length floor blunts the worst of it.
func titleMatches(haystack, needle string) bool {
	normalizedNeedle := normalizeTitle(needle)
	if len(normalizedNeedle) < 4 {
		return false
	}
	return strings.Contains(normalizeTitle(haystack), normalizedNeedle)
}

// episodeInfo identifies one podcast episode by show and episode title.
type episodeInfo struct {
	PodcastName  string
	EpisodeTitle string
}

// podcastScraper resolves an episode from its directory landing page and
// looks its transcript up on a third-party transcript index.
type podcastScraper struct {
	httpClient *http.Client
	indexURL   string
}

func newPodcastScraperFromEnv() *podcastScraper {
	indexURL := strings.TrimSpace(os.Getenv("TRANSCRIPT_INDEX_URL"))
	if indexURL == "" {
		indexURL = "https://podscripts.co"
	}
	return &podcastScraper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		indexURL:   strings.TrimRight(indexURL, "/"),
	}
}

// EpisodeInfo extracts the canonical show/episode title pair from the landing
// page's structured metadata.
func (s *podcastScraper) EpisodeInfo(ctx context.Context, episodeURL string) (*episodeInfo, error) {
	doc, err := s.fetchDocument(ctx, episodeURL)
	if err != nil {
		return nil, err
	}

	script := doc.Find(`script[id="schema:episode"][type="application/ld+json"]`).First()
	if script.Length() == 0 {
		return nil, errors.New("ingest: episode page has no structured metadata")
	}

	var data struct {
		Name         string `json:"name"`
		PartOfSeries struct {
			Name string `json:"name"`
		} `json:"partOfSeries"`
	}
	if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
		return nil, fmt.Errorf("ingest: parse episode metadata: %w", err)
	}
	if data.Name == "" || data.PartOfSeries.Name == "" {
		return nil, errors.New("ingest: episode metadata is incomplete")
	}

	return &episodeInfo{
		PodcastName:  data.PartOfSeries.Name,
		EpisodeTitle: data.Name,
	}, nil
}

// EpisodeTitle reads the episode title from the landing page's Open Graph
// metadata. It is the fallback when the structured metadata block is missing.
func (s *podcastScraper) EpisodeTitle(ctx context.Context, episodeURL string) (string, error) {
	doc, err := s.fetchDocument(ctx, episodeURL)
	if err != nil {
		return "", err
	}

	title, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if !ok || strings.TrimSpace(title) == "" {
		return "", errors.New("ingest: episode page has no og:title")
	}
	return strings.TrimSpace(title), nil
}

// FetchTranscript walks the transcript index: directory page to show page to
// episode page, matching by normalized title at each step.
func (s *podcastScraper) FetchTranscript(ctx context.Context, info *episodeInfo) (*Result, error) {
	showURL, err := s.findShowURL(ctx, info.PodcastName)
	if err != nil {
		return nil, err
	}

	episodeURL, err := s.findEpisodeURL(ctx, showURL, info.EpisodeTitle)
	if err != nil {
		return nil, err
	}

	transcript, err := s.extractTranscript(ctx, episodeURL)
	if err != nil {
		return nil, err
	}

	return &Result{
		Transcript: transcript,
		Title:      info.EpisodeTitle,
		Quality:    qualityTranscriptIndex,
	}, nil
}

func (s *podcastScraper) findShowURL(ctx context.Context, podcastName string) (string, error) {
	doc, err := s.fetchDocument(ctx, s.indexURL+"/podcasts")
	if err != nil {
		return "", err
	}

	var showURL string
	doc.Find("div.single-pod a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !titleMatches(sel.Text(), podcastName) {
			return true
		}
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		showURL = s.absoluteURL(href)
		return false
	})
	if showURL == "" {
		return "", fmt.Errorf("ingest: podcast %q not found in transcript index", podcastName)
	}
	return showURL, nil
}

func (s *podcastScraper) findEpisodeURL(ctx context.Context, showURL, episodeTitle string) (string, error) {
	doc, err := s.fetchDocument(ctx, showURL)
	if err != nil {
		return "", err
	}

	var episodeURL string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !titleMatches(sel.Text(), episodeTitle) {
			return true
		}
		href, _ := sel.Attr("href")
		episodeURL = s.absoluteURL(href)
		return false
	})
	if episodeURL == "" {
		return "", fmt.Errorf("ingest: episode %q not found in transcript index", episodeTitle)
	}
	return episodeURL, nil
}

func (s *podcastScraper) extractTranscript(ctx context.Context, episodeURL string) (string, error) {
	doc, err := s.fetchDocument(ctx, episodeURL)
	if err != nil {
		return "", err
	}

	var lines []string
	doc.Find("div.single-sentence span.pod_text").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		return "", errors.New("ingest: transcript index page has no transcript text")
	}
	return strings.Join(lines, "\n"), nil
}

func (s *podcastScraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: create scrape request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: status %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %s: %w", pageURL, err)
	}
	return doc, nil
}

func (s *podcastScraper) absoluteURL(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if parsed.IsAbs() {
		return href
	}
	base, err := url.Parse(s.indexURL)
	if err != nil {
		return href
	}
	return base.ResolveReference(parsed).String()
}
