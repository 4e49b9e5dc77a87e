package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss xmlns:podcast="https://podcastindex.org/namespace/1.0" version="2.0">
  <channel>
    <title>Huberman Lab</title>
    <item>
      <title>Unrelated Episode About Focus</title>
      <enclosure url="https://cdn.example.com/focus.mp3" type="audio/mpeg" length="1"/>
    </item>
    <item>
      <title>Sleep Toolkit for Better Rest</title>
      <podcast:transcript url="https://cdn.example.com/sleep.txt" type="text/plain"/>
      <enclosure url="https://cdn.example.com/sleep.mp3" type="audio/mpeg" length="1"/>
    </item>
    <item>
      <title>Audio Only Episode</title>
      <enclosure url="https://cdn.example.com/audio-only.mp3" type="audio/mpeg" length="1"/>
    </item>
  </channel>
</rss>`

func newFeedTestResolver(t *testing.T, handler http.HandlerFunc) (*feedResolver, string) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &feedResolver{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		lookupURL:  server.URL + "/lookup",
	}, server.URL
}

func TestFindEpisodePrefersTranscriptEnclosure(t *testing.T) {
	resolver, baseURL := newFeedTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sampleFeed)
	})

	episode, err := resolver.FindEpisode(context.Background(), baseURL+"/feed.xml", "Sleep Toolkit")
	require.NoError(t, err)
	assert.Equal(t, "Huberman Lab", episode.PodcastName)
	assert.Equal(t, "Sleep Toolkit for Better Rest", episode.EpisodeTitle)
	assert.Equal(t, "https://cdn.example.com/sleep.txt", episode.TranscriptURL)
	assert.Equal(t, "https://cdn.example.com/sleep.mp3", episode.AudioURL)
}

func TestFindEpisodeAudioOnly(t *testing.T) {
	resolver, baseURL := newFeedTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sampleFeed)
	})

	episode, err := resolver.FindEpisode(context.Background(), baseURL+"/feed.xml", "Audio Only Episode")
	require.NoError(t, err)
	assert.Empty(t, episode.TranscriptURL)
	assert.Equal(t, "https://cdn.example.com/audio-only.mp3", episode.AudioURL)
}

func TestFindEpisodeNotInFeed(t *testing.T) {
	resolver, baseURL := newFeedTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sampleFeed)
	})

	_, err := resolver.FindEpisode(context.Background(), baseURL+"/feed.xml", "Nonexistent Episode")
	assert.ErrorContains(t, err, "not found in feed")
}

func TestResolveFeedURLViaLookup(t *testing.T) {
	resolver, _ := newFeedTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/lookup" {
			assert.Equal(t, "1545953110", r.URL.Query().Get("id"))
			fmt.Fprint(w, `{"results":[{"feedUrl":"https://feeds.example.com/hubermanlab"}]}`)
			return
		}
		http.NotFound(w, r)
	})

	feedURL, err := resolver.ResolveFeedURL(context.Background(),
		"https://podcasts.apple.com/us/podcast/huberman-lab/id1545953110?i=1000732620228")
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com/hubermanlab", feedURL)
}

func TestResolveFeedURLFallsBackToPageScrape(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lookup":
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		case "/episode/id999":
			fmt.Fprint(w, `<html><head><link type="application/rss+xml" href="https://feeds.example.com/scraped"/></head></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	resolver := &feedResolver{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		lookupURL:  server.URL + "/lookup",
	}

	// The episode URL carries an id so the lookup path is attempted first.
	feedURL, err := resolver.ResolveFeedURL(context.Background(), server.URL+"/episode/id999")
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com/scraped", feedURL)
}

func TestFetchTranscriptEnclosure(t *testing.T) {
	resolver, baseURL := newFeedTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "  full transcript text  ")
	})

	text, err := resolver.FetchTranscriptEnclosure(context.Background(), baseURL+"/sleep.txt")
	require.NoError(t, err)
	assert.Equal(t, "full transcript text", text)
}
