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

func TestTitleMatches(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		needle   string
		want     bool
	}{
		{name: "exact", haystack: "Huberman Lab", needle: "Huberman Lab", want: true},
		{name: "substring", haystack: "Episode 42: Sleep Science Explained", needle: "Sleep Science", want: true},
		{name: "case insensitive", haystack: "HUBERMAN LAB", needle: "huberman lab", want: true},
		{name: "diacritics normalized", haystack: "Café con Leche", needle: "cafe con leche", want: true},
		{name: "no match", haystack: "Completely Different Show", needle: "Huberman Lab", want: false},
		{name: "short needle rejected", haystack: "The A Show", needle: "a", want: false},
		{name: "empty needle rejected", haystack: "anything", needle: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titleMatches(tt.haystack, tt.needle))
		})
	}
}

func newScraperTestServer(t *testing.T, handler http.HandlerFunc) *podcastScraper {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &podcastScraper{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		indexURL:   server.URL,
	}
}

func TestEpisodeInfoFromStructuredMetadata(t *testing.T) {
	page := `<html><head>
		<script id="schema:episode" type="application/ld+json">
			{"name":"Sleep Toolkit","partOfSeries":{"name":"Huberman Lab"}}
		</script>
	</head><body></body></html>`

	scraper := newScraperTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page)
	})

	info, err := scraper.EpisodeInfo(context.Background(), scraper.indexURL+"/episode")
	require.NoError(t, err)
	assert.Equal(t, "Huberman Lab", info.PodcastName)
	assert.Equal(t, "Sleep Toolkit", info.EpisodeTitle)
}

func TestEpisodeInfoMissingMetadata(t *testing.T) {
	scraper := newScraperTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>no metadata</body></html>")
	})

	_, err := scraper.EpisodeInfo(context.Background(), scraper.indexURL+"/episode")
	assert.Error(t, err)
}

func TestEpisodeTitleFromOpenGraph(t *testing.T) {
	scraper := newScraperTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:title" content="Deep Work Revisited"/></head></html>`)
	})

	title, err := scraper.EpisodeTitle(context.Background(), scraper.indexURL+"/episode")
	require.NoError(t, err)
	assert.Equal(t, "Deep Work Revisited", title)
}

func TestFetchTranscriptWalksIndex(t *testing.T) {
	scraper := newScraperTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/podcasts":
			fmt.Fprint(w, `<html><body>
				<div class="single-pod"><a href="/podcasts/other-show">Other Show</a></div>
				<div class="single-pod"><a href="/podcasts/huberman-lab">Huberman Lab</a></div>
			</body></html>`)
		case "/podcasts/huberman-lab":
			fmt.Fprint(w, `<html><body>
				<a href="/episodes/unrelated">Unrelated Episode</a>
				<a href="/episodes/sleep-toolkit">Sleep Toolkit for Better Rest</a>
			</body></html>`)
		case "/episodes/sleep-toolkit":
			fmt.Fprint(w, `<html><body>
				<div class="single-sentence"><span class="pod_text">Welcome back to the podcast.</span></div>
				<div class="single-sentence"><span class="pod_text">Today we discuss sleep.</span></div>
			</body></html>`)
		default:
			http.NotFound(w, r)
		}
	})

	result, err := scraper.FetchTranscript(context.Background(), &episodeInfo{
		PodcastName:  "Huberman Lab",
		EpisodeTitle: "Sleep Toolkit",
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome back to the podcast.\nToday we discuss sleep.", result.Transcript)
	assert.Equal(t, qualityTranscriptIndex, result.Quality)
	assert.Equal(t, "Sleep Toolkit", result.Title)
}

func TestFetchTranscriptUnknownPodcast(t *testing.T) {
	scraper := newScraperTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="single-pod"><a href="/podcasts/some-show">Some Show</a></div></body></html>`)
	})

	_, err := scraper.FetchTranscript(context.Background(), &episodeInfo{
		PodcastName:  "Missing Show",
		EpisodeTitle: "Any Episode",
	})
	assert.ErrorContains(t, err, "not found in transcript index")
}
