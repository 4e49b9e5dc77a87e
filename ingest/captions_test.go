package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		id   string
		ok   bool
	}{
		{name: "watch URL", url: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", id: "dQw4w9WgXcQ", ok: true},
		{name: "short URL", url: "https://youtu.be/dQw4w9WgXcQ", id: "dQw4w9WgXcQ", ok: true},
		{name: "embed URL", url: "https://www.youtube.com/embed/dQw4w9WgXcQ", id: "dQw4w9WgXcQ", ok: true},
		{name: "shorts URL", url: "https://www.youtube.com/shorts/dQw4w9WgXcQ", id: "dQw4w9WgXcQ", ok: true},
		{name: "watch with extra params", url: "https://www.youtube.com/watch?t=10&v=dQw4w9WgXcQ", id: "dQw4w9WgXcQ", ok: true},
		{name: "not a video URL", url: "https://example.com/page", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := extractVideoID(tt.url)
			if !tt.ok {
				assert.ErrorIs(t, err, errNoVideoID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestPickCaptionTrack(t *testing.T) {
	author := captionTrack{LangCode: "en", Name: "English"}
	auto := captionTrack{LangCode: "en", Kind: "asr"}
	french := captionTrack{LangCode: "fr", Name: "Français"}

	assert.Equal(t, author, pickCaptionTrack([]captionTrack{auto, author}))
	assert.Equal(t, author, pickCaptionTrack([]captionTrack{french, author}))
	assert.Equal(t, french, pickCaptionTrack([]captionTrack{auto, french}))
	assert.Equal(t, auto, pickCaptionTrack([]captionTrack{auto}))
}

func newCaptionsTestServer(t *testing.T, listXML, trackXML string) *captionsClient {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, err := url.ParseQuery(r.URL.RawQuery)
		require.NoError(t, err)
		if query.Get("type") == "list" {
			w.Write([]byte(listXML))
			return
		}
		w.Write([]byte(trackXML))
	}))
	t.Cleanup(server.Close)

	return &captionsClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    server.URL,
	}
}

func TestCaptionsFetchPrefersAuthorTrack(t *testing.T) {
	listXML := `<transcript_list>
		<track lang_code="en" kind="asr"/>
		<track lang_code="en" name="English"/>
	</transcript_list>`
	trackXML := `<transcript>
		<text start="0" dur="2">Hello &amp; welcome</text>
		<text start="2" dur="2">to the show</text>
	</transcript>`

	client := newCaptionsTestServer(t, listXML, trackXML)
	result, err := client.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome to the show", result.Transcript)
	assert.Equal(t, qualityCaptionsAuthor, result.Quality)
}

func TestCaptionsFetchTagsAutoGenerated(t *testing.T) {
	listXML := `<transcript_list><track lang_code="en" kind="asr"/></transcript_list>`
	trackXML := `<transcript><text start="0" dur="2">auto words</text></transcript>`

	client := newCaptionsTestServer(t, listXML, trackXML)
	result, err := client.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, qualityCaptionsAuto, result.Quality)
}

func TestCaptionsFetchAnyLanguageBeatsFailing(t *testing.T) {
	listXML := `<transcript_list><track lang_code="de" name="Deutsch"/></transcript_list>`
	trackXML := `<transcript><text start="0" dur="2">guten Tag</text></transcript>`

	client := newCaptionsTestServer(t, listXML, trackXML)
	result, err := client.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "guten Tag", result.Transcript)
	assert.Equal(t, qualityCaptionsAuthor+":de", result.Quality)
}

func TestCaptionsFetchFailsWithoutTracks(t *testing.T) {
	client := newCaptionsTestServer(t, `<transcript_list></transcript_list>`, "")
	_, err := client.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	assert.Error(t, err)
}
