package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrimaryConfigSelector(t *testing.T) {
	tests := []struct {
		name    string
		formats []mediaFormat
		want    string
	}{
		{
			name:    "no probe data downloads blind",
			formats: nil,
			want:    "bestaudio/best/worst",
		},
		{
			name: "audio only stream preferred",
			formats: []mediaFormat{
				{FormatID: "137", VCodec: "avc1", ACodec: "none"},
				{FormatID: "140", Ext: "m4a", ACodec: "mp4a.40.2", VCodec: "none"},
			},
			want: "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio[ext=mp3]/bestaudio/best/worst",
		},
		{
			name: "muxed only falls back to capped video",
			formats: []mediaFormat{
				{FormatID: "18", ACodec: "mp4a.40.2", VCodec: "avc1"},
				{FormatID: "22", ACodec: "mp4a.40.2", VCodec: "avc1"},
			},
			want: "best[height<=480]/best/worst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := primaryConfig(tt.formats)
			assert.Equal(t, "audio-primary", cfg.Name)
			assert.Equal(t, tt.want, cfg.Format)
			assert.Equal(t, "192", cfg.AudioQuality)
		})
	}
}

func TestDownloadConfigOrderLoosens(t *testing.T) {
	// The fallback variants after the primary attempt trade fidelity for
	// success probability, in order.
	assert.Equal(t, "audio-permissive", downloadConfigs[0].Name)
	assert.Equal(t, "audio-video-floor", downloadConfigs[1].Name)
	assert.Equal(t, "audio-max-permissive", downloadConfigs[2].Name)
	assert.Equal(t, "96", downloadConfigs[2].AudioQuality)
	assert.Contains(t, downloadConfigs[2].PlayerClients, "mweb")
	for _, cfg := range downloadConfigs {
		assert.True(t, cfg.IgnoreErrors)
		assert.Equal(t, androidUserAgent, cfg.UserAgent)
	}
}
