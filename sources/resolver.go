package sources

import (
	"errors"
	"strings"
)

// ErrUnsupportedSource is returned when a URL matches no known platform pattern.
var ErrUnsupportedSource = errors.New("sources: unsupported source URL")

var videoPatterns = []string{
	"youtube.com/watch",
	"youtu.be/",
	"youtube.com/embed/",
	"youtube.com/v/",
	"youtube.com/shorts/",
}

var podcastPatterns = []string{
	"podcasts.apple.com/",
}

// Classify maps a raw URL onto a source kind by domain pattern. No network
// call is made; unrecognized URLs fail with ErrUnsupportedSource.
func Classify(rawURL string) (Kind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawURL))
	if trimmed == "" {
		return "", ErrUnsupportedSource
	}

	for _, pattern := range videoPatterns {
		if strings.Contains(trimmed, pattern) {
			return KindVideo, nil
		}
	}
	for _, pattern := range podcastPatterns {
		if strings.Contains(trimmed, pattern) {
			return KindPodcast, nil
		}
	}
	return "", ErrUnsupportedSource
}
