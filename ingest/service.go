package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"audigest_back/cache"
	"audigest_back/knowledge"
	"audigest_back/sources"
	"audigest_back/storage"
)

const defaultMaxConcurrent = 3

// Outcome is the result of one completed ingestion.
type Outcome struct {
	SourceID   string       `json:"sourceId"`
	Title      string       `json:"title"`
	Transcript string       `json:"transcript"`
	Summary    string       `json:"summary,omitempty"`
	Quality    string       `json:"quality"`
	ChunkCount int          `json:"chunkCount"`
	Attempts   []StageError `json:"attempts,omitempty"`
	Cached     bool         `json:"cached,omitempty"`
}

// Service drives the acquisition fallback chain and hands transcripts to the
// chunk store.
type Service struct {
	sources     *sources.Store
	knowledge   *knowledge.Store
	captions    *captionsClient
	downloader  *downloadClient
	transcriber Transcriber
	scraper     *podcastScraper
	feeds       *feedResolver
	summaries   *summarizer
	cache       *transcriptCache
	uploads     *storage.UploadStorage
	httpClient  *http.Client

	// sem bounds concurrent acquisitions; downloads and transcription are
	// the expensive part, not the request handling.
	sem chan struct{}
}

func NewServiceFromEnv(sourceStore *sources.Store, knowledgeStore *knowledge.Store) (*Service, error) {
	if sourceStore == nil {
		return nil, errors.New("ingest: source store is required")
	}
	if knowledgeStore == nil {
		return nil, errors.New("ingest: knowledge store is required")
	}

	downloader, err := newDownloadClientFromEnv()
	if err != nil {
		return nil, err
	}
	transcriber, err := newWhisperClientFromEnv()
	if err != nil {
		return nil, err
	}

	var txCache *transcriptCache
	if redisClient, cacheErr := cache.GetRedisClient(); cacheErr != nil {
		log.Printf("ingest: transcript cache disabled: %v", cacheErr)
	} else {
		txCache = newTranscriptCache(redisClient)
	}

	uploads, err := storage.NewUploadStorageFromEnv()
	if err != nil {
		log.Printf("ingest: upload archival disabled: %v", err)
		uploads = nil
	}

	maxConcurrent := defaultMaxConcurrent
	if raw := strings.TrimSpace(os.Getenv("INGEST_MAX_CONCURRENT")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 0 {
			maxConcurrent = parsed
		}
	}

	return &Service{
		sources:     sourceStore,
		knowledge:   knowledgeStore,
		captions:    newCaptionsClientFromEnv(),
		downloader:  downloader,
		transcriber: transcriber,
		scraper:     newPodcastScraperFromEnv(),
		feeds:       newFeedResolverFromEnv(),
		summaries:   newSummarizerFromEnv(),
		cache:       txCache,
		uploads:     uploads,
		httpClient:  &http.Client{Timeout: 10 * time.Minute},
		sem:         make(chan struct{}, maxConcurrent),
	}, nil
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releaseSlot() {
	<-s.sem
}

// IngestURL classifies the URL, acquires a transcript through the fallback
// chain, creates the source record, and stores the chunks.
func (s *Service) IngestURL(ctx context.Context, userID, rawURL string) (*Outcome, error) {
	kind, err := sources.Classify(rawURL)
	if err != nil {
		return nil, err
	}

	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer s.releaseSlot()

	var (
		result   *Result
		attempts []StageError
		cached   bool
	)
	if hit, ok := s.cache.get(ctx, rawURL); ok {
		result, cached = hit, true
	} else {
		switch kind {
		case sources.KindVideo:
			result, attempts, err = runChain(ctx, s.videoStrategies(rawURL))
		case sources.KindPodcast:
			result, attempts, err = runChain(ctx, s.podcastStrategies(rawURL))
		default:
			return nil, sources.ErrUnsupportedSource
		}
		if err != nil {
			return nil, err
		}
	}

	title := strings.TrimSpace(result.Title)
	if title == "" {
		title = rawURL
	}

	if result.Summary == "" {
		result.Summary = s.summarize(ctx, result.Transcript)
	}

	src, err := s.sources.Create(ctx, userID, title, rawURL, kind)
	if err != nil {
		return nil, err
	}

	count, err := s.knowledge.IngestTranscript(ctx, userID, src.ID, string(kind), rawURL, result.Transcript)
	if err != nil {
		// Roll the source back so a retry is not rejected as a duplicate.
		if delErr := s.sources.Delete(ctx, userID, src.ID); delErr != nil {
			log.Printf("ingest: rollback source %s: %v", src.ID, delErr)
		}
		return nil, err
	}

	if !cached {
		s.cache.set(ctx, rawURL, result)
	}

	return &Outcome{
		SourceID:   src.ID,
		Title:      title,
		Transcript: result.Transcript,
		Summary:    result.Summary,
		Quality:    result.Quality,
		ChunkCount: count,
		Attempts:   attempts,
		Cached:     cached,
	}, nil
}

// summarize is best effort: an unreachable model downgrades the response to
// transcript-only instead of failing an ingestion whose content is already
// stored.
func (s *Service) summarize(ctx context.Context, transcript string) string {
	summary, err := s.summaries.Summarize(ctx, transcript)
	if err != nil {
		log.Printf("ingest: summary skipped: %v", err)
		return ""
	}
	return summary
}

// IngestUpload transcribes an uploaded audio file and stores it as a source.
func (s *Service) IngestUpload(ctx context.Context, userID, filename string, audio io.Reader) (*Outcome, error) {
	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer s.releaseSlot()

	tmp, err := os.CreateTemp("", "audigest-upload-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("ingest: create temp upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, audio); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("ingest: spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	originURL := "upload://" + uuid.NewString()
	archived := false
	if s.uploads != nil {
		if archivedURL, archiveErr := s.uploads.ArchiveAudio(ctx, userID, tmpPath, filename); archiveErr != nil {
			log.Printf("ingest: archive upload %s: %v", filename, archiveErr)
		} else {
			originURL = archivedURL
			archived = true
		}
	}
	// Drop the archived object when the ingestion does not complete, so the
	// bucket only holds audio that backs a stored source.
	discardArchive := func() {
		if !archived {
			return
		}
		if removeErr := s.uploads.Remove(ctx, originURL); removeErr != nil {
			log.Printf("ingest: discard archived upload %s: %v", originURL, removeErr)
		}
	}

	transcript, err := s.transcriber.Transcribe(ctx, tmpPath)
	if err != nil {
		discardArchive()
		return nil, err
	}

	summary := s.summarize(ctx, transcript)

	title := strings.TrimSpace(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	if title == "" {
		title = "Uploaded audio"
	}

	src, err := s.sources.Create(ctx, userID, title, originURL, sources.KindUpload)
	if err != nil {
		discardArchive()
		return nil, err
	}

	count, err := s.knowledge.IngestTranscript(ctx, userID, src.ID, string(sources.KindUpload), originURL, transcript)
	if err != nil {
		if delErr := s.sources.Delete(ctx, userID, src.ID); delErr != nil {
			log.Printf("ingest: rollback source %s: %v", src.ID, delErr)
		}
		discardArchive()
		return nil, err
	}

	return &Outcome{
		SourceID:   src.ID,
		Title:      title,
		Transcript: transcript,
		Summary:    summary,
		Quality:    qualityWhisper,
		ChunkCount: count,
	}, nil
}

// videoStrategies builds the ordered chain for a video source: existing
// captions first, then audio downloads of decreasing selectivity feeding
// speech-to-text.
func (s *Service) videoStrategies(rawURL string) []Strategy {
	strategies := []Strategy{{
		Name: "captions",
		Attempt: func(ctx context.Context) (*Result, error) {
			return s.captions.Fetch(ctx, rawURL)
		},
	}}

	strategies = append(strategies, Strategy{
		Name: "audio-primary",
		Attempt: func(ctx context.Context) (*Result, error) {
			formats, err := s.downloader.Probe(ctx, rawURL)
			if err != nil {
				log.Printf("ingest: format probe failed, downloading blind: %v", err)
			}
			return s.downloadAndTranscribe(ctx, rawURL, primaryConfig(formats))
		},
	})

	for _, cfg := range downloadConfigs {
		cfg := cfg
		strategies = append(strategies, Strategy{
			Name: cfg.Name,
			Attempt: func(ctx context.Context) (*Result, error) {
				return s.downloadAndTranscribe(ctx, rawURL, cfg)
			},
		})
	}
	return strategies
}

// podcastStrategies builds the ordered chain for a podcast episode: the
// transcript index first, the syndication feed second.
func (s *Service) podcastStrategies(rawURL string) []Strategy {
	return []Strategy{
		{
			Name: "transcript-scrape",
			Attempt: func(ctx context.Context) (*Result, error) {
				info, err := s.scraper.EpisodeInfo(ctx, rawURL)
				if err != nil {
					return nil, err
				}
				return s.scraper.FetchTranscript(ctx, info)
			},
		},
		{
			Name: "rss-feed",
			Attempt: func(ctx context.Context) (*Result, error) {
				return s.ingestFromFeed(ctx, rawURL)
			},
		},
	}
}

// downloadAndTranscribe runs one download config and feeds the audio to
// speech-to-text. The temporary audio file is removed on every exit path.
func (s *Service) downloadAndTranscribe(ctx context.Context, rawURL string, cfg DownloadConfig) (*Result, error) {
	audioPath, title, err := s.downloader.Download(ctx, rawURL, cfg)
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	transcript, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return &Result{Transcript: transcript, Title: title, Quality: qualityWhisper}, nil
}

// ingestFromFeed resolves the podcast's feed, matches the episode, and
// prefers an embedded transcript enclosure over downloading audio.
func (s *Service) ingestFromFeed(ctx context.Context, rawURL string) (*Result, error) {
	title, err := s.episodeTitle(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feedURL, err := s.feeds.ResolveFeedURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	episode, err := s.feeds.FindEpisode(ctx, feedURL, title)
	if err != nil {
		return nil, err
	}

	if episode.TranscriptURL != "" {
		transcript, txErr := s.feeds.FetchTranscriptEnclosure(ctx, episode.TranscriptURL)
		if txErr == nil {
			return &Result{
				Transcript: transcript,
				Title:      episode.EpisodeTitle,
				Quality:    qualityTranscriptFeed,
			}, nil
		}
		log.Printf("ingest: transcript enclosure failed, trying audio: %v", txErr)
	}

	if episode.AudioURL == "" {
		return nil, errNoAudioEnclosure
	}

	audioPath, err := fetchAudioFile(ctx, s.httpClient, episode.AudioURL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(audioPath)

	transcript, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	return &Result{
		Transcript: transcript,
		Title:      episode.EpisodeTitle,
		Quality:    qualityWhisper,
	}, nil
}

// episodeTitle prefers the structured metadata title and falls back to the
// Open Graph tag.
func (s *Service) episodeTitle(ctx context.Context, rawURL string) (string, error) {
	if info, err := s.scraper.EpisodeInfo(ctx, rawURL); err == nil {
		return info.EpisodeTitle, nil
	}
	return s.scraper.EpisodeTitle(ctx, rawURL)
}
