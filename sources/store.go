package sources

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateSource is returned when a user ingests the same URL twice.
var ErrDuplicateSource = errors.New("sources: source already exists for this user")

// ErrNotFound is returned when a source id does not exist for the user.
var ErrNotFound = errors.New("sources: source not found")

// Store persists Source rows. It is safe for concurrent use by different
// users; concurrent ingestion of the same (user, URL) resolves through the
// unique index.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sources: database connection is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Source{})
}

// Create inserts a new source row with a generated id. A (user, URL) repeat
// fails with ErrDuplicateSource rather than silently merging.
func (s *Store) Create(ctx context.Context, userID, title, rawURL string, kind Kind) (*Source, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("sources: user id is required")
	}
	trimmedURL := strings.TrimSpace(rawURL)
	if trimmedURL == "" {
		return nil, errors.New("sources: url is required")
	}
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		trimmedTitle = "Untitled"
	}

	src := Source{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  trimmedTitle,
		URL:    trimmedURL,
		Kind:   kind,
	}
	if err := s.db.WithContext(ctx).Create(&src).Error; err != nil {
		if isDuplicateErr(err) {
			return nil, ErrDuplicateSource
		}
		return nil, err
	}
	return &src, nil
}

// ListByUser returns the user's sources, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Source, error) {
	var rows []Source
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Get fetches one source scoped to the owning user.
func (s *Store) Get(ctx context.Context, userID, sourceID string) (*Source, error) {
	var src Source
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sourceID, userID).
		Take(&src).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// GetTitles resolves source ids to titles in one query. Ids that do not exist
// are simply absent from the result map.
func (s *Store) GetTitles(ctx context.Context, userID string, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	var rows []Source
	if err := s.db.WithContext(ctx).
		Select("id", "title").
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		titles[row.ID] = row.Title
	}
	return titles, nil
}

// Delete removes the source row. Chunk cleanup in the vector store is driven
// by the caller so the two deletions stay visible in one place.
func (s *Store) Delete(ctx context.Context, userID, sourceID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sourceID, userID).
		Delete(&Source{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}
