package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxUploadBytes int64 = 500 * 1024 * 1024

// UploadStorage archives user-uploaded audio files in MinIO/S3 so the
// original media survives after the temporary transcription copy is removed.
type UploadStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewUploadStorageFromEnv initialises UploadStorage using MINIO_* environment
// variables. It returns (nil, nil) when MinIO is not configured; archival is
// optional.
func NewUploadStorageFromEnv() (*UploadStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &UploadStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// ArchiveAudio stores a local audio file under uploads/<userID>/<uuid>.<ext>
// and returns the object's public URL.
func (s *UploadStorage) ArchiveAudio(ctx context.Context, userID, localPath, originalName string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("upload storage not configured")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	if info.Size() > maxUploadBytes {
		return "", fmt.Errorf("upload size exceeds %d bytes", maxUploadBytes)
	}

	contentType := audioContentType(originalName)
	objectName := path.Join("uploads", strings.Trim(userID, "/"), uuid.NewString()+audioExtension(originalName))

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := s.client.FPutObject(uploadCtx, s.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("archive upload: %w", err)
	}

	return s.buildPublicURL(objectName), nil
}

// Remove deletes an archived object by its public URL. Missing objects are
// not an error.
func (s *UploadStorage) Remove(ctx context.Context, objectURL string) error {
	if s == nil || s.client == nil {
		return nil
	}

	trimmed := strings.TrimSpace(objectURL)
	base := s.publicURL + "/" + s.bucket + "/"
	if !strings.HasPrefix(trimmed, base) {
		return nil
	}
	objectName := strings.TrimPrefix(trimmed, base)
	if objectName == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

func (s *UploadStorage) buildPublicURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, strings.TrimPrefix(objectName, "/"))
}

func audioContentType(filename string) string {
	switch strings.ToLower(strings.TrimSpace(filepath.Ext(filename))) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

func audioExtension(filename string) string {
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ".mp3"
	}
	return ext
}
