// Package storage mirrors profile images to local disk or S3-compatible
// object storage so downstream consumers do not hotlink the portal CDN.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImageStore is the surface the API server needs from a mirror backend.
type ImageStore interface {
	// SaveImage stores image bytes under a key derived from the given
	// record key and returns the storage path.
	SaveImage(ctx context.Context, data []byte, key, contentType string) (string, error)
	// ReadImage returns the bytes previously stored at path.
	ReadImage(ctx context.Context, path string) ([]byte, error)
	// DeleteImage removes the object at path.
	DeleteImage(ctx context.Context, path string) error
}

// Config contains filesystem storage configuration.
type Config struct {
	BasePath string // base directory for mirrored files
}

// DefaultConfig returns default filesystem storage configuration.
func DefaultConfig() Config {
	return Config{BasePath: "./storage"}
}

// FSStore stores mirrored images on the local filesystem under
// profiles/YYYY/MM/.
type FSStore struct {
	config Config
}

// New creates a filesystem store, creating the base directory if needed.
func New(config Config) (*FSStore, error) {
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &FSStore{config: config}, nil
}

// SaveImage writes the image under profiles/YYYY/MM/key.ext and returns
// the path relative to the base directory. An existing file for the
// same key is overwritten; a re-resolve supersedes the old mirror.
func (s *FSStore) SaveImage(_ context.Context, data []byte, key, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage key is required")
	}

	relPath := objectKey(key, contentType, time.Now())
	fullPath := filepath.Join(s.config.BasePath, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return relPath, nil
}

// ReadImage reads a previously mirrored image by its relative path.
func (s *FSStore) ReadImage(_ context.Context, path string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid storage path: %s", path)
	}
	data, err := os.ReadFile(filepath.Join(s.config.BasePath, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// DeleteImage removes a mirrored image.
func (s *FSStore) DeleteImage(_ context.Context, path string) error {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid storage path: %s", path)
	}
	if err := os.Remove(filepath.Join(s.config.BasePath, clean)); err != nil {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}

// objectKey lays out mirror paths as profiles/YYYY/MM/key.ext, shared by
// both backends.
func objectKey(key, contentType string, now time.Time) string {
	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("profiles/%04d/%02d/%s%s", now.Year(), int(now.Month()), key, ext)
}

func extensionFromContentType(contentType string) string {
	// Strip parameters like "; charset=..."
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(strings.ToLower(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ""
	}
}
