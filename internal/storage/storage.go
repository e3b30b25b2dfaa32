package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Bucket names. Songs hold the audio objects, images the cover art.
const (
	BucketSongs  = "songs"
	BucketImages = "images"
)

// Store provides object storage for audio and image files. Objects live on
// local disk under root/<bucket>/<key> and are addressed by bucket + key; the
// public URL scheme mirrors the HTTP routes that serve them.
type Store struct {
	root    string
	baseURL string
	logger  *logrus.Logger
}

// NewStore creates the store and ensures both buckets exist. baseURL is the
// site URL public object URLs are built from.
func NewStore(root, baseURL string) (*Store, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	for _, bucket := range []string{BucketSongs, BucketImages} {
		if err := os.MkdirAll(filepath.Join(root, bucket), 0755); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Store{
		root:    root,
		baseURL: baseURL,
		logger:  logger,
	}, nil
}

// Upload writes an object into a bucket. The key is sanitized to its base
// name to prevent path traversal; an existing object with the same key is an
// error (keys carry a unique id, collisions indicate a caller bug).
func (s *Store) Upload(bucket, key string, r io.Reader) error {
	key = sanitizeKey(key)
	if key == "" {
		return fmt.Errorf("empty object key")
	}

	destPath := filepath.Join(s.root, bucket, key)
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("object %s/%s already exists", bucket, key)
	}

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create object %s/%s: %w", bucket, key, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, r); err != nil {
		os.Remove(destPath) // Clean up on error
		return fmt.Errorf("failed to write object %s/%s: %w", bucket, key, err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	}).Debug("Object stored")
	return nil
}

// Open opens an object for reading. Callers must close the returned file.
func (s *Store) Open(bucket, key string) (*os.File, error) {
	key = sanitizeKey(key)
	file, err := os.Open(filepath.Join(s.root, bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s/%s: %w", bucket, key, err)
	}
	return file, nil
}

// Remove deletes an object. Removing a missing object is not an error.
func (s *Store) Remove(bucket, key string) error {
	key = sanitizeKey(key)
	err := os.Remove(filepath.Join(s.root, bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PublicURL resolves the public URL for an object key. An empty key resolves
// to an empty URL: the player treats that as an unresolvable source.
func (s *Store) PublicURL(bucket, key string) string {
	key = sanitizeKey(key)
	if key == "" {
		return ""
	}
	return s.baseURL + "storage/" + bucket + "/" + key
}

// ObjectPath returns the on-disk path for an object key.
func (s *Store) ObjectPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, sanitizeKey(key))
}

// BucketDir returns the on-disk directory of a bucket (used by the watcher).
func (s *Store) BucketDir(bucket string) string {
	return filepath.Join(s.root, bucket)
}

// KeyFromPath maps an on-disk path inside a bucket back to its object key.
// Returns false for paths outside the bucket.
func (s *Store) KeyFromPath(bucket, path string) (string, bool) {
	rel, err := filepath.Rel(filepath.Join(s.root, bucket), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return rel, true
}

// sanitizeKey strips any directory component from an object key.
func sanitizeKey(key string) string {
	if key == "" {
		return ""
	}
	key = filepath.Base(key)
	if key == "." || key == "/" {
		return ""
	}
	return key
}
