package server

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harmonia/internal/storage"
	"harmonia/pkg/models"
)

// bucketWatcher indexes audio files dropped directly into the songs bucket
// directory, so the catalog can be fed over SFTP or a mounted share without
// going through the upload endpoint.
type bucketWatcher struct {
	watcher *fsnotify.Watcher
}

// startBucketWatcher initializes fsnotify monitoring on the songs bucket.
func (ms *MusicServer) startBucketWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ms.watcher = &bucketWatcher{watcher: watcher}

	go ms.watchBucket()

	dir := ms.store.BucketDir(storage.BucketSongs)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	ms.logger.WithField("bucket_dir", dir).Info("Bucket watcher started")
	return nil
}

// watchBucket selects on watcher channels and dispatches events.
func (ms *MusicServer) watchBucket() {
	w := ms.watcher.watcher
	defer w.Close()

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			ms.handleBucketEvent(event)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			ms.logger.WithError(err).Error("Bucket watcher error")
		}
	}
}

// handleBucketEvent applies filtering & delegates creation/removal actions.
func (ms *MusicServer) handleBucketEvent(event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	if !ms.extractor.IsAudioFile(event.Name) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		go func(name string) {
			time.Sleep(500 * time.Millisecond) // Ensure file is fully written
			if _, err := ms.importBucketFile(name); err != nil {
				ms.logger.WithError(err).WithField("file_path", name).Error("Failed to import file")
			}
		}(event.Name)

	case event.Has(fsnotify.Remove):
		go ms.handleRemovedObject(event.Name)
	}
}

// importBucketFile indexes one audio file from the songs bucket if unseen.
// Embedded cover art is copied into the images bucket. Returns true when a
// catalog row was created.
func (ms *MusicServer) importBucketFile(path string) (bool, error) {
	key, ok := ms.store.KeyFromPath(storage.BucketSongs, path)
	if !ok {
		return false, nil
	}

	exists, err := ms.db.SongExistsByPath(key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	info, err := ms.extractor.ExtractFromFile(path)
	if err != nil {
		return false, err
	}

	songID := uuid.New().String()
	imageKey := ""
	if len(info.Picture) > 0 {
		imageKey = songID + info.PictureExt
		if err := ms.store.Upload(storage.BucketImages, imageKey, bytes.NewReader(info.Picture)); err != nil {
			ms.logger.WithError(err).WithField("file_path", path).Warn("Failed to store embedded cover")
			imageKey = ""
		}
	}

	song := models.Song{
		ID:        songID,
		UserID:    "", // bucket imports have no owning user
		Title:     info.Title,
		Author:    info.Author,
		SongPath:  key,
		ImagePath: imageKey,
		Duration:  info.Duration,
		CreatedAt: time.Now(),
	}
	if err := ms.db.InsertSong(song); err != nil {
		return false, err
	}

	ms.songCache.Clear()

	ms.logger.WithFields(logrus.Fields{
		"song_id": songID,
		"title":   info.Title,
		"author":  info.Author,
	}).Info("Indexed song from bucket")
	return true, nil
}

// handleRemovedObject drops catalog rows referencing deleted audio objects.
func (ms *MusicServer) handleRemovedObject(path string) {
	key, ok := ms.store.KeyFromPath(storage.BucketSongs, path)
	if !ok {
		return
	}

	if err := ms.db.RemoveSongByPath(key); err != nil {
		ms.logger.WithError(err).WithField("object_key", key).Error("Error removing song from catalog")
		return
	}

	ms.songCache.Clear()
	ms.urlCache.Clear()
	ms.logger.WithField("object_key", key).Info("Removed song from catalog")
}

// stopBucketWatcher closes the watcher (idempotent).
func (ms *MusicServer) stopBucketWatcher() {
	if ms.watcher != nil && ms.watcher.watcher != nil {
		ms.watcher.watcher.Close()
	}
}
