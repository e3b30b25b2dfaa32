package server

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"harmonia/internal/storage"
	"harmonia/pkg/models"
)

// handleUploadSong accepts a multipart song upload: title and author fields,
// a required audio file, and an optional cover image. The song lands in the
// songs bucket, the cover in the images bucket, and the catalog row is
// written last so a failed upload never leaves a dangling row.
func (ms *MusicServer) handleUploadSong(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	session := sessionFromContext(r)

	maxSize := ms.config.Storage.MaxUploadSize * 1024 * 1024 // Convert MB to bytes
	if err := r.ParseMultipartForm(maxSize); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Failed to parse upload form", err)
		return
	}

	title := sanitizeInput(r.FormValue("title"))
	author := sanitizeInput(r.FormValue("author"))

	songFile, songHeader, songErr := r.FormFile("song")
	if songErr == nil {
		defer songFile.Close()
	}

	if errs := validateUploadFields(title, author, songErr == nil); len(errs) > 0 {
		ms.respondWithValidationError(w, r, errs)
		return
	}
	for field, value := range map[string]string{"title": title, "author": author} {
		if vErr := validateUploadName(field, value); vErr != nil {
			ms.respondWithValidationError(w, r, []ValidationError{*vErr})
			return
		}
	}

	songExt := strings.ToLower(filepath.Ext(songHeader.Filename))
	if !ms.config.IsFormatSupported(songExt) {
		ms.respondWithError(w, r, http.StatusBadRequest,
			"Invalid file type. Supported formats: "+strings.Join(ms.config.Storage.SupportedFormats, ", "), nil)
		return
	}

	songID := uuid.New().String()
	songKey := songID + songExt

	if err := ms.store.Upload(storage.BucketSongs, songKey, songFile); err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to store audio file", err)
		return
	}

	imageKey := ""
	if imageFile, imageHeader, err := r.FormFile("image"); err == nil {
		defer imageFile.Close()
		imageKey = songID + strings.ToLower(filepath.Ext(imageHeader.Filename))
		if err := ms.store.Upload(storage.BucketImages, imageKey, imageFile); err != nil {
			ms.store.Remove(storage.BucketSongs, songKey)
			ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to store cover image", err)
			return
		}
	}

	// Duration is probed from the stored object; failures degrade to 0.
	duration := 0
	if info, err := ms.extractor.ExtractFromFile(ms.store.ObjectPath(storage.BucketSongs, songKey)); err == nil {
		duration = info.Duration
	}

	song := models.Song{
		ID:        songID,
		UserID:    session.UserID,
		Title:     title,
		Author:    author,
		SongPath:  songKey,
		ImagePath: imageKey,
		Duration:  duration,
		CreatedAt: time.Now(),
	}
	if err := ms.db.InsertSong(song); err != nil {
		ms.store.Remove(storage.BucketSongs, songKey)
		ms.store.Remove(storage.BucketImages, imageKey)
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to save song", err)
		return
	}

	ms.songCache.Clear()

	ms.logger.WithFields(logrus.Fields{
		"user_id": session.UserID,
		"song_id": songID,
		"title":   title,
		"author":  author,
	}).Info("Song uploaded")

	views := ms.songViews([]models.Song{song}, session)
	w.WriteHeader(http.StatusCreated)
	ms.respondJSON(w, views[0])
}
