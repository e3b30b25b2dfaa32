package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"harmonia/internal/auth"
	"harmonia/internal/storage"
	"harmonia/pkg/models"
)

// songView is a catalog song with its public URLs and like state resolved.
type songView struct {
	models.Song
	SongURL  string `json:"songUrl"`
	ImageURL string `json:"imageUrl,omitempty"`
	Liked    bool   `json:"liked"`
}

// respondJSON writes v as a JSON response body.
func (ms *MusicServer) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// respondWithError sends a structured error response
func (ms *MusicServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	}

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		ms.logger.WithError(encodeErr).Error("Failed to encode error response")
	}
}

// handleHome serves the main SPA / index file from the configured static dir.
func (ms *MusicServer) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(ms.config.Server.StaticDir, "index.html"))
}

// handleGetSongs returns the catalog, newest first, optionally filtered by a
// title search.
func (ms *MusicServer) handleGetSongs(w http.ResponseWriter, r *http.Request) {
	searchQuery := r.URL.Query().Get("search")
	if vErr := ms.validateSearchQuery(searchQuery); vErr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	cacheKey := "songs:" + searchQuery
	songs, cached := ms.songCache.GetSongs(cacheKey)
	if !cached {
		var err error
		if searchQuery != "" {
			songs, err = ms.db.SearchSongsByTitle(searchQuery)
		} else {
			songs, err = ms.db.GetAllSongs()
		}
		if err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving songs", err)
			return
		}
		ms.songCache.SetSongs(cacheKey, songs)
	}

	ms.respondJSON(w, ms.songViews(songs, ms.optionalSession(r)))
}

// handleGetMySongs returns the songs uploaded by the authenticated user.
func (ms *MusicServer) handleGetMySongs(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)

	songs, err := ms.db.GetSongsByUserID(session.UserID)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving songs", err)
		return
	}

	ms.respondJSON(w, ms.songViews(songs, session))
}

// handleSongByID serves GET /api/songs/{id}.
func (ms *MusicServer) handleSongByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	songID, vErr := ms.validateSongID(strings.Split(r.URL.Path, "/"), 4)
	if vErr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	song, err := ms.db.GetSongByID(songID)
	if err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Song not found", err)
		return
	}

	views := ms.songViews([]models.Song{song}, ms.optionalSession(r))
	ms.respondJSON(w, views[0])
}

// handleGetLikedSongs returns the user's liked songs, most recently liked
// first.
func (ms *MusicServer) handleGetLikedSongs(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)

	songs, err := ms.db.GetLikedSongs(session.UserID)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving liked songs", err)
		return
	}

	views := ms.songViews(songs, nil)
	for i := range views {
		views[i].Liked = true
	}
	ms.respondJSON(w, views)
}

// handleLikeSong serves PUT/DELETE /api/liked/{id}.
func (ms *MusicServer) handleLikeSong(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)

	songID, vErr := ms.validateSongID(strings.Split(r.URL.Path, "/"), 4)
	if vErr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*vErr})
		return
	}

	if _, err := ms.db.GetSongByID(songID); err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Song not found", err)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		if err := ms.db.LikeSong(session.UserID, songID); err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to like song", err)
			return
		}
	case http.MethodDelete:
		if err := ms.db.UnlikeSong(session.UserID, songID); err != nil {
			ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to unlike song", err)
			return
		}
	default:
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	ms.respondJSON(w, map[string]string{"status": "success"})
}

// handleHealthCheck returns basic liveness + dependency checks.
func (ms *MusicServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"database":  "ok",
		"sessions":  ms.playerManager.Len(),
	}

	songs, err := ms.db.GetAllSongs()
	if err != nil {
		health["status"] = "unhealthy"
		health["database"] = "error"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(health)
		return
	}
	health["songs"] = len(songs)

	ms.respondJSON(w, health)
}

// songViews resolves public URLs and like state for a batch of songs.
func (ms *MusicServer) songViews(songs []models.Song, session *auth.Session) []songView {
	views := make([]songView, 0, len(songs))
	for _, song := range songs {
		view := songView{
			Song:     song,
			SongURL:  ms.store.PublicURL(storage.BucketSongs, song.SongPath),
			ImageURL: ms.store.PublicURL(storage.BucketImages, song.ImagePath),
		}
		if session != nil {
			liked, err := ms.db.IsSongLiked(session.UserID, song.ID)
			if err == nil {
				view.Liked = liked
			}
		}
		views = append(views, view)
	}
	return views
}
