package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"harmonia/internal/playback"
	"harmonia/internal/player"
	"harmonia/internal/storage"
)

// handlePlay admits or denies a play request. Admission requires an
// authenticated caller with an active subscription; denials answer with the
// matching prompt status and leave playback untouched.
func (ms *MusicServer) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		TrackID  string   `json:"trackId"`
		QueueIDs []string `json:"queueIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.TrackID == "" {
		ms.respondWithError(w, r, http.StatusBadRequest, "trackId is required", nil)
		return
	}

	authSession := ms.optionalSession(r)
	ent, err := ms.entitlementFor(authSession)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Failed to check subscription", err)
		return
	}

	// Denied requests never reach a real session store; the scratch store
	// keeps the gate's contract uniform for anonymous callers.
	store := player.NewStore()
	var playerSession *player.Session
	if authSession != nil {
		playerSession = ms.playerManager.Get(authSession.ID)
		store = playerSession.Store()
	}

	decision := ms.gateFor(w).Play(store, ent, req.TrackID, req.QueueIDs)
	if decision != playback.Admitted {
		return // prompt already written
	}

	token := playerSession.BeginLoading()
	ms.resolveSource(playerSession, req.TrackID, token)

	ms.respondJSON(w, playerSession.Snapshot())
}

// handlePlayerState returns the caller's playback session snapshot.
func (ms *MusicServer) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	playerSession := ms.playerManager.Get(sessionFromContext(r).ID)
	ms.respondJSON(w, playerSession.Snapshot())
}

// handleTogglePlay flips between playing and paused.
func (ms *MusicServer) handleTogglePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	playerSession := ms.playerManager.Get(sessionFromContext(r).ID)
	playerSession.TogglePlay()
	ms.respondJSON(w, playerSession.Snapshot())
}

// handleNextTrack advances to the next queue entry (wrapping) and reloads.
func (ms *MusicServer) handleNextTrack(w http.ResponseWriter, r *http.Request) {
	ms.handleQueueNavigation(w, r, true)
}

// handlePreviousTrack moves to the preceding queue entry (wrapping) and
// reloads.
func (ms *MusicServer) handlePreviousTrack(w http.ResponseWriter, r *http.Request) {
	ms.handleQueueNavigation(w, r, false)
}

func (ms *MusicServer) handleQueueNavigation(w http.ResponseWriter, r *http.Request, forward bool) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	playerSession := ms.playerManager.Get(sessionFromContext(r).ID)

	var nextID string
	var moved bool
	if forward {
		nextID, moved = playerSession.Store().Advance()
	} else {
		nextID, moved = playerSession.Store().Rewind()
	}

	if moved {
		token := playerSession.BeginLoading()
		ms.resolveSource(playerSession, nextID, token)
	}

	ms.respondJSON(w, playerSession.Snapshot())
}

// handleTrackEnded handles natural end of the active track.
func (ms *MusicServer) handleTrackEnded(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	playerSession := ms.playerManager.Get(sessionFromContext(r).ID)
	if next, token, ok := playerSession.TrackEnded(); ok {
		ms.resolveSource(playerSession, next, token)
	}

	ms.respondJSON(w, playerSession.Snapshot())
}

// handleSetVolume updates volume and mute state.
func (ms *MusicServer) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req struct {
		Volume float64 `json:"volume"`
		Muted  bool    `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ms.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	playerSession := ms.playerManager.Get(sessionFromContext(r).ID)
	playerSession.SetVolume(req.Volume, req.Muted)
	ms.respondJSON(w, playerSession.Snapshot())
}

// resolveSource resolves the audio URL for a track and commits it under the
// given load token. A missing catalog row is terminal (queue cleared); a row
// without an audio object collapses to idle but keeps the queue.
func (ms *MusicServer) resolveSource(playerSession *player.Session, trackID string, token uint64) {
	if url, ok := ms.urlCache.GetURL(trackID); ok {
		playerSession.SourceResolved(token, url)
		return
	}

	song, err := ms.db.GetSongByID(trackID)
	if err != nil {
		ms.logger.WithError(err).WithField("track_id", trackID).Warn("Track vanished during load")
		playerSession.SourceUnavailable(token, true)
		return
	}

	url := ms.store.PublicURL(storage.BucketSongs, song.SongPath)
	if url == "" {
		ms.logger.WithField("track_id", trackID).Warn("Track has no audio object")
		playerSession.SourceResolved(token, "")
		return
	}

	ms.urlCache.SetURL(trackID, url)
	if playerSession.SourceResolved(token, url) {
		ms.logger.WithFields(logrus.Fields{
			"track_id": trackID,
			"title":    song.Title,
			"author":   song.Author,
		}).Debug("Now playing")
	}
}
