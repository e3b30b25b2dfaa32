package player

import (
	"sync"
	"time"
)

// PlaybackState is the observable state of a playback session.
type PlaybackState string

const (
	// StateIdle: no active track, or the active track's source could not be
	// resolved. Initial state, and reachable at any time via Reset.
	StateIdle PlaybackState = "idle"
	// StateLoading: an active track is set and its audio source is resolving.
	StateLoading PlaybackState = "loading"
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// Session owns one user's playback: the queue store, the playback state
// machine, and the volume controls. Source resolution is guarded by a
// monotonically increasing token so that only the most recently issued load
// may commit its result; results arriving for stale tokens are discarded.
// This replaces last-assignment-wins with last-issued-request-wins when track
// switches interleave with in-flight resolutions.
type Session struct {
	mutex     sync.Mutex
	store     *Store
	state     PlaybackState
	sourceURL string
	volume    float64
	muted     bool
	token     uint64 // latest issued load token; 0 = none issued
	updatedAt time.Time
}

// SessionSnapshot is the JSON-facing view of a session.
type SessionSnapshot struct {
	State     PlaybackState `json:"state"`
	ActiveID  string        `json:"activeId,omitempty"`
	QueueIDs  []string      `json:"queueIds"`
	SourceURL string        `json:"sourceUrl,omitempty"`
	Volume    float64       `json:"volume"`
	Muted     bool          `json:"muted"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewSession creates an idle session with full volume.
func NewSession() *Session {
	return &Session{
		store:     NewStore(),
		state:     StateIdle,
		volume:    1.0,
		updatedAt: time.Now(),
	}
}

// Store exposes the session's playback state store.
func (s *Session) Store() *Store {
	return s.store
}

// State returns the current playback state (thread-safe).
func (s *Session) State() PlaybackState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Snapshot returns a copy of the full session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := s.store.Snapshot()
	return SessionSnapshot{
		State:     s.state,
		ActiveID:  stored.ActiveID,
		QueueIDs:  stored.QueueIDs,
		SourceURL: s.sourceURL,
		Volume:    s.volume,
		Muted:     s.muted,
		UpdatedAt: s.updatedAt,
	}
}

// BeginLoading transitions to Loading and issues a fresh load token for the
// active track's source resolution. Any token issued earlier becomes stale.
func (s *Session) BeginLoading() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.token++
	s.state = StateLoading
	s.sourceURL = ""
	s.updatedAt = time.Now()
	return s.token
}

// SourceResolved commits a resolved audio URL and starts playback. Returns
// false (no state change) when the token is stale or the URL is empty; an
// empty URL collapses the session to Idle instead, because absence of a
// resolvable source is not an error state to retry from.
func (s *Session) SourceResolved(token uint64, url string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if token != s.token {
		return false
	}
	if url == "" {
		s.state = StateIdle
		s.sourceURL = ""
		s.updatedAt = time.Now()
		return false
	}

	s.state = StatePlaying
	s.sourceURL = url
	s.updatedAt = time.Now()
	return true
}

// SourceUnavailable records a failed resolution for the given token. The
// session collapses to Idle; when terminal is set (neither the track nor its
// audio URL resolved to anything) the queue is cleared as well.
func (s *Session) SourceUnavailable(token uint64, terminal bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if token != s.token {
		return
	}

	s.state = StateIdle
	s.sourceURL = ""
	s.updatedAt = time.Now()
	if terminal {
		s.store.Reset()
	}
}

// TogglePlay flips between Playing and Paused. It is a no-op in Idle and
// Loading.
func (s *Session) TogglePlay() PlaybackState {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.state {
	case StatePlaying:
		s.state = StatePaused
	case StatePaused:
		s.state = StatePlaying
	}
	s.updatedAt = time.Now()
	return s.state
}

// TrackEnded handles natural end of the active track: next() is invoked and
// the new track begins loading. When the queue is exhausted (wrap lands on
// the same track, or there is nothing to play) the session returns to Idle.
// The returned token guards the follow-up source resolution.
func (s *Session) TrackEnded() (next string, token uint64, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != StatePlaying {
		return "", 0, false
	}

	current := s.store.ActiveID()
	next, advanced := s.store.Advance()
	if !advanced || next == current {
		s.state = StateIdle
		s.sourceURL = ""
		s.updatedAt = time.Now()
		return "", 0, false
	}

	s.token++
	s.state = StateLoading
	s.sourceURL = ""
	s.updatedAt = time.Now()
	return next, s.token, true
}

// SetVolume updates volume and mute state.
func (s *Session) SetVolume(volume float64, muted bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	s.volume = volume
	s.muted = muted
	s.updatedAt = time.Now()
}

// Reset returns the session to its initial state: empty queue, no active
// track, Idle. Pending load tokens are invalidated.
func (s *Session) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.token++
	s.state = StateIdle
	s.sourceURL = ""
	s.updatedAt = time.Now()
	s.store.Reset()
}
