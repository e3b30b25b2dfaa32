package player

import (
	"sync"
)

// Snapshot is an immutable copy of the store contents handed to observers.
type Snapshot struct {
	QueueIDs []string `json:"queueIds"`
	ActiveID string   `json:"activeId,omitempty"`
}

// Store holds the ordered playback queue and the currently active track id.
// It is the single source of truth for "what is playing" within one session.
// Mutations are wholesale: the queue and the active id are each replaced in
// full, never patched. The store deliberately does not validate that the
// active id is a member of the queue; a dangling active id is displayable but
// not advanceable (navigation treats it like a boundary and wraps).
type Store struct {
	mutex     sync.RWMutex
	queueIDs  []string
	activeID  string
	listeners []chan Snapshot
}

// NewStore creates an empty store: no queue, no active track.
func NewStore() *Store {
	return &Store{
		listeners: make([]chan Snapshot, 0),
	}
}

// SetActiveTrack sets the active track id unconditionally. Membership in the
// queue is not checked.
func (s *Store) SetActiveTrack(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.activeID = id
	s.notifyListeners()
}

// SetQueue replaces the queue wholesale with the given ordered ids. The
// active track id is left untouched. The input slice is copied so later
// caller mutations cannot leak into the store.
func (s *Store) SetQueue(ids []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.queueIDs = append([]string(nil), ids...)
	s.notifyListeners()
}

// Reset clears the queue and the active track. Used on logout and on
// terminal playback errors.
func (s *Store) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.queueIDs = nil
	s.activeID = ""
	s.notifyListeners()
}

// Snapshot returns a copy of the current store contents (thread-safe).
func (s *Store) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return Snapshot{
		QueueIDs: append([]string(nil), s.queueIDs...),
		ActiveID: s.activeID,
	}
}

// ActiveID returns the current active track id ("" when absent).
func (s *Store) ActiveID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.activeID
}

// Subscribe adds a listener for store changes
func (s *Store) Subscribe() <-chan Snapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ch := make(chan Snapshot, 10) // Buffered channel to prevent blocking
	s.listeners = append(s.listeners, ch)
	return ch
}

// Unsubscribe removes a listener (call this when done to prevent memory leaks)
func (s *Store) Unsubscribe(ch <-chan Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			break
		}
	}
}

// notifyListeners sends snapshots to all subscribers (must be called with lock held)
func (s *Store) notifyListeners() {
	snapshot := Snapshot{
		QueueIDs: append([]string(nil), s.queueIDs...),
		ActiveID: s.activeID,
	}
	for i := 0; i < len(s.listeners); i++ {
		select {
		case s.listeners[i] <- snapshot:
			// Successfully sent
		default:
			// Channel is full or closed, remove it
			close(s.listeners[i])
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			i--
		}
	}
}
