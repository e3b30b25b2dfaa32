package player

// Queue navigation over the store. The algorithm is a linear first-match scan
// of the active id: with duplicate ids in the queue the first occurrence
// governs navigation.

// NextID returns the id following active in the queue. When active is the
// last element or is not present, navigation wraps to index 0. Returns false
// when the queue is empty (no-op for callers).
func NextID(queue []string, active string) (string, bool) {
	if len(queue) == 0 {
		return "", false
	}

	idx := indexOf(queue, active)
	if idx == -1 || idx == len(queue)-1 {
		return queue[0], true
	}
	return queue[idx+1], true
}

// PreviousID returns the id preceding active in the queue. When active is the
// first element or is not present, navigation wraps to the last element.
// Returns false when the queue is empty.
func PreviousID(queue []string, active string) (string, bool) {
	if len(queue) == 0 {
		return "", false
	}

	idx := indexOf(queue, active)
	if idx <= 0 {
		return queue[len(queue)-1], true
	}
	return queue[idx-1], true
}

// Advance moves the store's active track to the next queue entry and returns
// it. The store is untouched when the queue is empty.
func (s *Store) Advance() (string, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next, ok := NextID(s.queueIDs, s.activeID)
	if !ok {
		return "", false
	}
	s.activeID = next
	s.notifyListeners()
	return next, true
}

// Rewind moves the store's active track to the previous queue entry and
// returns it. The store is untouched when the queue is empty.
func (s *Store) Rewind() (string, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, ok := PreviousID(s.queueIDs, s.activeID)
	if !ok {
		return "", false
	}
	s.activeID = prev
	s.notifyListeners()
	return prev, true
}

// indexOf returns the first index of id in queue, or -1.
func indexOf(queue []string, id string) int {
	if id == "" {
		return -1
	}
	for i, candidate := range queue {
		if candidate == id {
			return i
		}
	}
	return -1
}
