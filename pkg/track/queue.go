package track

import "sync"

// Queue is an ordered FIFO of tracks. It is safe for concurrent use.
type Queue struct {
	mu     sync.RWMutex
	tracks []*Track
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{tracks: make([]*Track, 0)}
}

// Len returns the number of queued tracks
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tracks)
}

// Push appends tracks at the tail
func (q *Queue) Push(tracks ...*Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, tracks...)
}

// Unshift inserts a track at the head
func (q *Queue) Unshift(t *Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append([]*Track{t}, q.tracks...)
}

// Shift removes and returns the head, or nil when empty
func (q *Queue) Shift() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	head := q.tracks[0]
	q.tracks[0] = nil
	q.tracks = q.tracks[1:]
	return head
}

// Drop removes the first n tracks. n larger than the queue empties it.
func (q *Queue) Drop(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(q.tracks) {
		q.tracks = q.tracks[:0]
		return
	}
	q.tracks = append([]*Track(nil), q.tracks[n:]...)
}

// Clear empties the queue
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = make([]*Track, 0)
}

// Tracks returns a copy of the queued tracks
func (q *Queue) Tracks() []*Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}
