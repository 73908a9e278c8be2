// Package alert holds the current hazard text per camera and notifies listeners of changes.
package alert

import (
	"sync"
	"time"
)

// Snapshot is the alert text of one camera at a point in time.
type Snapshot struct {
	Camera    int       `json:"camera"`
	Text      string    `json:"alert"`
	UpdatedAt time.Time `json:"time"`
	Version   uint64    `json:"version"`
}

// Event is published when a camera's alert text changes.
type Event = Snapshot

// Board is a set of overwritable per-camera cells plus the most recent write
// across all cameras. It is safe for concurrent use.
type Board struct {
	mu      sync.RWMutex
	cells   map[int]Snapshot
	latest  Snapshot
	version uint64

	subscribers map[int]chan Event
	nextID      int
	buffer      int
	now         func() time.Time
}

// NewBoard creates an empty board. buffer is the per-subscriber event queue length.
func NewBoard(buffer int) *Board {
	if buffer < 1 {
		buffer = 1
	}
	return &Board{
		cells:       make(map[int]Snapshot),
		subscribers: make(map[int]chan Event),
		buffer:      buffer,
		now:         time.Now,
	}
}

// Set overwrites the alert text of camera. Subscribers hear about it only when
// the text differs from the camera's previous text.
func (b *Board) Set(camera int, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, seen := b.cells[camera]
	b.version++
	snap := Snapshot{
		Camera:    camera,
		Text:      text,
		UpdatedAt: b.now(),
		Version:   b.version,
	}
	b.cells[camera] = snap
	b.latest = snap

	if seen && prev.Text == text {
		return
	}
	if !seen && text == "" {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Clear empties the alert text of camera. Unlike Set it leaves the latest
// write alone unless that write came from camera, so a camera going offline
// does not hide another camera's hazard.
func (b *Board) Clear(camera int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, seen := b.cells[camera]
	if !seen {
		return
	}
	b.version++
	snap := Snapshot{
		Camera:    camera,
		UpdatedAt: b.now(),
		Version:   b.version,
	}
	b.cells[camera] = snap
	if b.latest.Camera == camera {
		b.latest = snap
	}

	if prev.Text == "" {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Latest returns whatever was written last, by any camera.
func (b *Board) Latest() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// ForCamera returns the last write of one camera.
func (b *Board) ForCamera(camera int) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.cells[camera]
	return snap, ok
}

// Subscribe registers a listener for alert changes.
func (b *Board) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Board) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}
