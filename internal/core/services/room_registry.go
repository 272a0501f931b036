package services

import (
	"sort"
	"sync"

	"medea/internal/core/domain"
)

// RoomRegistry maps room ids to running rooms. Lookups are frequent,
// inserts and removals rare.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID]*Room)}
}

func (r *RoomRegistry) Get(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// Insert fails with ErrRoomAlreadyExists when the id is taken.
func (r *RoomRegistry) Insert(room *Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID()]; ok {
		return domain.NewElementError(domain.ErrRoomAlreadyExists, domain.RoomURI(room.ID()))
	}
	r.rooms[room.ID()] = room
	return nil
}

// Remove drops the room registered under id if it is room, or any room if room is nil.
func (r *RoomRegistry) Remove(id domain.RoomID, room *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rooms[id]
	if !ok || (room != nil && current != room) {
		return false
	}
	delete(r.rooms, id)
	return true
}

// IDs returns the registered room ids in a stable order.
func (r *RoomRegistry) IDs() []domain.RoomID {
	r.mu.RLock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
