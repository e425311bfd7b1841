// room/room.go
package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/coursesync/network"
	"github.com/wfunc/coursesync/session"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyJoined = errors.New("session already in room")
)

// Room is a relay room: its sessions in join order and the shared map.
type Room struct {
	ID        string
	MaxPeers  int
	CreatedAt time.Time
	peers     []*session.Session // join order, first is host
	shared    map[string]network.SharedEntry
	sender    Sender
	mutex     sync.RWMutex
}

// NewRoom creates an empty room.
func NewRoom(id string, maxPeers int, sender Sender) *Room {
	return &Room{
		ID:        id,
		MaxPeers:  maxPeers,
		CreatedAt: time.Now(),
		shared:    make(map[string]network.SharedEntry),
		sender:    sender,
	}
}

func (r *Room) GetID() string {
	return r.ID
}

// AddPeer appends s to the join order.
func (r *Room) AddPeer(s *session.Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, p := range r.peers {
		if p.ID == s.ID {
			return ErrAlreadyJoined
		}
	}
	if r.MaxPeers > 0 && len(r.peers) >= r.MaxPeers {
		return ErrRoomFull
	}
	r.peers = append(r.peers, s)
	return nil
}

// RemovePeer removes the session and reports whether it was present.
func (r *Room) RemovePeer(sessionID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, p := range r.peers {
		if p.ID == sessionID {
			r.peers = append(r.peers[:i:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) GetPeer(sessionID string) (*session.Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, p := range r.peers {
		if p.ID == sessionID {
			return p, true
		}
	}
	return nil, false
}

// GetSessions returns the sessions in join order (thread-safe).
func (r *Room) GetSessions() []*session.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]*session.Session(nil), r.peers...)
}

func (r *Room) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.peers)
}

// Host is the earliest joined session still connected, or "" when empty.
func (r *Room) Host() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if len(r.peers) == 0 {
		return ""
	}
	return r.peers[0].ID
}

// ApplyShared stores e when it is newer than the current entry for its key.
// Entries are ordered by stamp, then writer id.
func (r *Room) ApplyShared(e network.SharedEntry) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cur, ok := r.shared[e.Key]; ok && !newer(e, cur) {
		return false
	}
	e.Value = append([]byte(nil), e.Value...)
	r.shared[e.Key] = e
	return true
}

func newer(a, b network.SharedEntry) bool {
	if a.Stamp != b.Stamp {
		return a.Stamp > b.Stamp
	}
	return a.Writer > b.Writer
}

// Shared returns the stored entries sorted by key.
func (r *Room) Shared() []network.SharedEntry {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]network.SharedEntry, 0, len(r.shared))
	for _, e := range r.shared {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Roster lists the peers in join order.
func (r *Room) Roster() network.Roster {
	sessions := r.GetSessions()
	roster := network.Roster{Peers: make([]network.PeerInfo, 0, len(sessions))}
	for _, s := range sessions {
		roster.Peers = append(roster.Peers, s.Info())
	}
	if len(sessions) > 0 {
		roster.Host = sessions[0].ID
	}
	return roster
}

// Welcome is the snapshot sent to a newly joined session.
func (r *Room) Welcome(self string) network.Welcome {
	roster := r.Roster()
	w := network.Welcome{
		Self:   self,
		Host:   roster.Host,
		Peers:  roster.Peers,
		Shared: r.Shared(),
	}
	for _, s := range r.GetSessions() {
		if s.ID == self {
			continue
		}
		w.States = append(w.States, s.States()...)
	}
	return w
}

// Broadcast sends a message to all peers in the room.
func (r *Room) Broadcast(msgID uint16, data []byte) error {
	return r.sender.BroadcastToRoom(r.ID, msgID, data)
}

// BroadcastRoster sends the current roster to everyone.
func (r *Room) BroadcastRoster() error {
	data, err := network.Encode(r.Roster())
	if err != nil {
		return err
	}
	return r.Broadcast(network.MsgTypeRoster, data)
}

// Manager holds every live room.
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room, creating it if needed.
func (m *Manager) GetOrCreate(id string, maxPeers int, sender Sender) *Room {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if room, exists := m.rooms[id]; exists {
		return room
	}
	room := NewRoom(id, maxPeers, sender)
	m.rooms[id] = room
	return room
}

// Join adds s to room id, creating it if needed. It holds the manager lock
// so a concurrent RemoveIfEmpty cannot drop the room in between.
func (m *Manager) Join(id string, maxPeers int, sender Sender, s *session.Session) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[id]
	if !exists {
		room = NewRoom(id, maxPeers, sender)
	}
	if err := room.AddPeer(s); err != nil {
		return nil, err
	}
	m.rooms[id] = room
	return room, nil
}

func (m *Manager) RemoveRoom(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rooms, id)
}

// RemoveIfEmpty drops the room when no peers are left in it.
func (m *Manager) RemoveIfEmpty(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, exists := m.rooms[id]
	if !exists || room.Len() > 0 {
		return false
	}
	delete(m.rooms, id)
	return true
}

func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// Rooms returns all rooms sorted by id.
func (m *Manager) Rooms() []*Room {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}
