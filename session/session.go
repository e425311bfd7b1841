// session/session.go
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/wfunc/coursesync/network"
)

// Session is one connected peer on the relay.
type Session struct {
	ID         string
	Conn       network.Connection
	Name       string
	Color      string
	RoomID     string
	JoinedAt   time.Time
	CreatedAt  time.Time
	LastActive time.Time
	states     map[string][]byte // published by this session only
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		states:     make(map[string][]byte),
	}
}

// Info is the roster entry for this session.
func (s *Session) Info() network.PeerInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return network.PeerInfo{ID: s.ID, Name: s.Name, Color: s.Color}
}

// Join records the profile sent in JoinRoom.
func (s *Session) Join(roomID, name, color string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.RoomID = roomID
	s.Name = name
	s.Color = color
	s.JoinedAt = time.Now()
}

// Leave clears the room and drops the published state.
func (s *Session) Leave() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.RoomID = ""
	s.states = make(map[string][]byte)
}

// SetState stores one key of the peer's own published state.
func (s *Session) SetState(key string, value []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.states[key] = append([]byte(nil), value...)
}

func (s *Session) State(key string) ([]byte, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.states[key]
	return v, ok
}

// States returns the published state sorted by key.
func (s *Session) States() []network.PeerStateEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]network.PeerStateEntry, 0, len(s.states))
	for k, v := range s.states {
		out = append(out, network.PeerStateEntry{Peer: s.ID, Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager indexes live sessions by id.
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
