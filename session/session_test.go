package session

import (
	"net"
	"testing"
	"time"

	"github.com/wfunc/coursesync/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{})

	manager.Add(sess)
	if manager.Len() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Len())
	}

	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	manager.Remove(sessionID)
	if manager.Len() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Len())
	}

	_, exists = manager.Get(sessionID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestSession_Join(t *testing.T) {
	sess := NewSession("p1", &MockConnection{})
	sess.Join("lobby", "alice", "#ff0000")

	if sess.RoomID != "lobby" {
		t.Errorf("Expected room lobby, got %q", sess.RoomID)
	}
	if sess.JoinedAt.IsZero() {
		t.Error("JoinedAt should be set")
	}
	info := sess.Info()
	if info.ID != "p1" || info.Name != "alice" || info.Color != "#ff0000" {
		t.Errorf("Unexpected info %+v", info)
	}
}

func TestSession_States(t *testing.T) {
	sess := NewSession("p1", &MockConnection{})
	value := []byte{1, 2}
	sess.SetState("player", value)
	sess.SetState("avatar", []byte{3})
	value[0] = 9

	got, ok := sess.State("player")
	if !ok || got[0] != 1 {
		t.Fatalf("SetState should store a copy, got %v", got)
	}
	if _, ok := sess.State("missing"); ok {
		t.Error("State should report a missing key")
	}

	states := sess.States()
	if len(states) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(states))
	}
	if states[0].Key != "avatar" || states[1].Key != "player" {
		t.Errorf("States should be sorted by key, got %s, %s", states[0].Key, states[1].Key)
	}
	for _, s := range states {
		if s.Peer != "p1" {
			t.Errorf("State entry should carry the session id, got %q", s.Peer)
		}
	}
}

func TestSession_Send(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("p1", conn)
	before := sess.LastActive
	time.Sleep(time.Millisecond)

	if err := sess.Send(network.MsgTypeRoster, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(conn.sent) != 1 || conn.sent[0] != network.MsgTypeRoster {
		t.Errorf("Unexpected sent frames %v", conn.sent)
	}
	if !sess.LastActive.After(before) {
		t.Error("Send should refresh LastActive")
	}
}

func TestSession_Leave(t *testing.T) {
	sess := NewSession("p1", &MockConnection{})
	sess.Join("lobby", "alice", "")
	sess.SetState("player", []byte{1})

	sess.Leave()
	if sess.RoomID != "" {
		t.Errorf("Leave should clear the room, got %q", sess.RoomID)
	}
	if len(sess.States()) != 0 {
		t.Error("Leave should drop published state")
	}
}
