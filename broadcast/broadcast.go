// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/room"
	"github.com/wfunc/coursesync/session"
	"github.com/wfunc/coursesync/transport"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrPeerNotFound = errors.New("peer not found")
)

// Broadcaster routes frames to the peers of a room.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToOthers(roomID, exceptID string, msgID uint16, data []byte) error
	SendToPeer(roomID, peerID string, msgID uint16, data []byte) error
	Route(roomID, from string, scope transport.Scope, msgID uint16, data []byte) error
}

// RoomBroadcaster resolves rooms through a room.Manager.
type RoomBroadcaster struct {
	roomManager *room.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{roomManager: roomManager}
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	return b.BroadcastToOthers(roomID, "", msgID, data)
}

// BroadcastToOthers sends to every session in the room except exceptID.
// A failed send is logged; the read loop of that session cleans it up.
func (b *RoomBroadcaster) BroadcastToOthers(roomID, exceptID string, msgID uint16, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}

	for _, s := range r.GetSessions() {
		if s.ID == exceptID {
			continue
		}
		send(s, msgID, data)
	}
	return nil
}

func (b *RoomBroadcaster) SendToPeer(roomID, peerID string, msgID uint16, data []byte) error {
	r, exists := b.roomManager.GetRoom(roomID)
	if !exists {
		return ErrRoomNotFound
	}
	s, ok := r.GetPeer(peerID)
	if !ok {
		return ErrPeerNotFound
	}
	return s.Send(msgID, data)
}

// Route delivers a frame from a peer according to scope. The sender never
// receives its own frame back; it has already applied it locally.
func (b *RoomBroadcaster) Route(roomID, from string, scope transport.Scope, msgID uint16, data []byte) error {
	switch scope {
	case transport.ScopeAll, transport.ScopeOthers:
		return b.BroadcastToOthers(roomID, from, msgID, data)
	case transport.ScopeHost:
		r, exists := b.roomManager.GetRoom(roomID)
		if !exists {
			return ErrRoomNotFound
		}
		host := r.Host()
		if host == "" || host == from {
			return nil
		}
		return b.SendToPeer(roomID, host, msgID, data)
	default:
		return transport.ErrUnknownScope
	}
}

func send(s *session.Session, msgID uint16, data []byte) {
	if err := s.Send(msgID, data); err != nil {
		logger.Log.Debugf("send %d to %s failed: %v", msgID, s.ID, err)
	}
}
