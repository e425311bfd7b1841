package room

// Sender delivers a frame to every peer of a room. Rooms use it for roster
// updates; broadcast.RoomBroadcaster is the relay's implementation, which
// lives outside this package because it looks rooms up through a Manager.
type Sender interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
}
