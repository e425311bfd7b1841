package network

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	MsgTypeHeartbeat = 1
	MsgTypeJoinRoom  = 101
	MsgTypeLeaveRoom = 102
	MsgTypeWelcome   = 103
	MsgTypeRelay     = 201
	MsgTypeSharedSet = 202
	MsgTypePeerState = 203
	MsgTypeRoster    = 301
)

// JoinRoom is the first frame a peer sends after connecting.
type JoinRoom struct {
	Room  string `msgpack:"room"`
	Name  string `msgpack:"name"`
	Color string `msgpack:"color"`
}

type PeerInfo struct {
	ID    string `msgpack:"id"`
	Name  string `msgpack:"name"`
	Color string `msgpack:"color"`
}

type SharedEntry struct {
	Key    string `msgpack:"k"`
	Value  []byte `msgpack:"v"`
	Stamp  uint64 `msgpack:"t"`
	Writer string `msgpack:"w"`
}

type PeerStateEntry struct {
	Peer  string `msgpack:"p"`
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

// Welcome answers JoinRoom with the assigned id and a state snapshot.
type Welcome struct {
	Self   string           `msgpack:"self"`
	Host   string           `msgpack:"host"`
	Peers  []PeerInfo       `msgpack:"peers"`
	Shared []SharedEntry    `msgpack:"shared"`
	States []PeerStateEntry `msgpack:"states"`
}

// Roster is sent to everyone whenever a peer joins or leaves.
type Roster struct {
	Host  string     `msgpack:"host"`
	Peers []PeerInfo `msgpack:"peers"`
}

// Relay carries an application broadcast. From is filled in by the server.
type Relay struct {
	From    string `msgpack:"from"`
	Channel uint16 `msgpack:"ch"`
	Scope   uint8  `msgpack:"scope"`
	Payload []byte `msgpack:"data"`
}

// PeerState publishes one key of the sender's own state. Peer is filled in
// by the server from the sending session.
type PeerState struct {
	Peer  string `msgpack:"p"`
	Key   string `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
