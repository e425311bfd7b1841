// Package transport is the peer roster, broadcast and shared-state boundary.
// Delivery is unordered and at-most-once; nothing here blocks the caller's
// tick. Inbound traffic is buffered and dispatched by Poll on the caller's
// goroutine.
package transport

import (
	"errors"

	"github.com/wfunc/coursesync/message"
)

type PeerID string

// PeerIdentity is the roster entry of one connected peer.
type PeerIdentity struct {
	ID    PeerID
	Name  string
	Color string
}

// Scope selects the recipients of a broadcast.
type Scope uint8

const (
	ScopeAll Scope = iota
	ScopeOthers
	ScopeHost
)

func (s Scope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeOthers:
		return "others"
	case ScopeHost:
		return "host"
	}
	return "unknown"
}

func (s Scope) Valid() bool {
	return s <= ScopeHost
}

// Handler receives a broadcast payload sent by from.
type Handler func(from PeerID, payload []byte)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrUnknownScope = errors.New("unknown broadcast scope")
)

type Transport interface {
	Self() PeerIdentity
	Broadcast(ch message.Channel, payload []byte, scope Scope) error
	Subscribe(ch message.Channel, h Handler) (unsubscribe func())
	// SharedGet returns the last-write-wins value of key, or false if no
	// write has been seen yet.
	SharedGet(key string) ([]byte, bool)
	// SharedSet writes key. With broadcast false the write stays local
	// until the next broadcast write of the same key.
	SharedSet(key string, value []byte, broadcast bool)
	IsHost() bool
	ListPeers() []PeerIdentity
	// PeerState reads another peer's published value.
	PeerState(peer PeerID, key string) ([]byte, bool)
	// SetState publishes a value under the local peer's own entry. There is
	// no way to write another peer's entry.
	SetState(key string, value []byte)
	// Poll dispatches buffered inbound traffic to handlers.
	Poll()
	Close() error
}
