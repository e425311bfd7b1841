package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/network"
)

const (
	outboxSize        = 256
	heartbeatInterval = 10 * time.Second
)

var ErrOutboxFull = errors.New("relay outbox full, frame dropped")

// Relay is a Transport backed by the websocket relay server. Outbound frames
// go through a bounded queue so a slow socket drops traffic instead of
// stalling the tick.
type Relay struct {
	*replica
	conn network.Connection

	rosterMu sync.RWMutex
	host     PeerID
	peers    []PeerIdentity

	outbox    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

type frame struct {
	msgID uint16
	data  []byte
}

// DialRelay connects to the relay at url and joins a room.
func DialRelay(ctx context.Context, url string, join network.JoinRoom) (*Relay, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	r, err := NewRelay(network.NewWSConnection(conn), join)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// NewRelay performs the join handshake on conn and starts its read and
// write loops.
func NewRelay(conn network.Connection, join network.JoinRoom) (*Relay, error) {
	data, err := network.Encode(join)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(network.MsgTypeJoinRoom, data); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	// frames routed to us between joining and the snapshot are replayed
	// after it; rosters are superseded by the welcome itself
	var (
		welcome network.Welcome
		early   []*network.Packet
	)
	for {
		p, err := conn.ReadPacket()
		if err != nil {
			return nil, fmt.Errorf("await welcome: %w", err)
		}
		if p.MsgID != network.MsgTypeWelcome {
			if p.MsgID != network.MsgTypeRoster && p.MsgID != network.MsgTypeHeartbeat {
				early = append(early, p)
			}
			continue
		}
		if err := network.Decode(p.Data, &welcome); err != nil {
			return nil, err
		}
		break
	}

	r := &Relay{
		conn:   conn,
		outbox: make(chan frame, outboxSize),
		done:   make(chan struct{}),
	}
	var self PeerIdentity
	for _, p := range welcome.Peers {
		if p.ID == welcome.Self {
			self = identity(p)
		}
	}
	if self.ID == "" {
		self = PeerIdentity{ID: PeerID(welcome.Self), Name: join.Name, Color: join.Color}
	}
	r.replica = newReplica(self)
	r.setRoster(welcome.Host, welcome.Peers)
	for _, e := range welcome.Shared {
		r.applyShared(e.Key, Stamped{Value: e.Value, Stamp: e.Stamp, Writer: PeerID(e.Writer)})
	}
	for _, s := range welcome.States {
		r.applyPeerState(PeerID(s.Peer), s.Key, s.Value)
	}
	for _, p := range early {
		if err := r.handlePacket(p); err != nil {
			logger.Log.Warnf("Discarding relay frame %d: %v", p.MsgID, err)
		}
	}

	go r.readLoop()
	go r.writeLoop()
	logger.Log.Infof("Joined room %s as %s (host %s)", join.Room, self.ID, welcome.Host)
	return r, nil
}

func identity(p network.PeerInfo) PeerIdentity {
	return PeerIdentity{ID: PeerID(p.ID), Name: p.Name, Color: p.Color}
}

func (r *Relay) setRoster(host string, peers []network.PeerInfo) {
	list := make([]PeerIdentity, 0, len(peers))
	for _, p := range peers {
		list = append(list, identity(p))
	}
	r.rosterMu.Lock()
	r.host = PeerID(host)
	r.peers = list
	r.rosterMu.Unlock()
}

func (r *Relay) readLoop() {
	defer r.Close()
	for {
		p, err := r.conn.ReadPacket()
		if err != nil {
			select {
			case <-r.done:
			default:
				logger.Log.Warnf("Relay read failed: %v", err)
			}
			return
		}
		if err := r.handlePacket(p); err != nil {
			logger.Log.Warnf("Discarding relay frame %d: %v", p.MsgID, err)
		}
	}
}

func (r *Relay) handlePacket(p *network.Packet) error {
	switch p.MsgID {
	case network.MsgTypeHeartbeat:
	case network.MsgTypeRoster:
		var roster network.Roster
		if err := network.Decode(p.Data, &roster); err != nil {
			return err
		}
		r.setRoster(roster.Host, roster.Peers)
	case network.MsgTypeRelay:
		var msg network.Relay
		if err := network.Decode(p.Data, &msg); err != nil {
			return err
		}
		r.enqueue(delivery{kind: deliverBroadcast, from: PeerID(msg.From), channel: message.Channel(msg.Channel), payload: msg.Payload})
	case network.MsgTypeSharedSet:
		var e network.SharedEntry
		if err := network.Decode(p.Data, &e); err != nil {
			return err
		}
		r.enqueue(delivery{kind: deliverShared, key: e.Key, shared: Stamped{Value: e.Value, Stamp: e.Stamp, Writer: PeerID(e.Writer)}})
	case network.MsgTypePeerState:
		var s network.PeerState
		if err := network.Decode(p.Data, &s); err != nil {
			return err
		}
		r.enqueue(delivery{kind: deliverPeerState, from: PeerID(s.Peer), key: s.Key, payload: s.Value})
	default:
		return fmt.Errorf("unknown message type %d", p.MsgID)
	}
	return nil
}

func (r *Relay) writeLoop() {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.done:
			return
		case f := <-r.outbox:
			if err := r.conn.Send(f.msgID, f.data); err != nil {
				logger.Log.Warnf("Relay send failed: %v", err)
			}
		case <-heartbeat.C:
			if err := r.conn.Send(network.MsgTypeHeartbeat, nil); err != nil {
				logger.Log.Warnf("Relay heartbeat failed: %v", err)
			}
		}
	}
}

func (r *Relay) send(msgID uint16, v any) error {
	select {
	case <-r.done:
		return ErrNotConnected
	default:
	}
	data, err := network.Encode(v)
	if err != nil {
		return err
	}
	select {
	case r.outbox <- frame{msgID: msgID, data: data}:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (r *Relay) Self() PeerIdentity { return r.self }

func (r *Relay) Broadcast(ch message.Channel, payload []byte, scope Scope) error {
	if !scope.Valid() {
		return ErrUnknownScope
	}
	loopback := delivery{kind: deliverBroadcast, from: r.self.ID, channel: ch, payload: payload}
	switch scope {
	case ScopeAll:
		r.enqueue(loopback)
	case ScopeHost:
		if r.IsHost() {
			r.enqueue(loopback)
			return nil
		}
	}
	// the server never echoes a frame back to its sender
	return r.send(network.MsgTypeRelay, network.Relay{Channel: uint16(ch), Scope: uint8(scope), Payload: payload})
}

func (r *Relay) Subscribe(ch message.Channel, h Handler) func() {
	return r.subscribe(ch, h)
}

func (r *Relay) SharedGet(key string) ([]byte, bool) {
	return r.sharedGet(key)
}

func (r *Relay) SharedSet(key string, value []byte, broadcast bool) {
	s := r.writeShared(key, value)
	if !broadcast {
		return
	}
	err := r.send(network.MsgTypeSharedSet, network.SharedEntry{Key: key, Value: s.Value, Stamp: s.Stamp, Writer: string(s.Writer)})
	if err != nil {
		logger.Log.Warnf("Shared write %s not sent: %v", key, err)
	}
}

func (r *Relay) IsHost() bool {
	r.rosterMu.RLock()
	defer r.rosterMu.RUnlock()
	return r.host == r.self.ID
}

func (r *Relay) ListPeers() []PeerIdentity {
	r.rosterMu.RLock()
	defer r.rosterMu.RUnlock()
	out := make([]PeerIdentity, len(r.peers))
	copy(out, r.peers)
	return out
}

func (r *Relay) PeerState(peer PeerID, key string) ([]byte, bool) {
	return r.peerState(peer, key)
}

func (r *Relay) SetState(key string, value []byte) {
	r.applyPeerState(r.self.ID, key, value)
	if err := r.send(network.MsgTypePeerState, network.PeerState{Key: key, Value: value}); err != nil {
		logger.Log.Debugf("Peer state %s not sent: %v", key, err)
	}
}

func (r *Relay) Poll() {
	r.poll()
	r.prune(r.ListPeers())
}

// Done is closed when the connection is lost or closed.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}
