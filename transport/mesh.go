package transport

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/wfunc/coursesync/message"
)

// Mesh connects endpoints inside one process. It can drop and reorder
// traffic between peers to exercise the at-most-once contract; loopback
// delivery to the sender itself is never dropped.
type Mesh struct {
	mu      sync.Mutex
	rng     *rand.Rand
	drop    float64
	reorder bool
	order   []*Endpoint
	nextID  int
}

type MeshOption func(*Mesh)

// WithDropRate drops each peer-to-peer delivery with probability p.
func WithDropRate(p float64) MeshOption {
	return func(m *Mesh) { m.drop = p }
}

// WithReordering inserts each delivery at a random position of the
// receiver's inbox.
func WithReordering() MeshOption {
	return func(m *Mesh) { m.reorder = true }
}

// WithSeed makes drops and reordering reproducible.
func WithSeed(seed int64) MeshOption {
	return func(m *Mesh) { m.rng = rand.New(rand.NewSource(seed)) }
}

func NewMesh(opts ...MeshOption) *Mesh {
	m := &Mesh{rng: rand.New(rand.NewSource(1)), nextID: 1}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Endpoint is one peer's Transport on a Mesh.
type Endpoint struct {
	*replica
	mesh *Mesh
}

// Join adds a peer. It receives the newest shared values and published peer
// states known to the mesh, as a late joiner would from the transport.
func (m *Mesh) Join(name, color string) *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := PeerID(fmt.Sprintf("peer-%d", m.nextID))
	m.nextID++
	ep := &Endpoint{replica: newReplica(PeerIdentity{ID: id, Name: name, Color: color}), mesh: m}

	for _, other := range m.order {
		for k, v := range other.sharedSnapshot() {
			ep.applyShared(k, v)
		}
		other.mu.Lock()
		for key, value := range other.states[other.self.ID] {
			ep.states[other.self.ID] = mergeState(ep.states[other.self.ID], key, value)
		}
		other.mu.Unlock()
	}

	m.order = append(m.order, ep)
	return ep
}

func mergeState(dst map[string][]byte, key string, value []byte) map[string][]byte {
	if dst == nil {
		dst = make(map[string][]byte)
	}
	dst[key] = value
	return dst
}

// Leave removes a peer; the others drop its published state.
func (m *Mesh) Leave(id PeerID) {
	m.mu.Lock()
	var rest []*Endpoint
	for _, ep := range m.order {
		if ep.self.ID != id {
			rest = append(rest, ep)
		}
	}
	m.order = rest
	m.mu.Unlock()

	for _, ep := range rest {
		ep.forget(id)
	}
}

// Host is the earliest-joined peer still connected.
func (m *Mesh) Host() PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return ""
	}
	return m.order[0].self.ID
}

func (m *Mesh) roster() []*Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Endpoint, len(m.order))
	copy(out, m.order)
	return out
}

// deliver hands d to the receiver, subject to loss and reordering.
func (m *Mesh) deliver(to *Endpoint, d delivery) {
	m.mu.Lock()
	dropped := m.drop > 0 && m.rng.Float64() < m.drop
	reorder := m.reorder
	m.mu.Unlock()
	if dropped {
		return
	}
	if reorder {
		to.enqueueAt(d, m.intn)
		return
	}
	to.enqueue(d)
}

func (m *Mesh) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (e *Endpoint) Self() PeerIdentity { return e.self }

func (e *Endpoint) Broadcast(ch message.Channel, payload []byte, scope Scope) error {
	if !scope.Valid() {
		return ErrUnknownScope
	}
	peers := e.mesh.roster()
	host := e.mesh.Host()
	d := delivery{kind: deliverBroadcast, from: e.self.ID, channel: ch, payload: clone(payload)}

	for _, p := range peers {
		switch {
		case p == e:
			if scope == ScopeAll || (scope == ScopeHost && host == e.self.ID) {
				e.enqueue(d)
			}
		case scope == ScopeHost && p.self.ID != host:
		default:
			e.mesh.deliver(p, d)
		}
	}
	return nil
}

func (e *Endpoint) Subscribe(ch message.Channel, h Handler) func() {
	return e.subscribe(ch, h)
}

func (e *Endpoint) SharedGet(key string) ([]byte, bool) {
	return e.sharedGet(key)
}

func (e *Endpoint) SharedSet(key string, value []byte, broadcast bool) {
	s := e.writeShared(key, clone(value))
	if !broadcast {
		return
	}
	for _, p := range e.mesh.roster() {
		if p != e {
			e.mesh.deliver(p, delivery{kind: deliverShared, from: e.self.ID, key: key, shared: s})
		}
	}
}

func (e *Endpoint) IsHost() bool {
	return e.mesh.Host() == e.self.ID
}

func (e *Endpoint) ListPeers() []PeerIdentity {
	peers := e.mesh.roster()
	out := make([]PeerIdentity, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.self)
	}
	return out
}

func (e *Endpoint) PeerState(peer PeerID, key string) ([]byte, bool) {
	return e.peerState(peer, key)
}

func (e *Endpoint) SetState(key string, value []byte) {
	value = clone(value)
	e.applyPeerState(e.self.ID, key, value)
	for _, p := range e.mesh.roster() {
		if p != e {
			e.mesh.deliver(p, delivery{kind: deliverPeerState, from: e.self.ID, key: key, payload: value})
		}
	}
}

func (e *Endpoint) Poll() {
	e.poll()
	e.prune(e.ListPeers())
}

func (e *Endpoint) Close() error {
	e.mesh.Leave(e.self.ID)
	return nil
}
