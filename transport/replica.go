package transport

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wfunc/coursesync/message"
)

// Lamport is a logical clock used to order shared-state writes.
type Lamport struct{ v uint64 }

func (l *Lamport) Now() uint64       { return atomic.LoadUint64(&l.v) }
func (l *Lamport) TickLocal() uint64 { return atomic.AddUint64(&l.v, 1) }
func (l *Lamport) TickRemote(remote uint64) uint64 {
	for {
		cur := atomic.LoadUint64(&l.v)
		next := cur + 1
		if remote >= cur {
			next = remote + 1
		}
		if atomic.CompareAndSwapUint64(&l.v, cur, next) {
			return next
		}
	}
}

// Stamped is one last-write-wins shared value.
type Stamped struct {
	Value  []byte
	Stamp  uint64
	Writer PeerID
}

// Newer orders writes by stamp, then writer id.
func (s Stamped) Newer(than Stamped) bool {
	if s.Stamp != than.Stamp {
		return s.Stamp > than.Stamp
	}
	return s.Writer > than.Writer
}

type deliveryKind uint8

const (
	deliverBroadcast deliveryKind = iota
	deliverShared
	deliverPeerState
)

type delivery struct {
	kind    deliveryKind
	from    PeerID
	channel message.Channel
	payload []byte
	key     string
	shared  Stamped
}

// replica is the per-peer view shared by every Transport implementation:
// handlers, the inbound buffer, the shared key/value replica and the copies
// of other peers' published state.
type replica struct {
	mu       sync.Mutex
	self     PeerIdentity
	handlers map[message.Channel]map[int]Handler
	nextID   int
	inbox    []delivery
	shared   map[string]Stamped
	states   map[PeerID]map[string][]byte
	clock    Lamport
}

func newReplica(self PeerIdentity) *replica {
	return &replica{
		self:     self,
		handlers: make(map[message.Channel]map[int]Handler),
		shared:   make(map[string]Stamped),
		states:   make(map[PeerID]map[string][]byte),
	}
}

func (r *replica) subscribe(ch message.Channel, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	if r.handlers[ch] == nil {
		r.handlers[ch] = make(map[int]Handler)
	}
	r.handlers[ch][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[ch], id)
	}
}

func (r *replica) enqueue(d delivery) {
	r.mu.Lock()
	r.inbox = append(r.inbox, d)
	r.mu.Unlock()
}

// enqueueAt inserts d at position i, used to simulate reordering.
func (r *replica) enqueueAt(d delivery, pick func(n int) int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := pick(len(r.inbox) + 1)
	r.inbox = append(r.inbox, delivery{})
	copy(r.inbox[i+1:], r.inbox[i:])
	r.inbox[i] = d
}

func (r *replica) poll() {
	r.mu.Lock()
	pending := r.inbox
	r.inbox = nil
	r.mu.Unlock()

	for _, d := range pending {
		switch d.kind {
		case deliverBroadcast:
			for _, h := range r.handlersFor(d.channel) {
				h(d.from, d.payload)
			}
		case deliverShared:
			r.applyShared(d.key, d.shared)
		case deliverPeerState:
			// only the owner writes its own entry, and it does so directly
			if d.from != r.self.ID {
				r.applyPeerState(d.from, d.key, d.payload)
			}
		}
	}
}

func (r *replica) handlersFor(ch message.Channel) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.handlers[ch]))
	for id := range r.handlers[ch] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.handlers[ch][id])
	}
	return out
}

// writeShared stamps a local write and returns the stamped value.
func (r *replica) writeShared(key string, value []byte) Stamped {
	s := Stamped{Value: value, Stamp: r.clock.TickLocal(), Writer: r.self.ID}
	r.mu.Lock()
	r.shared[key] = s
	r.mu.Unlock()
	return s
}

// applyShared keeps the newer of the current and incoming values.
func (r *replica) applyShared(key string, s Stamped) bool {
	r.clock.TickRemote(s.Stamp)
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.shared[key]; ok && !s.Newer(cur) {
		return false
	}
	r.shared[key] = s
	return true
}

func (r *replica) sharedGet(key string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shared[key]
	return s.Value, ok
}

func (r *replica) sharedSnapshot() map[string]Stamped {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stamped, len(r.shared))
	for k, v := range r.shared {
		out[k] = v
	}
	return out
}

func (r *replica) applyPeerState(peer PeerID, key string, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[peer] == nil {
		r.states[peer] = make(map[string][]byte)
	}
	r.states[peer][key] = value
}

func (r *replica) peerState(peer PeerID, key string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.states[peer][key]
	return v, ok
}

func (r *replica) forget(peer PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, peer)
}

// prune drops published state of peers that are no longer connected.
func (r *replica) prune(connected []PeerIdentity) {
	keep := make(map[PeerID]bool, len(connected))
	for _, p := range connected {
		keep[p.ID] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.states {
		if !keep[id] {
			delete(r.states, id)
		}
	}
}
