package physics

import (
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Gravity is the downward acceleration applied to dynamic bodies.
const Gravity = 9.81

// World integrates bodies and reports axis-aligned overlap begins. It does
// not resolve penetrations.
type World struct {
	bodies    map[BodyID]*body
	nextID    BodyID
	touching  map[[2]BodyID]bool
	listeners map[int]func(Contact)
	nextLis   int
}

func NewWorld() *World {
	return &World{
		bodies:    make(map[BodyID]*body),
		nextID:    1,
		touching:  make(map[[2]BodyID]bool),
		listeners: make(map[int]func(Contact)),
	}
}

type body struct {
	id      BodyID
	tag     Tag
	pose    Pose
	vel     mgl64.Vec3
	mode    BodyMode
	half    mgl64.Vec3
	gravity float64
	next    *Pose
}

func (b *body) ID() BodyID                 { return b.id }
func (b *body) Tag() Tag                   { return b.tag }
func (b *body) Pose() Pose                 { return b.pose }
func (b *body) SetPose(p Pose)             { b.pose = p; b.next = nil }
func (b *body) LinearVelocity() mgl64.Vec3 { return b.vel }
func (b *body) SetLinearVelocity(v mgl64.Vec3) {
	if b.mode == ModeDynamic {
		b.vel = v
	}
}
func (b *body) ApplyImpulse(i mgl64.Vec3) {
	if b.mode == ModeDynamic {
		b.vel = b.vel.Add(i)
	}
}
func (b *body) Mode() BodyMode { return b.mode }
func (b *body) SetBodyMode(mode BodyMode) {
	if mode != ModeDynamic {
		b.vel = mgl64.Vec3{}
	}
	b.mode = mode
	b.next = nil
}
func (b *body) SetNextKinematicPose(p Pose) {
	if b.mode == ModeKinematic {
		b.next = &p
	}
}
func (b *body) SetGravityScale(scale float64) { b.gravity = scale }

func (w *World) CreateBody(desc BodyDesc) Body {
	if desc.Pose.Rotation.Len() == 0 {
		desc.Pose.Rotation = mgl64.QuatIdent()
	}
	b := &body{
		id:      w.nextID,
		tag:     desc.Tag,
		pose:    desc.Pose,
		mode:    desc.Mode,
		half:    desc.HalfExtents,
		gravity: desc.GravityScale,
	}
	w.nextID++
	w.bodies[b.id] = b
	return b
}

func (w *World) RemoveBody(id BodyID) {
	delete(w.bodies, id)
	for pair := range w.touching {
		if pair[0] == id || pair[1] == id {
			delete(w.touching, pair)
		}
	}
}

func (w *World) Body(id BodyID) (Body, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

// Len reports how many bodies exist.
func (w *World) Len() int {
	return len(w.bodies)
}

func (w *World) OnContact(fn func(Contact)) func() {
	id := w.nextLis
	w.nextLis++
	w.listeners[id] = fn
	return func() { delete(w.listeners, id) }
}

// Touch reports a contact between two bodies as if the engine detected it.
// External collision back-ends and tests use it.
func (w *World) Touch(a, b BodyID) {
	ba, okA := w.bodies[a]
	bb, okB := w.bodies[b]
	if !okA || !okB {
		return
	}
	w.emit(Contact{A: ba, B: bb})
}

func (w *World) emit(c Contact) {
	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if fn, ok := w.listeners[id]; ok {
			fn(c)
		}
	}
}

// Step integrates every non-fixed body by dt and emits contacts for pairs
// that started overlapping.
func (w *World) Step(dt time.Duration) {
	sec := dt.Seconds()
	if sec <= 0 {
		return
	}

	for _, b := range w.bodies {
		switch b.mode {
		case ModeDynamic:
			b.vel = b.vel.Add(mgl64.Vec3{0, -Gravity * b.gravity * sec, 0})
			b.pose.Position = b.pose.Position.Add(b.vel.Mul(sec))
		case ModeKinematic:
			if b.next != nil {
				b.vel = b.next.Position.Sub(b.pose.Position).Mul(1 / sec)
				b.pose = *b.next
				b.next = nil
			} else {
				b.vel = mgl64.Vec3{}
			}
		}
	}

	ordered := w.sortedBodies()
	for _, b := range ordered {
		if b.mode == ModeDynamic && b.vel[1] <= 0 {
			w.land(b, ordered, sec)
		}
	}

	var begun []Contact
	for i, a := range ordered {
		for _, b := range ordered[i+1:] {
			if a.mode == ModeFixed && b.mode == ModeFixed {
				continue
			}
			pair := [2]BodyID{a.id, b.id}
			if overlaps(a, b) {
				if !w.touching[pair] {
					w.touching[pair] = true
					begun = append(begun, Contact{A: a, B: b})
				}
			} else {
				delete(w.touching, pair)
			}
		}
	}

	for _, c := range begun {
		// listeners may remove bodies while earlier contacts are delivered
		if _, ok := w.bodies[c.A.ID()]; !ok {
			continue
		}
		if _, ok := w.bodies[c.B.ID()]; !ok {
			continue
		}
		w.emit(c)
	}
}

// land rests a falling dynamic body on top of the first non-dynamic body it
// sank into during this step.
func (w *World) land(b *body, ordered []*body, sec float64) {
	bottom := b.pose.Position[1] - b.half[1]
	for _, s := range ordered {
		if s == b || s.mode == ModeDynamic {
			continue
		}
		if math.Abs(b.pose.Position[0]-s.pose.Position[0]) > b.half[0]+s.half[0] ||
			math.Abs(b.pose.Position[2]-s.pose.Position[2]) > b.half[2]+s.half[2] {
			continue
		}
		top := s.pose.Position[1] + s.half[1]
		if bottom <= top && bottom >= top+b.vel[1]*sec-s.half[1] {
			b.pose.Position[1] = top + b.half[1]
			b.vel[1] = 0
			return
		}
	}
}

func (w *World) sortedBodies() []*body {
	out := make([]*body, 0, len(w.bodies))
	for _, b := range w.bodies {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func overlaps(a, b *body) bool {
	for axis := 0; axis < 3; axis++ {
		d := math.Abs(a.pose.Position[axis] - b.pose.Position[axis])
		if d > a.half[axis]+b.half[axis] {
			return false
		}
	}
	return true
}
