package obstacle

import (
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/timer"
)

// HostChecker reports whether the local peer currently owns host timers.
type HostChecker interface {
	IsHost() bool
}

// Publisher sends transition events to the other peers. Field applies every
// transition locally before publishing it.
type Publisher interface {
	PublishGlass(id string, status GlassStatus)
	PublishFall(ev FallEvent)
}

// FallEvent is a falling platform transition between peers. A re-asserted
// event is the host's current state and overrides the receiver's.
type FallEvent struct {
	ID       string
	Status   FallStatus
	Cycle    uint32
	Reassert bool
}

type GlassTile struct {
	ID             string
	Fragile        bool
	Status         GlassStatus
	LastTransition time.Duration
	Body           physics.Body
}

type FallingPlatform struct {
	ID             string
	Anchor         mgl64.Vec3
	Status         FallStatus
	LastTransition time.Duration
	// Cycle counts entries into warning. A freshly mounted platform is
	// stable in cycle 0.
	Cycle          uint32
	Body           physics.Body
	pending        timer.Handle
}

type LaunchPad struct {
	ID        string
	Pulse     bool
	LastFired time.Duration
	Body      physics.Body
	pulse     timer.Handle
}

type MovingPlatform struct {
	ID     string
	Origin mgl64.Vec3
	Axis   mgl64.Vec3
	Range  float64
	Speed  float64
	Body   physics.Body
}

// Ref names a mounted obstacle.
type Ref struct {
	Kind Kind
	ID   string
}

// State is the render-facing view of one obstacle.
type State struct {
	ID             string
	Kind           Kind
	Status         string
	LastTransition time.Duration
}

// Field owns the obstacles of the mounted stage. It is not safe for
// concurrent use; the tick loop drives it.
type Field struct {
	engine physics.Engine
	sched  *timer.Scheduler
	host   HostChecker
	pub    Publisher
	events *bus.Bus

	scope   *timer.Scope
	glass   map[string]*GlassTile
	falling map[string]*FallingPlatform
	pads    map[string]*LaunchPad
	movers  map[string]*MovingPlatform
	byBody  map[physics.BodyID]Ref
}

func NewField(engine physics.Engine, sched *timer.Scheduler, host HostChecker, pub Publisher, events *bus.Bus) *Field {
	f := &Field{
		engine: engine,
		sched:  sched,
		host:   host,
		pub:    pub,
		events: events,
	}
	f.reset()
	return f
}

func (f *Field) reset() {
	f.scope = f.sched.NewScope()
	f.glass = make(map[string]*GlassTile)
	f.falling = make(map[string]*FallingPlatform)
	f.pads = make(map[string]*LaunchPad)
	f.movers = make(map[string]*MovingPlatform)
	f.byBody = make(map[physics.BodyID]Ref)
}

// Mount replaces the current obstacles with layout.
func (f *Field) Mount(layout Layout) {
	f.Unmount()

	for _, g := range layout.Glass {
		body := f.engine.CreateBody(physics.BodyDesc{
			Tag:         physics.Tag{Role: physics.RoleObstacle, ID: g.ID},
			Pose:        physics.At(vec(g.Position)),
			Mode:        physics.ModeKinematic,
			HalfExtents: GlassHalfExtents,
		})
		f.glass[g.ID] = &GlassTile{ID: g.ID, Fragile: g.Fragile, Body: body}
		f.byBody[body.ID()] = Ref{KindGlassTile, g.ID}
	}
	for _, fs := range layout.Falling {
		anchor := vec(fs.Anchor)
		body := f.engine.CreateBody(physics.BodyDesc{
			Tag:         physics.Tag{Role: physics.RoleObstacle, ID: fs.ID},
			Pose:        physics.At(anchor),
			Mode:        physics.ModeFixed,
			HalfExtents: FallingHalfExtents,
		})
		f.falling[fs.ID] = &FallingPlatform{ID: fs.ID, Anchor: anchor, Body: body}
		f.byBody[body.ID()] = Ref{KindFallingPlatform, fs.ID}
	}
	for _, p := range layout.LaunchPads {
		body := f.engine.CreateBody(physics.BodyDesc{
			Tag:         physics.Tag{Role: physics.RoleObstacle, ID: p.ID},
			Pose:        physics.At(vec(p.Position)),
			Mode:        physics.ModeFixed,
			HalfExtents: LaunchPadHalfExtent,
		})
		f.pads[p.ID] = &LaunchPad{ID: p.ID, Body: body}
		f.byBody[body.ID()] = Ref{KindLaunchPad, p.ID}
	}
	for _, m := range layout.Moving {
		axis := mgl64.Vec3{1, 0, 0}
		if a, _ := ParseAxis(m.Axis); a == AxisZ {
			axis = mgl64.Vec3{0, 0, 1}
		}
		origin := vec(m.Origin)
		body := f.engine.CreateBody(physics.BodyDesc{
			Tag:         physics.Tag{Role: physics.RoleObstacle, ID: m.ID},
			Pose:        physics.At(origin),
			Mode:        physics.ModeKinematic,
			HalfExtents: MovingHalfExtents,
		})
		f.movers[m.ID] = &MovingPlatform{ID: m.ID, Origin: origin, Axis: axis, Range: m.Range, Speed: m.Speed, Body: body}
		f.byBody[body.ID()] = Ref{KindMovingPlatform, m.ID}
	}
}

// Unmount cancels every pending obstacle timer and removes all bodies.
func (f *Field) Unmount() {
	f.scope.Cancel()
	for id := range f.byBody {
		f.engine.RemoveBody(id)
	}
	f.reset()
}

// Len reports the number of mounted obstacles.
func (f *Field) Len() int {
	return len(f.byBody)
}

// Lookup resolves a physics body to the obstacle it belongs to.
func (f *Field) Lookup(id physics.BodyID) (Ref, bool) {
	ref, ok := f.byBody[id]
	return ref, ok
}

func (f *Field) Glass(id string) (*GlassTile, bool) {
	g, ok := f.glass[id]
	return g, ok
}

func (f *Field) Falling(id string) (*FallingPlatform, bool) {
	p, ok := f.falling[id]
	return p, ok
}

func (f *Field) LaunchPad(id string) (*LaunchPad, bool) {
	p, ok := f.pads[id]
	return p, ok
}

// ApplyGlass applies a glass transition event and reports whether the local
// state changed. Unknown ids and illegal transitions are ignored.
func (f *Field) ApplyGlass(id string, status GlassStatus) bool {
	g, ok := f.glass[id]
	if !ok {
		return false
	}
	if !g.Fragile && status != GlassIntact {
		return false
	}
	next := GlassGraph.Apply(g.Status, status)
	if next == g.Status {
		return false
	}

	g.Status = next
	g.LastTransition = f.sched.Now()
	if next == GlassBroken {
		g.Body.SetBodyMode(physics.ModeDynamic)
		g.Body.SetGravityScale(1)
	}
	bus.Publish(f.events, bus.Obstacle, bus.ObstacleEvent{ID: id, Kind: KindGlassTile.String(), Status: next.String()})
	return true
}

// ApplyFall applies a falling platform transition event tagged with the
// sender's cycle and reports whether the local status changed. Events are
// ordered by cycle, then by warning < falling < stable within a cycle; an
// event that is not later than the local state is stale and ignored. A later
// event may skip edges the receiver never saw.
func (f *Field) ApplyFall(id string, status FallStatus, cycle uint32) bool {
	p, ok := f.falling[id]
	if !ok || !laterFall(cycle, status, p.Cycle, p.Status) {
		return false
	}
	return f.setFall(p, status, cycle)
}

// ForceFall adopts the host's state for a platform regardless of order. It
// repairs peers that moved ahead on an event the host never saw.
func (f *Field) ForceFall(id string, status FallStatus, cycle uint32) bool {
	p, ok := f.falling[id]
	if !ok {
		return false
	}
	return f.setFall(p, status, cycle)
}

// ApplyFallEvent dispatches ev to ForceFall or ApplyFall.
func (f *Field) ApplyFallEvent(ev FallEvent) bool {
	if ev.Reassert {
		return f.ForceFall(ev.ID, ev.Status, ev.Cycle)
	}
	return f.ApplyFall(ev.ID, ev.Status, ev.Cycle)
}

func (f *Field) setFall(p *FallingPlatform, status FallStatus, cycle uint32) bool {
	p.Cycle = cycle
	if status == p.Status {
		return false
	}

	p.pending.Cancel()
	p.pending = timer.Handle{}
	p.Status = status
	p.LastTransition = f.sched.Now()

	switch status {
	case FallStable:
		p.Body.SetBodyMode(physics.ModeFixed)
		p.Body.SetPose(physics.At(p.Anchor))
	case FallWarning:
		p.Body.SetBodyMode(physics.ModeFixed)
	case FallFalling:
		p.Body.SetBodyMode(physics.ModeDynamic)
		p.Body.SetGravityScale(1)
	}
	f.arm(p)

	bus.Publish(f.events, bus.Obstacle, bus.ObstacleEvent{ID: p.ID, Kind: KindFallingPlatform.String(), Status: status.String()})
	return true
}

func fallPhase(s FallStatus) int {
	switch s {
	case FallWarning:
		return 0
	case FallFalling:
		return 1
	}
	return 2
}

// laterFall reports whether (cycle, status) comes after (curCycle, cur).
func laterFall(cycle uint32, status FallStatus, curCycle uint32, cur FallStatus) bool {
	if cycle != curCycle {
		return cycle > curCycle
	}
	return fallPhase(status) > fallPhase(cur)
}

// RequestGlass applies status locally and publishes it only if the local
// state changed, so simultaneous contacts cannot double-trigger.
func (f *Field) RequestGlass(id string, status GlassStatus) bool {
	if !f.ApplyGlass(id, status) {
		return false
	}
	if f.pub != nil {
		f.pub.PublishGlass(id, status)
	}
	return true
}

// RequestFall is RequestGlass for falling platforms. Only an edge of
// FallGraph from the local status is accepted; entering warning opens a new
// cycle.
func (f *Field) RequestFall(id string, status FallStatus) bool {
	p, ok := f.falling[id]
	if !ok || FallGraph.Apply(p.Status, status) == p.Status {
		return false
	}
	cycle := p.Cycle
	if status == FallWarning {
		cycle++
	}
	if !f.ApplyFall(id, status, cycle) {
		return false
	}
	if f.pub != nil {
		f.pub.PublishFall(FallEvent{ID: id, Status: status, Cycle: cycle})
	}
	return true
}

// arm schedules the host-owned edge out of the platform's current status.
func (f *Field) arm(p *FallingPlatform) {
	if f.host == nil || !f.host.IsHost() || p.pending.Active() {
		return
	}

	var delay time.Duration
	var target FallStatus
	switch p.Status {
	case FallWarning:
		delay, target = WarningDelay, FallFalling
	case FallFalling:
		delay, target = FallingDuration, FallStable
	default:
		return
	}

	deadline := p.LastTransition + delay
	from := p.Status
	p.pending = f.scope.After(deadline-f.sched.Now(), func() {
		cur, ok := f.falling[p.ID]
		if !ok || cur != p || cur.Status != from {
			return
		}
		cur.pending = timer.Handle{}
		f.RequestFall(p.ID, target)
	})
}

// Launch fires pad at target: the body gets LaunchVelocity and the pad
// pulses for PulseDuration.
func (f *Field) Launch(id string, target physics.Body) bool {
	pad, ok := f.pads[id]
	if !ok || target == nil {
		return false
	}
	target.SetLinearVelocity(LaunchVelocity)

	pad.Pulse = true
	pad.LastFired = f.sched.Now()
	pad.pulse.Cancel()
	pad.pulse = f.scope.After(PulseDuration, func() {
		if cur, ok := f.pads[id]; ok && cur == pad {
			pad.Pulse = false
		}
	})
	bus.Publish(f.events, bus.Pulse, bus.PulseEvent{ID: id})
	return true
}

// Update runs the per-tick obstacle work: fixed platforms snap back to their
// anchor, moving platforms advance, and the host re-arms any platform timer
// it does not own yet (after a host change).
func (f *Field) Update(now time.Duration) {
	for _, p := range f.falling {
		if p.Status != FallFalling {
			p.Body.SetPose(physics.At(p.Anchor))
		}
		f.arm(p)
	}

	t := now.Seconds()
	for _, m := range f.movers {
		offset := math.Sin(t*m.Speed) * m.Range
		m.Body.SetNextKinematicPose(physics.At(m.Origin.Add(m.Axis.Mul(offset))))
	}
}

// Reassert republishes every broken glass tile and the state of every
// falling platform, stable ones included. Only the host does this; it is the
// sole repair path for lost events.
func (f *Field) Reassert() {
	if f.pub == nil || f.host == nil || !f.host.IsHost() {
		return
	}
	for _, id := range sortedKeys(f.glass) {
		if g := f.glass[id]; g.Status != GlassIntact {
			f.pub.PublishGlass(id, g.Status)
		}
	}
	for _, id := range sortedKeys(f.falling) {
		p := f.falling[id]
		f.pub.PublishFall(FallEvent{ID: id, Status: p.Status, Cycle: p.Cycle, Reassert: true})
	}
}

// Snapshot returns the status of every mounted obstacle ordered by id.
func (f *Field) Snapshot() []State {
	out := make([]State, 0, len(f.byBody))
	for _, g := range f.glass {
		out = append(out, State{ID: g.ID, Kind: KindGlassTile, Status: g.Status.String(), LastTransition: g.LastTransition})
	}
	for _, p := range f.falling {
		out = append(out, State{ID: p.ID, Kind: KindFallingPlatform, Status: p.Status.String(), LastTransition: p.LastTransition})
	}
	for _, p := range f.pads {
		status := "idle"
		if p.Pulse {
			status = "pulse"
		}
		out = append(out, State{ID: p.ID, Kind: KindLaunchPad, Status: status, LastTransition: p.LastFired})
	}
	for _, m := range f.movers {
		out = append(out, State{ID: m.ID, Kind: KindMovingPlatform, Status: "moving"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
