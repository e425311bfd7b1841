// Package player replicates player avatars. The owning peer is the only
// writer of its Record; every other peer only reads and smooths it.
package player

import (
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
)

// LightSource reports whether the red light is currently on.
type LightSource interface {
	RedLight() bool
}

// Remote is the local copy of another peer's avatar.
type Remote struct {
	Peer     transport.PeerID
	Body     physics.Body
	Record   Record
	Rotation mgl64.Quat
}

type Replicator struct {
	tr      transport.Transport
	engine  physics.Engine
	sched   *timer.Scheduler
	events  *bus.Bus
	metrics *monitor.Monitor
	light   LightSource

	role      Role
	body      physics.Body
	heading   mgl64.Quat
	dead      bool
	respawnAt time.Duration
	jumpHeld  bool
	life      *timer.Scope

	remotes map[transport.PeerID]*Remote
	unsub   func()
}

func NewReplicator(tr transport.Transport, engine physics.Engine, sched *timer.Scheduler, events *bus.Bus, role Role) *Replicator {
	r := &Replicator{
		tr:      tr,
		engine:  engine,
		sched:   sched,
		events:  events,
		role:    role,
		heading: mgl64.QuatIdent(),
		life:    sched.NewScope(),
		remotes: make(map[transport.PeerID]*Remote),
	}
	r.body = engine.CreateBody(physics.BodyDesc{
		Tag:          physics.Tag{Role: physics.RoleLocalPlayer, ID: string(tr.Self().ID)},
		Pose:         physics.At(Spawn),
		Mode:         physics.ModeDynamic,
		HalfExtents:  HalfExtents,
		GravityScale: GravityScale,
	})
	r.unsub = tr.Subscribe(message.ChannelShot, r.handleShot)
	return r
}

func (r *Replicator) SetLight(light LightSource) { r.light = light }

func (r *Replicator) SetMonitor(m *monitor.Monitor) { r.metrics = m }

func (r *Replicator) Body() physics.Body { return r.body }

func (r *Replicator) Dead() bool { return r.dead }

func (r *Replicator) Role() Role { return r.role }

// Update advances the local player by one tick and publishes its Record.
func (r *Replicator) Update(in Input, dt time.Duration) {
	dir := in.Direction()
	pose := r.body.Pose()

	if r.dead {
		next := pose.Position.Add(dir.Mul(GhostSpeed * dt.Seconds()))
		r.body.SetNextKinematicPose(physics.Pose{Position: next, Rotation: r.heading})
		r.jumpHeld = in.Jump
		r.publish(next)
		return
	}

	vel := r.body.LinearVelocity()
	vel = mgl64.Vec3{dir[0] * MoveSpeed, vel[1], dir[2] * MoveSpeed}
	r.body.SetLinearVelocity(vel)
	if in.Jump && !r.jumpHeld && math.Abs(vel[1]) < groundedEpsilon {
		r.body.ApplyImpulse(mgl64.Vec3{0, JumpForce, 0})
	}
	r.jumpHeld = in.Jump

	if dir.Len() > 0 {
		target := mgl64.QuatRotate(math.Atan2(dir[0], dir[2]), mgl64.Vec3{0, 1, 0})
		r.heading = mgl64.QuatSlerp(r.heading, target, HeadingSlerp).Normalize()
	}
	r.body.SetPose(physics.Pose{Position: pose.Position, Rotation: r.heading})

	switch {
	case pose.Position.Y() < FloorY:
		r.Kill()
	case r.light != nil && r.light.RedLight() && horizontal(r.body.LinearVelocity()) > RedLightSpeed:
		if r.Kill() {
			r.broadcastShot()
		}
	}
	r.publish(r.body.Pose().Position)
}

func horizontal(v mgl64.Vec3) float64 {
	return math.Hypot(v[0], v[2])
}

func (r *Replicator) publish(pos mgl64.Vec3) {
	data, err := message.Marshal(newRecord(pos, r.heading, r.dead, r.role))
	if err != nil {
		logger.Log.Warnf("Local player record not published: %v", err)
		return
	}
	r.tr.SetState(StateKey, data)
}

// Kill marks the local player dead and starts the respawn countdown. It
// reports false if the player was already dead.
func (r *Replicator) Kill() bool {
	if r.dead {
		return false
	}
	r.dead = true
	r.respawnAt = r.sched.Now() + RespawnDelay
	r.body.SetBodyMode(physics.ModeKinematic)

	bus.Publish(r.events, bus.Death, bus.DeathEvent{Dead: true})
	r.countdown()
	r.life.Every(time.Second, r.countdown)
	r.life.After(RespawnDelay, r.respawn)
	return true
}

func (r *Replicator) countdown() {
	remaining := int(math.Ceil((r.respawnAt - r.sched.Now()).Seconds()))
	if remaining > 0 {
		bus.Publish(r.events, bus.Respawn, bus.RespawnEvent{Remaining: remaining})
	}
}

func (r *Replicator) respawn() {
	if !r.dead {
		return
	}
	r.life.Cancel()
	r.life = r.sched.NewScope()

	r.dead = false
	r.body.SetPose(physics.Pose{Position: Spawn, Rotation: r.heading})
	r.body.SetBodyMode(physics.ModeDynamic)
	r.body.SetLinearVelocity(mgl64.Vec3{})
	bus.Publish(r.events, bus.Respawn, bus.RespawnEvent{Remaining: 0})
	bus.Publish(r.events, bus.Death, bus.DeathEvent{Dead: false})
}

func (r *Replicator) broadcastShot() {
	data, err := message.Encode(message.Shot{Peer: string(r.tr.Self().ID)})
	if err == nil {
		err = r.tr.Broadcast(message.ChannelShot, data, transport.ScopeAll)
	}
	if err != nil {
		logger.Log.Warnf("Shot cue not sent: %v", err)
	}
}

func (r *Replicator) handleShot(from transport.PeerID, payload []byte) {
	var shot message.Shot
	if err := message.DecodeInto(payload, &shot); err != nil {
		r.metrics.IncMalformed(message.ChannelShot.String())
		logger.Log.Warnf("Discarding shot from %s: %v", from, err)
		return
	}
	bus.Publish(r.events, bus.Shot, bus.ShotEvent{Peer: shot.Peer})
}

// UpdateRemotes applies the latest published Record of every other peer and
// drops avatars of peers that left.
func (r *Replicator) UpdateRemotes() {
	self := r.tr.Self().ID
	present := make(map[transport.PeerID]bool)

	for _, p := range r.tr.ListPeers() {
		if p.ID == self {
			continue
		}
		present[p.ID] = true

		data, ok := r.tr.PeerState(p.ID, StateKey)
		if !ok {
			continue
		}
		var rec Record
		if err := message.DecodeInto(data, &rec); err != nil {
			r.metrics.IncMalformed(StateKey)
			logger.Log.Warnf("Discarding player record of %s: %v", p.ID, err)
			continue
		}

		remote, ok := r.remotes[p.ID]
		if !ok {
			remote = &Remote{
				Peer:     p.ID,
				Rotation: rec.Rotation(),
				Body: r.engine.CreateBody(physics.BodyDesc{
					Tag:         physics.Tag{Role: physics.RoleRemotePlayer, ID: string(p.ID)},
					Pose:        physics.Pose{Position: rec.Pos(), Rotation: rec.Rotation()},
					Mode:        physics.ModeKinematic,
					HalfExtents: HalfExtents,
				}),
			}
			r.remotes[p.ID] = remote
		}
		remote.Record = rec
		remote.Rotation = mgl64.QuatSlerp(remote.Rotation, rec.Rotation(), HeadingSlerp).Normalize()
		remote.Body.SetPose(physics.Pose{Position: rec.Pos(), Rotation: remote.Rotation})
	}

	for id, remote := range r.remotes {
		if !present[id] {
			r.engine.RemoveBody(remote.Body.ID())
			delete(r.remotes, id)
		}
	}
}

func (r *Replicator) Remote(peer transport.PeerID) (*Remote, bool) {
	remote, ok := r.remotes[peer]
	return remote, ok
}

// FarSpecial returns the first live special-role player that is more than
// FollowDistance from the local one. A dead or special local player never
// has one.
func (r *Replicator) FarSpecial() (transport.PeerID, mgl64.Vec3, bool) {
	if r.dead || r.role == RoleSpecial {
		return "", mgl64.Vec3{}, false
	}
	pos := r.body.Pose().Position
	for _, id := range r.sortedRemotes() {
		remote := r.remotes[id]
		if remote.Record.Role != RoleSpecial || remote.Record.Dead {
			continue
		}
		target := remote.Record.Pos()
		if target.Sub(pos).Len() <= FollowDistance {
			return "", mgl64.Vec3{}, false
		}
		return id, target, true
	}
	return "", mgl64.Vec3{}, false
}

// FollowSpecial teleports the local player next to the player FarSpecial
// returns.
func (r *Replicator) FollowSpecial() bool {
	_, target, ok := r.FarSpecial()
	if !ok {
		return false
	}
	r.body.SetPose(physics.Pose{Position: target.Add(mgl64.Vec3{0, 2, 0}), Rotation: r.heading})
	r.body.SetLinearVelocity(mgl64.Vec3{})
	return true
}

func (r *Replicator) sortedRemotes() []transport.PeerID {
	ids := make([]transport.PeerID, 0, len(r.remotes))
	for id := range r.remotes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Transforms returns every known player, the local one included, ordered by
// peer id.
func (r *Replicator) Transforms() []Transform {
	self := r.tr.Self().ID
	out := []Transform{{
		Peer:     string(self),
		Position: r.body.Pose().Position,
		Rotation: r.heading,
		Dead:     r.dead,
		Role:     r.role,
		Local:    true,
	}}
	for _, id := range r.sortedRemotes() {
		remote := r.remotes[id]
		out = append(out, Transform{
			Peer:     string(id),
			Position: remote.Record.Pos(),
			Rotation: remote.Rotation,
			Dead:     remote.Record.Dead,
			Role:     remote.Record.Role,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Close removes every avatar body and cancels the respawn timers.
func (r *Replicator) Close() {
	r.unsub()
	r.life.Cancel()
	for id, remote := range r.remotes {
		r.engine.RemoveBody(remote.Body.ID())
		delete(r.remotes, id)
	}
	r.engine.RemoveBody(r.body.ID())
}
