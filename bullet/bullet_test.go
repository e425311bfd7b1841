package bullet

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
)

const tick = 20 * time.Millisecond

type peer struct {
	ep     *transport.Endpoint
	world  *physics.World
	sched  *timer.Scheduler
	events *bus.Bus
	sync   *Synchronizer
	now    time.Duration
}

func newPeer(mesh *transport.Mesh, name string) *peer {
	p := &peer{
		ep:     mesh.Join(name, ""),
		world:  physics.NewWorld(),
		sched:  timer.NewScheduler(),
		events: bus.New(),
	}
	p.sync = NewSynchronizer(p.ep, p.world, p.sched, p.events)
	return p
}

func (p *peer) run(d time.Duration) {
	end := p.now + d
	for p.now < end {
		p.now += tick
		p.world.Step(tick)
		p.ep.Poll()
		p.sched.Advance(p.now)
	}
}

func TestSynchronizer_EveryPeerSpawnsOwnCopy(t *testing.T) {
	mesh := transport.NewMesh()
	a := newPeer(mesh, "a")
	b := newPeer(mesh, "b")

	if err := a.sync.Fire(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 0, 2}, 40); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if a.sync.Len() != 0 {
		t.Fatal("projectile should spawn when the broadcast is dispatched")
	}
	a.ep.Poll()
	b.ep.Poll()

	pa, pb := a.sync.Projectiles(), b.sync.Projectiles()
	if len(pa) != 1 || len(pb) != 1 {
		t.Fatalf("expected one projectile per peer, got %d and %d", len(pa), len(pb))
	}
	if pa[0].ID != pb[0].ID || !strings.HasPrefix(pa[0].ID, string(a.ep.Self().ID)+"-") {
		t.Errorf("unexpected projectile ids %q and %q", pa[0].ID, pb[0].ID)
	}
	wantOrigin := mgl64.Vec3{0, 1 + SpawnLift, SpawnAhead}
	if !pa[0].Origin.ApproxEqual(wantOrigin) {
		t.Errorf("origin = %v, want %v", pa[0].Origin, wantOrigin)
	}
	if !pb[0].Velocity.ApproxEqual(mgl64.Vec3{0, 0, 40}) {
		t.Errorf("velocity = %v, want (0,0,40)", pb[0].Velocity)
	}
	if pb[0].Body.Tag().Owner != string(a.ep.Self().ID) {
		t.Errorf("bullet owner = %q", pb[0].Body.Tag().Owner)
	}
}

func TestSynchronizer_TTL(t *testing.T) {
	p := newPeer(transport.NewMesh(), "a")
	p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20)
	p.ep.Poll()

	p.run(TTL - tick)
	if p.sync.Len() != 1 {
		t.Fatal("projectile despawned before its TTL")
	}
	p.run(tick)
	if p.sync.Len() != 0 {
		t.Error("projectile should despawn at its TTL")
	}
	if p.world.Len() != 0 {
		t.Errorf("projectile body should be removed, world has %d", p.world.Len())
	}
}

func TestSynchronizer_ImpactIsLocal(t *testing.T) {
	mesh := transport.NewMesh()
	a := newPeer(mesh, "a")
	b := newPeer(mesh, "b")
	var impacts []bus.ImpactEvent
	bus.Subscribe(a.events, bus.Impact, func(e bus.ImpactEvent) { impacts = append(impacts, e) })

	a.sync.Fire(mgl64.Vec3{0, 5, 0}, mgl64.Vec3{0, 0, 1}, 20)
	a.ep.Poll()
	b.ep.Poll()

	bullet := a.sync.Projectiles()[0].Body
	wall := a.world.CreateBody(physics.BodyDesc{Tag: physics.Tag{Role: physics.RoleStatic, ID: "wall"}})
	if !a.sync.HandleContact(bullet, wall) {
		t.Fatal("contact should end the projectile")
	}
	if len(impacts) != 1 || impacts[0].Normal != (mgl64.Vec3{0, 0, 1}) {
		t.Errorf("unexpected impacts %+v", impacts)
	}
	if a.sync.Len() != 0 || b.sync.Len() != 1 {
		t.Errorf("impact must stay local, a=%d b=%d", a.sync.Len(), b.sync.Len())
	}
	if a.sync.HandleContact(bullet, wall) {
		t.Error("a despawned projectile cannot hit twice")
	}
}

func TestSynchronizer_GroundImpactNormal(t *testing.T) {
	p := newPeer(transport.NewMesh(), "a")
	var normal mgl64.Vec3
	bus.Subscribe(p.events, bus.Impact, func(e bus.ImpactEvent) { normal = e.Normal })

	p.sync.Fire(mgl64.Vec3{0, -1.4, 0}, mgl64.Vec3{1, 0, 0}, 20)
	p.ep.Poll()
	p.sync.HandleContact(p.sync.Projectiles()[0].Body, nil)
	if normal != (mgl64.Vec3{0, 1, 0}) {
		t.Errorf("ground impact normal = %v", normal)
	}
}

func TestSynchronizer_IgnoresOwnShooter(t *testing.T) {
	p := newPeer(transport.NewMesh(), "a")
	self := p.world.CreateBody(physics.BodyDesc{Tag: physics.Tag{Role: physics.RoleLocalPlayer, ID: string(p.ep.Self().ID)}})
	p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20)
	p.ep.Poll()
	if p.sync.HandleContact(p.sync.Projectiles()[0].Body, self) {
		t.Error("projectile should pass through its own shooter")
	}
}

func TestSynchronizer_RateLimit(t *testing.T) {
	p := newPeer(transport.NewMesh(), "a")
	if err := p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20); err != nil {
		t.Fatalf("first shot failed: %v", err)
	}
	if err := p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	p.run(FireInterval)
	if err := p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20); err != nil {
		t.Errorf("shot after the interval failed: %v", err)
	}
	if err := p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{}, 20); !errors.Is(err, ErrNoAim) {
		t.Errorf("expected ErrNoAim, got %v", err)
	}
}

func TestSynchronizer_ChargeToShoot(t *testing.T) {
	mesh := transport.NewMesh()
	a := newPeer(mesh, "a")
	b := newPeer(mesh, "b")
	shooter := a.world.CreateBody(physics.BodyDesc{Pose: physics.At(mgl64.Vec3{0, 1, 0}), Mode: physics.ModeFixed})

	var levels []float64
	bus.Subscribe(a.events, bus.Charge, func(e bus.ChargeEvent) { levels = append(levels, e.Level) })

	var forces []float64
	b.ep.Subscribe(message.ChannelShoot, func(_ transport.PeerID, payload []byte) {
		var s message.Shoot
		if err := message.DecodeInto(payload, &s); err == nil {
			forces = append(forces, s.Force)
		}
	})

	aim := mgl64.Vec3{0, 0, 1}
	for i := 0; i <= 25; i++ {
		a.sync.Update(player.Input{Fire: true, Aim: aim}, shooter)
		a.run(tick)
	}
	a.sync.Update(player.Input{Aim: aim}, shooter)
	b.ep.Poll()

	if len(forces) != 1 {
		t.Fatalf("expected one shot, got %d", len(forces))
	}
	want := 0.5*ChargeForce + BaseForce
	if math.Abs(forces[0]-want) > 1e-9 {
		t.Errorf("force = %f, want %f", forces[0], want)
	}
	if levels[len(levels)-1] != 0 {
		t.Error("charge bar should reset after release")
	}
	// charge events are throttled to one per ChargeEventInterval
	if n := len(levels) - 1; n > 9 || n < 8 {
		t.Errorf("unexpected number of charge events: %d", n)
	}
}

func TestSynchronizer_MinimumForce(t *testing.T) {
	mesh := transport.NewMesh()
	a := newPeer(mesh, "a")
	shooter := a.world.CreateBody(physics.BodyDesc{Mode: physics.ModeFixed})

	a.sync.Update(player.Input{Fire: true, Aim: mgl64.Vec3{1, 0, 0}}, shooter)
	a.sync.Update(player.Input{Aim: mgl64.Vec3{1, 0, 0}}, shooter)
	a.ep.Poll()

	ps := a.sync.Projectiles()
	if len(ps) != 1 {
		t.Fatalf("expected a projectile, got %d", len(ps))
	}
	want := MinCharge*ChargeForce + BaseForce
	if math.Abs(ps[0].Velocity.Len()-want) > 1e-9 {
		t.Errorf("speed = %f, want %f", ps[0].Velocity.Len(), want)
	}
}

func TestSynchronizer_DiscardsForgedShooter(t *testing.T) {
	mesh := transport.NewMesh()
	a := newPeer(mesh, "a")
	b := mesh.Join("b", "")

	data, _ := message.Encode(message.Shoot{ID: "x", Dir: [3]float64{1, 0, 0}, Force: 20, Shooter: string(a.ep.Self().ID)})
	b.Broadcast(message.ChannelShoot, data, transport.ScopeOthers)
	b.Broadcast(message.ChannelShoot, []byte{0xc1}, transport.ScopeOthers)
	a.ep.Poll()
	if a.sync.Len() != 0 {
		t.Error("forged or malformed shoot events must be discarded")
	}
}

func TestSynchronizer_Close(t *testing.T) {
	p := newPeer(transport.NewMesh(), "a")
	p.sync.Fire(mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 20)
	p.ep.Poll()
	p.sync.Close()
	if p.sync.Len() != 0 || p.world.Len() != 0 || p.sched.Pending() != 0 {
		t.Error("Close should remove projectiles and timers")
	}
}
