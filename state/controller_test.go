package state

import (
	"sort"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
)

const tick = 100 * time.Millisecond

// fakePlayers reports one transform per peer id it knows a z for.
type fakePlayers struct {
	z map[string]float64
}

func (f *fakePlayers) Transforms() []player.Transform {
	out := make([]player.Transform, 0, len(f.z))
	for id, z := range f.z {
		out = append(out, player.Transform{Peer: id, Position: mgl64.Vec3{0, 0, z}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// countingTransport counts shared writes per key.
type countingTransport struct {
	transport.Transport
	writes map[string]int
}

func (c *countingTransport) SharedSet(key string, value []byte, broadcast bool) {
	c.writes[key]++
	c.Transport.SharedSet(key, value, broadcast)
}

type stagePeer struct {
	ep      *transport.Endpoint
	tr      *countingTransport
	sched   *timer.Scheduler
	field   *obstacle.Field
	players *fakePlayers
	ctrl    *Controller
	stages  []string
	lights  []string
	now     time.Duration
}

func newStagePeer(mesh *transport.Mesh, name string) *stagePeer {
	ep := mesh.Join(name, "")
	p := &stagePeer{
		ep:      ep,
		tr:      &countingTransport{Transport: ep, writes: make(map[string]int)},
		sched:   timer.NewScheduler(),
		players: &fakePlayers{z: make(map[string]float64)},
	}
	events := bus.New()
	bus.Subscribe(events, bus.Stage, func(e bus.StageEvent) { p.stages = append(p.stages, e.Stage) })
	bus.Subscribe(events, bus.Light, func(e bus.LightEvent) { p.lights = append(p.lights, e.Light) })
	p.field = obstacle.NewField(physics.NewWorld(), p.sched, ep, nil, events)
	p.ctrl = NewController(p.tr, p.field, obstacle.DefaultCourse(), p.sched, events, p.players, 42)
	return p
}

// place puts every peer currently in the roster at z.
func (p *stagePeer) place(z float64) {
	for _, peer := range p.ep.ListPeers() {
		p.players.z[string(peer.ID)] = z
	}
}

func (p *stagePeer) step() {
	p.now += tick
	p.ep.Poll()
	p.ctrl.Update()
	p.sched.Advance(p.now)
}

func (p *stagePeer) run(d time.Duration) {
	end := p.now + d
	for p.now < end {
		p.step()
	}
}

func TestController_InitialStageMountsCourse(t *testing.T) {
	p := newStagePeer(transport.NewMesh(), "a")
	if p.ctrl.Stage() != StageObstacleCourse {
		t.Fatalf("expected %s, got %s", StageObstacleCourse, p.ctrl.Stage())
	}
	if p.field.Len() != 26 {
		t.Errorf("expected the full course mounted, got %d obstacles", p.field.Len())
	}
	if len(p.stages) != 1 || p.stages[0] != "OBSTACLE_COURSE" {
		t.Errorf("unexpected stage events %v", p.stages)
	}
}

func TestController_AdvanceAtMostOnce(t *testing.T) {
	mesh := transport.NewMesh()
	peers := []*stagePeer{newStagePeer(mesh, "a"), newStagePeer(mesh, "b"), newStagePeer(mesh, "c")}
	for _, p := range peers {
		p.place(220)
	}

	// every peer evaluates before any of them sees another's write
	for i := 0; i < 20; i++ {
		for _, p := range peers {
			p.ctrl.Update()
		}
		for _, p := range peers {
			p.now += tick
			p.ep.Poll()
			p.sched.Advance(p.now)
		}
	}

	var first []byte
	for _, p := range peers {
		if p.ctrl.Stage() != StageRedLight {
			t.Errorf("%s: expected %s, got %s", p.ep.Self().ID, StageRedLight, p.ctrl.Stage())
		}
		if n := p.tr.writes[KeyStage]; n != 1 {
			t.Errorf("%s wrote the stage %d times", p.ep.Self().ID, n)
		}
		if len(p.stages) != 2 || p.stages[1] != "RED_LIGHT_GREEN_LIGHT" {
			t.Errorf("%s: expected one stage transition, got %v", p.ep.Self().ID, p.stages)
		}
		data, _ := p.ep.SharedGet(KeyStage)
		if first == nil {
			first = data
		} else if string(first) != string(data) {
			t.Error("shared stage diverged between peers")
		}
	}
}

func TestController_FollowsSharedStage(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	b := newStagePeer(mesh, "b")

	a.place(300)
	a.step()
	b.step()

	if b.ctrl.Stage() != StageRedLight {
		t.Fatalf("b should follow a's stage write, got %s", b.ctrl.Stage())
	}
	if b.tr.writes[KeyStage] != 0 {
		t.Error("b should not write a stage it did not finish")
	}
	if b.field.Len() != 0 {
		t.Errorf("red light stage has no obstacles, got %d", b.field.Len())
	}
}

func TestController_NoRollback(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	a.place(300)
	a.step()

	old, _ := message.Marshal(StageRecord{Stage: StageObstacleCourse})
	a.ep.SharedSet(KeyStage, old, true)
	a.place(0)
	a.run(time.Second)

	if a.ctrl.Stage() != StageRedLight {
		t.Errorf("stage rolled back to %s", a.ctrl.Stage())
	}
}

func TestController_MalformedStageIgnored(t *testing.T) {
	p := newStagePeer(transport.NewMesh(), "a")
	p.ep.SharedSet(KeyStage, []byte{0xc1}, false)
	p.run(time.Second)
	if p.ctrl.Stage() != StageObstacleCourse {
		t.Errorf("malformed stage should be ignored, got %s", p.ctrl.Stage())
	}
}

func TestController_NoRecordsNeverFinishes(t *testing.T) {
	p := newStagePeer(transport.NewMesh(), "a")
	p.run(time.Second)
	if p.ctrl.Stage() != StageObstacleCourse {
		t.Error("a peer without a record must not finish a stage")
	}
}

func TestController_RequiresEveryPlayer(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	b := newStagePeer(mesh, "b")
	a.players.z[string(a.ep.Self().ID)] = 300
	a.players.z[string(b.ep.Self().ID)] = 100
	a.run(time.Second)
	if a.ctrl.Stage() != StageObstacleCourse {
		t.Error("stage should wait for every player")
	}
}

func TestController_PeerWithoutRecordBlocksFinish(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	b := newStagePeer(mesh, "b")

	// b is in the roster but its record never reached a
	a.players.z[string(a.ep.Self().ID)] = 300
	a.run(time.Second)
	if len(a.ep.ListPeers()) != 2 || len(a.players.Transforms()) != 1 {
		t.Fatalf("expected two peers and one transform")
	}
	if a.ctrl.Stage() != StageObstacleCourse {
		t.Errorf("stage advanced without %s, got %s", b.ep.Self().ID, a.ctrl.Stage())
	}

	a.players.z[string(b.ep.Self().ID)] = 250
	a.step()
	if a.ctrl.Stage() != StageRedLight {
		t.Errorf("stage should advance once every peer is past the line, got %s", a.ctrl.Stage())
	}
}

func TestController_HostLightLoop(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	b := newStagePeer(mesh, "b")
	a.place(300)

	reds := 0
	for i := 0; i < 300; i++ {
		a.step()
		b.step()
		if a.ctrl.RedLight() != b.ctrl.RedLight() {
			t.Fatalf("tick %d: peers disagree on the light", i)
		}
		if b.ctrl.RedLight() {
			reds++
		}
	}

	if len(a.lights) < 4 {
		t.Fatalf("expected the light to cycle, got %v", a.lights)
	}
	for i, l := range a.lights {
		want := "RED"
		if i%2 == 1 {
			want = "GREEN"
		}
		if l != want {
			t.Errorf("light %d = %s, want %s", i, l, want)
		}
	}
	if reds == 0 || reds == 300 {
		t.Errorf("expected a mix of red and green ticks, got %d red", reds)
	}
	if b.tr.writes[KeyLight] != 0 {
		t.Error("only the host writes the light")
	}
}

func TestController_LightLoopSurvivesHostChange(t *testing.T) {
	mesh := transport.NewMesh()
	a := newStagePeer(mesh, "a")
	b := newStagePeer(mesh, "b")
	a.place(300)
	a.step()
	b.step()

	a.ep.Close()
	before := len(b.lights)
	b.run(20 * time.Second)
	if b.tr.writes[KeyLight] == 0 {
		t.Fatal("the new host should drive the light")
	}
	if len(b.lights)-before < 2 {
		t.Errorf("light should keep cycling after a host change, got %v", b.lights[before:])
	}
}

func TestController_FinishedCancelsLightTimers(t *testing.T) {
	p := newStagePeer(transport.NewMesh(), "a")
	p.place(300)
	p.step()
	p.place(400)
	p.run(time.Second)

	if p.ctrl.Stage() != StageFinished {
		t.Fatalf("expected %s, got %s", StageFinished, p.ctrl.Stage())
	}
	if p.sched.Pending() != 0 {
		t.Errorf("expected no pending timers after the light stage, got %d", p.sched.Pending())
	}
	if p.ctrl.RedLight() {
		t.Error("light is not deadly outside its stage")
	}
}

func TestController_LightDurations(t *testing.T) {
	p := newStagePeer(transport.NewMesh(), "a")
	for i := 0; i < 100; i++ {
		if d := p.ctrl.LightDuration(LightGreen); d < GreenMin || d > GreenMax {
			t.Fatalf("green duration %v out of range", d)
		}
		if d := p.ctrl.LightDuration(LightRed); d < RedMin || d > RedMax {
			t.Fatalf("red duration %v out of range", d)
		}
	}
}
