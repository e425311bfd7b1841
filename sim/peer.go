// Package sim wires one peer's simulation together and drives its tick.
package sim

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bullet"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/collision"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/state"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
)

const DefaultReassertInterval = time.Second

type Options struct {
	Course           obstacle.Course
	Role             player.Role
	Seed             int64
	ReassertInterval time.Duration
	Engine           physics.Engine
	Monitor          *monitor.Monitor
}

// Peer is the full simulation of one participant. All methods must be
// called from the goroutine that calls Tick.
type Peer struct {
	tr      transport.Transport
	engine  physics.Engine
	sched   *timer.Scheduler
	events  *bus.Bus
	metrics *monitor.Monitor
	scope   *timer.Scope

	field   *obstacle.Field
	players *player.Replicator
	bullets *bullet.Synchronizer
	router  *collision.Router
	stage   *state.Controller

	now    time.Duration
	follow bool
	hint   string
	unsubs []func()
}

func NewPeer(tr transport.Transport, opts Options) *Peer {
	if opts.Engine == nil {
		opts.Engine = physics.NewWorld()
	}
	if opts.ReassertInterval <= 0 {
		opts.ReassertInterval = DefaultReassertInterval
	}
	if opts.Course.Stages == nil {
		opts.Course = obstacle.DefaultCourse()
	}

	p := &Peer{
		tr:      tr,
		engine:  opts.Engine,
		sched:   timer.NewScheduler(),
		events:  bus.New(),
		metrics: opts.Monitor,
	}
	p.scope = p.sched.NewScope()

	p.engine.CreateBody(physics.BodyDesc{
		Tag:         physics.Tag{Role: physics.RoleStatic, ID: "spawn"},
		Pose:        physics.At(mgl64.Vec3{0, -0.5, 0}),
		Mode:        physics.ModeFixed,
		HalfExtents: mgl64.Vec3{10, 0.5, 10},
	})

	p.field = obstacle.NewField(p.engine, p.sched, tr, p, p.events)
	p.players = player.NewReplicator(tr, p.engine, p.sched, p.events, opts.Role)
	p.players.SetMonitor(p.metrics)
	p.bullets = bullet.NewSynchronizer(tr, p.engine, p.sched, p.events)
	p.bullets.SetMonitor(p.metrics)
	p.router = collision.NewRouter(p.field, p.bullets)
	p.router.SetMonitor(p.metrics)
	p.unsubs = append(p.unsubs, p.router.Attach(p.engine))
	p.stage = state.NewController(tr, p.field, opts.Course, p.sched, p.events, p.players, opts.Seed)
	p.stage.SetMonitor(p.metrics)
	p.players.SetLight(p.stage)

	p.unsubs = append(p.unsubs,
		tr.Subscribe(message.ChannelGlass, p.handleGlass),
		tr.Subscribe(message.ChannelFall, p.handleFall),
	)
	p.scope.Every(opts.ReassertInterval, p.field.Reassert)
	return p
}

// PublishGlass and PublishFall send locally applied transitions to the
// other peers.
func (p *Peer) PublishGlass(id string, status obstacle.GlassStatus) {
	p.publish(message.GlassTransition{Obstacle: id, Status: status})
}

func (p *Peer) PublishFall(ev obstacle.FallEvent) {
	p.publish(message.FallTransition{Obstacle: ev.ID, Status: ev.Status, Cycle: ev.Cycle, Reassert: ev.Reassert})
}

func (p *Peer) publish(msg message.Payload) {
	data, err := message.Encode(msg)
	if err == nil {
		err = p.tr.Broadcast(msg.Channel(), data, transport.ScopeOthers)
	}
	if err != nil {
		logger.Log.Warnf("%s event not sent: %v", msg.Channel(), err)
	}
}

func (p *Peer) handleGlass(from transport.PeerID, payload []byte) {
	msg, err := message.Decode(message.ChannelGlass, payload)
	if err != nil {
		p.discard(from, message.ChannelGlass, err)
		return
	}
	ev := msg.(*message.GlassTransition)
	p.metrics.ObserveTransition(obstacle.KindGlassTile.String(), p.field.ApplyGlass(ev.Obstacle, ev.Status))
}

func (p *Peer) handleFall(from transport.PeerID, payload []byte) {
	msg, err := message.Decode(message.ChannelFall, payload)
	if err != nil {
		p.discard(from, message.ChannelFall, err)
		return
	}
	ev := msg.(*message.FallTransition)
	p.metrics.ObserveTransition(obstacle.KindFallingPlatform.String(), p.field.ApplyFallEvent(obstacle.FallEvent{
		ID:       ev.Obstacle,
		Status:   ev.Status,
		Cycle:    ev.Cycle,
		Reassert: ev.Reassert,
	}))
}

func (p *Peer) discard(from transport.PeerID, ch message.Channel, err error) {
	p.metrics.IncMalformed(ch.String())
	logger.Log.Warnf("Discarding %s payload from %s: %v", ch, from, err)
}

// Tick advances the peer by dt: physics, local input, inbound traffic,
// remote players, follow, stage, obstacles and finally due timers.
func (p *Peer) Tick(in player.Input, dt time.Duration) {
	start := time.Now()
	p.now += dt

	p.engine.Step(dt)

	if p.players.Dead() {
		in.Fire = false
	}
	p.players.Update(in, dt)
	p.bullets.Update(in, p.players.Body())

	p.tr.Poll()
	p.players.UpdateRemotes()
	if in.Follow && !p.follow {
		p.players.FollowSpecial()
	}
	p.follow = in.Follow
	p.updateFollowHint()
	p.stage.Update()
	p.field.Update(p.now)

	p.sched.Advance(p.now)
	p.metrics.ObserveTick(time.Since(start))
}

func (p *Peer) updateFollowHint() {
	id, _, ok := p.players.FarSpecial()
	if string(id) == p.hint {
		return
	}
	p.hint = string(id)
	bus.Publish(p.events, bus.Follow, bus.FollowHintEvent{Peer: p.hint, Show: ok})
}

// Run ticks the peer every interval until ctx is done. input is sampled
// once per tick.
func (p *Peer) Run(ctx context.Context, interval time.Duration, input func(now time.Duration) player.Input) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Tick(input(p.now), interval)
		}
	}
}

func (p *Peer) Now() time.Duration { return p.now }

func (p *Peer) Events() *bus.Bus { return p.events }

func (p *Peer) Transport() transport.Transport { return p.tr }

func (p *Peer) Field() *obstacle.Field { return p.field }

func (p *Peer) Players() *player.Replicator { return p.players }

func (p *Peer) Bullets() *bullet.Synchronizer { return p.bullets }

func (p *Peer) Controller() *state.Controller { return p.stage }

// Snapshot is the obstacle status per id for rendering.
func (p *Peer) Snapshot() []obstacle.State { return p.field.Snapshot() }

// Transforms is the player transform per id for rendering.
func (p *Peer) Transforms() []player.Transform { return p.players.Transforms() }

func (p *Peer) Stage() state.Stage { return p.stage.Stage() }

// Close tears the peer down without closing its transport.
func (p *Peer) Close() {
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.scope.Cancel()
	p.bullets.Close()
	p.players.Close()
	p.field.Unmount()
}
