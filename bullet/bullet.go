// Package bullet replays shoot broadcasts as locally simulated projectiles.
// Peers share only the initial conditions; impacts stay local.
package bullet

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
	"golang.org/x/time/rate"
)

const (
	TTL                 = 3 * time.Second
	ChargeTime          = time.Second
	ChargeEventInterval = 60 * time.Millisecond
	MinCharge           = 0.1
	ChargeForce         = 35.0
	BaseForce           = 15.0
	SpawnLift           = 1.5
	SpawnAhead          = 1.5
	FireInterval        = 250 * time.Millisecond
	MaxProjectiles      = 64
	groundImpactY       = 0.5
)

var (
	HalfExtents = mgl64.Vec3{0.2, 0.2, 0.2}

	ErrRateLimited = errors.New("fire rate exceeded")
	ErrNoAim       = errors.New("no aim direction")
)

// epoch anchors simulated time for the rate limiter.
var epoch = time.Unix(0, 0)

type Projectile struct {
	ID        string
	Shooter   string
	Origin    mgl64.Vec3
	Velocity  mgl64.Vec3
	SpawnedAt time.Duration
	Body      physics.Body
}

type Synchronizer struct {
	tr      transport.Transport
	engine  physics.Engine
	sched   *timer.Scheduler
	events  *bus.Bus
	metrics *monitor.Monitor

	scope       *timer.Scope
	projectiles map[string]*Projectile
	byBody      map[physics.BodyID]string
	limiter     *rate.Limiter

	charging    bool
	charge      float64
	chargeStart time.Duration
	chargeEvent time.Duration

	unsub func()
}

func NewSynchronizer(tr transport.Transport, engine physics.Engine, sched *timer.Scheduler, events *bus.Bus) *Synchronizer {
	s := &Synchronizer{
		tr:          tr,
		engine:      engine,
		sched:       sched,
		events:      events,
		scope:       sched.NewScope(),
		projectiles: make(map[string]*Projectile),
		byBody:      make(map[physics.BodyID]string),
		limiter:     rate.NewLimiter(rate.Every(FireInterval), 1),
	}
	s.unsub = tr.Subscribe(message.ChannelShoot, s.handleShoot)
	return s
}

func (s *Synchronizer) SetMonitor(m *monitor.Monitor) { s.metrics = m }

// Update runs charge-to-shoot for the local player: holding Fire builds
// charge over ChargeTime, releasing it fires from shooter's position.
func (s *Synchronizer) Update(in player.Input, shooter physics.Body) {
	now := s.sched.Now()

	if in.Fire {
		if !s.charging {
			s.charging = true
			s.chargeStart = now
			s.chargeEvent = now - ChargeEventInterval
		}
		s.charge = math.Min(float64(now-s.chargeStart)/float64(ChargeTime), 1)
		if now-s.chargeEvent >= ChargeEventInterval {
			s.chargeEvent = now
			bus.Publish(s.events, bus.Charge, bus.ChargeEvent{Level: s.charge})
		}
		return
	}
	if !s.charging {
		return
	}

	s.charging = false
	force := math.Max(s.charge, MinCharge)*ChargeForce + BaseForce
	s.charge = 0
	bus.Publish(s.events, bus.Charge, bus.ChargeEvent{Level: 0})
	if shooter == nil {
		return
	}
	if err := s.Fire(shooter.Pose().Position, in.Aim, force); err != nil {
		logger.Log.Debugf("Shot not fired: %v", err)
	}
}

// Fire broadcasts a shoot event to every peer, this one included. The
// projectile spawns when the broadcast is dispatched.
func (s *Synchronizer) Fire(origin, aim mgl64.Vec3, force float64) error {
	if aim.Len() == 0 {
		return ErrNoAim
	}
	now := s.sched.Now()
	if !s.limiter.AllowN(epoch.Add(now), 1) {
		return ErrRateLimited
	}

	dir := aim.Normalize()
	spawn := origin.Add(mgl64.Vec3{0, SpawnLift, 0}).Add(dir.Mul(SpawnAhead))
	self := string(s.tr.Self().ID)
	data, err := message.Encode(message.Shoot{
		ID:      projectileID(self, now),
		Origin:  [3]float64(spawn),
		Dir:     [3]float64(dir),
		Force:   force,
		Shooter: self,
	})
	if err != nil {
		return err
	}
	return s.tr.Broadcast(message.ChannelShoot, data, transport.ScopeAll)
}

func projectileID(shooter string, now time.Duration) string {
	return fmt.Sprintf("%s-%d-%s", shooter, now.Milliseconds(), uuid.NewString()[:8])
}

func (s *Synchronizer) handleShoot(from transport.PeerID, payload []byte) {
	var shoot message.Shoot
	if err := message.DecodeInto(payload, &shoot); err != nil {
		s.metrics.IncMalformed(message.ChannelShoot.String())
		logger.Log.Warnf("Discarding shoot from %s: %v", from, err)
		return
	}
	if shoot.Shooter != string(from) {
		s.metrics.IncMalformed(message.ChannelShoot.String())
		logger.Log.Warnf("Discarding shoot from %s on behalf of %s", from, shoot.Shooter)
		return
	}
	s.spawn(shoot)
}

func (s *Synchronizer) spawn(shoot message.Shoot) {
	if _, ok := s.projectiles[shoot.ID]; ok || len(s.projectiles) >= MaxProjectiles {
		return
	}

	origin := mgl64.Vec3(shoot.Origin)
	velocity := mgl64.Vec3(shoot.Dir).Normalize().Mul(shoot.Force)
	body := s.engine.CreateBody(physics.BodyDesc{
		Tag:          physics.Tag{Role: physics.RoleBullet, ID: shoot.ID, Owner: shoot.Shooter},
		Pose:         physics.At(origin),
		Mode:         physics.ModeDynamic,
		HalfExtents:  HalfExtents,
		GravityScale: 1,
	})
	body.SetLinearVelocity(velocity)

	p := &Projectile{
		ID:        shoot.ID,
		Shooter:   shoot.Shooter,
		Origin:    origin,
		Velocity:  velocity,
		SpawnedAt: s.sched.Now(),
		Body:      body,
	}
	s.projectiles[p.ID] = p
	s.byBody[body.ID()] = p.ID

	s.scope.After(TTL, func() {
		if cur, ok := s.projectiles[p.ID]; ok && cur == p {
			s.despawn(p)
		}
	})
}

func (s *Synchronizer) despawn(p *Projectile) {
	delete(s.projectiles, p.ID)
	delete(s.byBody, p.Body.ID())
	s.engine.RemoveBody(p.Body.ID())
}

// Lookup resolves a physics body to a live projectile.
func (s *Synchronizer) Lookup(id physics.BodyID) (*Projectile, bool) {
	pid, ok := s.byBody[id]
	if !ok {
		return nil, false
	}
	return s.projectiles[pid], true
}

// HandleContact ends a projectile that hit something other than its own
// shooter and publishes a local impact.
func (s *Synchronizer) HandleContact(bullet, other physics.Body) bool {
	p, ok := s.Lookup(bullet.ID())
	if !ok {
		return false
	}
	if other != nil && other.Tag().ID == p.Shooter {
		return false
	}

	pos := p.Body.Pose().Position
	normal := mgl64.Vec3{0, 0, 1}
	if pos.Y() <= groundImpactY {
		normal = mgl64.Vec3{0, 1, 0}
	}
	s.despawn(p)
	bus.Publish(s.events, bus.Impact, bus.ImpactEvent{Position: pos, Normal: normal})
	return true
}

func (s *Synchronizer) Len() int {
	return len(s.projectiles)
}

// Projectiles returns the live projectiles ordered by id.
func (s *Synchronizer) Projectiles() []Projectile {
	out := make([]Projectile, 0, len(s.projectiles))
	for _, p := range s.projectiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Synchronizer) Close() {
	s.unsub()
	s.scope.Cancel()
	for _, p := range s.projectiles {
		s.despawn(p)
	}
}
