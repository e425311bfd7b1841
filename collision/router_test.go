package collision

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/physics"
	"github.com/wfunc/coursesync/timer"
)

type fakeHost struct{}

func (fakeHost) IsHost() bool { return true }

type MockPublisher struct {
	glass []string
	fall  []string
}

func (m *MockPublisher) PublishGlass(id string, s obstacle.GlassStatus) {
	m.glass = append(m.glass, id+":"+s.String())
}

func (m *MockPublisher) PublishFall(ev obstacle.FallEvent) {
	m.fall = append(m.fall, ev.ID+":"+ev.Status.String())
}

type MockBullets struct {
	hits int
}

func (m *MockBullets) HandleContact(bullet, other physics.Body) bool {
	m.hits++
	return true
}

type fixture struct {
	world   *physics.World
	field   *obstacle.Field
	pub     *MockPublisher
	bullets *MockBullets
	router  *Router
}

func newFixture() *fixture {
	fx := &fixture{
		world:   physics.NewWorld(),
		pub:     &MockPublisher{},
		bullets: &MockBullets{},
	}
	fx.field = obstacle.NewField(fx.world, timer.NewScheduler(), fakeHost{}, fx.pub, bus.New())
	fx.field.Mount(obstacle.Layout{
		Glass: []obstacle.GlassSpec{
			{ID: "g_frag", Position: [3]float64{-2.5, 40, 15}, Fragile: true},
			{ID: "g_solid", Position: [3]float64{2.5, 40, 15}},
		},
		Falling:    []obstacle.FallingSpec{{ID: "tile_0", Anchor: [3]float64{2, 40, 145}}},
		LaunchPads: []obstacle.LaunchPadSpec{{ID: "booster", Position: [3]float64{0, 40.5, 67}}},
	})
	fx.router = NewRouter(fx.field, fx.bullets)
	fx.router.Attach(fx.world)
	return fx
}

func (fx *fixture) obstacle(t *testing.T, id string) physics.Body {
	t.Helper()
	for _, s := range fx.field.Snapshot() {
		if s.ID != id {
			continue
		}
		switch s.Kind {
		case obstacle.KindGlassTile:
			g, _ := fx.field.Glass(id)
			return g.Body
		case obstacle.KindFallingPlatform:
			p, _ := fx.field.Falling(id)
			return p.Body
		case obstacle.KindLaunchPad:
			p, _ := fx.field.LaunchPad(id)
			return p.Body
		}
	}
	t.Fatalf("obstacle %s not mounted", id)
	return nil
}

func (fx *fixture) body(role physics.Role, id string) physics.Body {
	return fx.world.CreateBody(physics.BodyDesc{Tag: physics.Tag{Role: role, ID: id}, Mode: physics.ModeDynamic})
}

func TestRouter_GlassBreaksOnce(t *testing.T) {
	fx := newFixture()
	glass := fx.obstacle(t, "g_frag")
	me := fx.body(physics.RoleLocalPlayer, "me")

	for i := 0; i < 3; i++ {
		fx.world.Touch(glass.ID(), me.ID())
	}

	g, _ := fx.field.Glass("g_frag")
	if g.Status != obstacle.GlassBroken {
		t.Fatalf("fragile glass should break, got %s", g.Status)
	}
	if len(fx.pub.glass) != 1 {
		t.Errorf("expected one published break, got %v", fx.pub.glass)
	}
}

func TestRouter_SolidGlassHolds(t *testing.T) {
	fx := newFixture()
	fx.world.Touch(fx.obstacle(t, "g_solid").ID(), fx.body(physics.RoleLocalPlayer, "me").ID())

	g, _ := fx.field.Glass("g_solid")
	if g.Status != obstacle.GlassIntact || len(fx.pub.glass) != 0 {
		t.Error("non-fragile glass must not transition")
	}
}

func TestRouter_RemoteAvatarIgnored(t *testing.T) {
	fx := newFixture()
	other := fx.body(physics.RoleRemotePlayer, "peer-2")
	fx.world.Touch(fx.obstacle(t, "g_frag").ID(), other.ID())
	fx.world.Touch(fx.obstacle(t, "tile_0").ID(), other.ID())

	if len(fx.pub.glass)+len(fx.pub.fall) != 0 {
		t.Error("contacts of remote avatars are reported by their owners")
	}
}

func TestRouter_FallingPlatformWarns(t *testing.T) {
	fx := newFixture()
	tile := fx.obstacle(t, "tile_0")
	me := fx.body(physics.RoleLocalPlayer, "me")

	fx.world.Touch(tile.ID(), me.ID())
	fx.world.Touch(me.ID(), tile.ID())

	p, _ := fx.field.Falling("tile_0")
	if p.Status != obstacle.FallWarning {
		t.Fatalf("expected warning, got %s", p.Status)
	}
	if len(fx.pub.fall) != 1 || fx.pub.fall[0] != "tile_0:warning" {
		t.Errorf("unexpected published events %v", fx.pub.fall)
	}
}

func TestRouter_BulletContacts(t *testing.T) {
	fx := newFixture()
	bullet := fx.body(physics.RoleBullet, "b1")

	fx.world.Touch(bullet.ID(), fx.obstacle(t, "g_frag").ID())
	if fx.bullets.hits != 1 {
		t.Errorf("bullet handler should see the contact, got %d", fx.bullets.hits)
	}
	g, _ := fx.field.Glass("g_frag")
	if g.Status != obstacle.GlassBroken {
		t.Error("a projectile should break fragile glass")
	}

	wall := fx.body(physics.RoleStatic, "wall")
	fx.world.Touch(wall.ID(), bullet.ID())
	if fx.bullets.hits != 2 {
		t.Errorf("expected 2 bullet contacts, got %d", fx.bullets.hits)
	}
}

func TestRouter_LaunchPad(t *testing.T) {
	fx := newFixture()
	pad := fx.obstacle(t, "booster")
	me := fx.body(physics.RoleLocalPlayer, "me")
	bullet := fx.body(physics.RoleBullet, "b1")

	fx.world.Touch(pad.ID(), me.ID())
	if me.LinearVelocity() != obstacle.LaunchVelocity {
		t.Errorf("player velocity = %v, want %v", me.LinearVelocity(), obstacle.LaunchVelocity)
	}
	fx.world.Touch(pad.ID(), bullet.ID())
	if bullet.LinearVelocity() != (mgl64.Vec3{}) {
		t.Error("launch pads only fire for players")
	}
}

func TestRouter_UnknownBody(t *testing.T) {
	fx := newFixture()
	stray := fx.world.CreateBody(physics.BodyDesc{Tag: physics.Tag{Role: physics.RoleObstacle, ID: "stray"}})
	fx.world.Touch(stray.ID(), fx.body(physics.RoleLocalPlayer, "me").ID())
	if len(fx.pub.glass)+len(fx.pub.fall) != 0 {
		t.Error("unknown obstacle bodies should be ignored")
	}
}
