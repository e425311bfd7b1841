// Package collision turns physics contacts into obstacle transition
// requests. Requests are filtered by the locally applied state first, and
// obstacle.Field only publishes a request that actually changed that state.
package collision

import (
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/physics"
)

// BulletHandler receives contacts that involve a projectile body.
type BulletHandler interface {
	HandleContact(bullet, other physics.Body) bool
}

type Router struct {
	field   *obstacle.Field
	bullets BulletHandler
	metrics *monitor.Monitor
}

func NewRouter(field *obstacle.Field, bullets BulletHandler) *Router {
	return &Router{field: field, bullets: bullets}
}

func (r *Router) SetMonitor(m *monitor.Monitor) { r.metrics = m }

// Attach registers the router with engine and returns the cancel func.
func (r *Router) Attach(engine physics.Engine) func() {
	return engine.OnContact(r.HandleContact)
}

func (r *Router) HandleContact(c physics.Contact) {
	if bullet, other, ok := c.With(physics.RoleBullet); ok {
		if r.bullets != nil {
			r.bullets.HandleContact(bullet, other)
		}
		if other.Tag().Role == physics.RoleObstacle {
			r.trigger(other, bullet)
		}
		return
	}
	if obs, other, ok := c.With(physics.RoleObstacle); ok {
		r.trigger(obs, other)
	}
}

// qualifies reports whether a contact with body may originate a request on
// this peer. Remote avatars are simulated by their owners, who report
// their own contacts.
func qualifies(body physics.Body) bool {
	switch body.Tag().Role {
	case physics.RoleLocalPlayer, physics.RoleBullet:
		return true
	}
	return false
}

func (r *Router) trigger(obs, other physics.Body) {
	if !qualifies(other) {
		return
	}
	ref, ok := r.field.Lookup(obs.ID())
	if !ok {
		return
	}

	switch ref.Kind {
	case obstacle.KindGlassTile:
		g, ok := r.field.Glass(ref.ID)
		if !ok || !g.Fragile || g.Status != obstacle.GlassIntact {
			return
		}
		r.metrics.ObserveTransition(ref.Kind.String(), r.field.RequestGlass(ref.ID, obstacle.GlassBroken))
	case obstacle.KindFallingPlatform:
		p, ok := r.field.Falling(ref.ID)
		if !ok || p.Status != obstacle.FallStable {
			return
		}
		r.metrics.ObserveTransition(ref.Kind.String(), r.field.RequestFall(ref.ID, obstacle.FallWarning))
	case obstacle.KindLaunchPad:
		if other.Tag().Role == physics.RoleLocalPlayer {
			r.field.Launch(ref.ID, other)
		}
	}
}
