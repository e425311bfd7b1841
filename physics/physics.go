// Package physics is the boundary to the rigid-body engine. The simulation
// only talks to Engine and Body; World is a small reference engine used by
// the headless peer and by tests.
package physics

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

type BodyID uint64

// BodyMode selects who drives a body's pose.
type BodyMode uint8

const (
	// ModeFixed bodies never move unless their pose is set directly.
	ModeFixed BodyMode = iota
	// ModeKinematic bodies follow SetNextKinematicPose.
	ModeKinematic
	// ModeDynamic bodies are integrated under gravity and impulses.
	ModeDynamic
)

func (m BodyMode) String() string {
	switch m {
	case ModeFixed:
		return "fixed"
	case ModeKinematic:
		return "kinematic"
	case ModeDynamic:
		return "dynamic"
	}
	return "unknown"
}

// Role is the contact metadata attached to every body.
type Role uint8

const (
	RoleStatic Role = iota
	RoleObstacle
	RoleLocalPlayer
	RoleRemotePlayer
	RoleBullet
)

// Tag identifies what a body belongs to. ID is the obstacle, peer or
// projectile id; Owner is the shooter for bullets.
type Tag struct {
	Role  Role
	ID    string
	Owner string
}

type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// At returns a pose at p with identity rotation.
func At(p mgl64.Vec3) Pose {
	return Pose{Position: p, Rotation: mgl64.QuatIdent()}
}

type BodyDesc struct {
	Tag          Tag
	Pose         Pose
	Mode         BodyMode
	HalfExtents  mgl64.Vec3
	GravityScale float64
}

type Body interface {
	ID() BodyID
	Tag() Tag
	Pose() Pose
	SetPose(p Pose)
	LinearVelocity() mgl64.Vec3
	SetLinearVelocity(v mgl64.Vec3)
	ApplyImpulse(impulse mgl64.Vec3)
	Mode() BodyMode
	SetBodyMode(mode BodyMode)
	SetNextKinematicPose(p Pose)
	SetGravityScale(scale float64)
}

// Contact is a contact-begin signal between two bodies.
type Contact struct {
	A, B Body
}

// Other returns the body on the other side of c from self.
func (c Contact) Other(self BodyID) Body {
	if c.A.ID() == self {
		return c.B
	}
	return c.A
}

// With returns the first body whose tag has the given role and its partner.
func (c Contact) With(role Role) (self, other Body, ok bool) {
	switch {
	case c.A.Tag().Role == role:
		return c.A, c.B, true
	case c.B.Tag().Role == role:
		return c.B, c.A, true
	}
	return nil, nil, false
}

type Engine interface {
	CreateBody(desc BodyDesc) Body
	RemoveBody(id BodyID)
	Body(id BodyID) (Body, bool)
	Step(dt time.Duration)
	OnContact(fn func(Contact)) (cancel func())
}
