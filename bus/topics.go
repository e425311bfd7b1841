package bus

import "github.com/go-gl/mathgl/mgl64"

// DeathEvent is published when the local player dies or respawns.
type DeathEvent struct {
	Dead bool
}

// ChargeEvent carries the shot charge in [0,1]; 0 hides the bar.
type ChargeEvent struct {
	Level float64
}

// RespawnEvent counts down whole seconds until the local respawn.
type RespawnEvent struct {
	Remaining int
}

// ObstacleEvent reports a locally applied obstacle transition.
type ObstacleEvent struct {
	ID     string
	Kind   string
	Status string
}

// StageEvent reports that the mounted stage changed.
type StageEvent struct {
	Stage string
}

// LightEvent reports the red/green light as seen locally.
type LightEvent struct {
	Light string
}

// ImpactEvent is a local cosmetic projectile impact.
type ImpactEvent struct {
	Position mgl64.Vec3
	Normal   mgl64.Vec3
}

// ShotEvent is the elimination cue for a peer caught moving on red.
type ShotEvent struct {
	Peer string
}

// PulseEvent reports a launch pad firing.
type PulseEvent struct {
	ID string
}

// FollowHintEvent shows the follow prompt while a special-role player is out
// of range. Peer is empty when the prompt hides.
type FollowHintEvent struct {
	Peer string
	Show bool
}

var (
	Death    = Topic[DeathEvent]{"death"}
	Charge   = Topic[ChargeEvent]{"charge"}
	Respawn  = Topic[RespawnEvent]{"respawn"}
	Obstacle = Topic[ObstacleEvent]{"obstacle"}
	Stage    = Topic[StageEvent]{"stage"}
	Light    = Topic[LightEvent]{"light"}
	Impact   = Topic[ImpactEvent]{"impact"}
	Shot     = Topic[ShotEvent]{"shot"}
	Pulse    = Topic[PulseEvent]{"pulse"}
	Follow   = Topic[FollowHintEvent]{"follow"}
)
