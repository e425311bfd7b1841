package player

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wfunc/coursesync/message"
)

// StateKey is the peer-state key each peer publishes its Record under.
const StateKey = "player"

const (
	MoveSpeed       = 9.0
	JumpForce       = 17.0
	GravityScale    = 2.3
	HeadingSlerp    = 0.2
	FloorY          = -15.0
	RespawnDelay    = 10 * time.Second
	RedLightSpeed   = 0.3
	GhostSpeed      = 15.0
	FollowDistance  = 40.0
	groundedEpsilon = 0.05
)

var (
	Spawn       = mgl64.Vec3{0, 5, 0}
	HalfExtents = mgl64.Vec3{0.5, 1, 0.5}
)

type Role uint8

const (
	RoleNormal Role = iota
	RoleSpecial
)

func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "normal"
	case RoleSpecial:
		return "special"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func (r Role) Valid() bool { return r <= RoleSpecial }

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "", "normal":
		return RoleNormal, nil
	case "special":
		return RoleSpecial, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Input is one tick of sampled controls. Aim is the camera look direction.
// Follow jumps to a far special-role player on the tick it is pressed.
type Input struct {
	Forward, Back, Left, Right bool
	Jump                       bool
	Fire                       bool
	Follow                     bool
	Aim                        mgl64.Vec3
}

// Direction returns the unit horizontal movement direction, or zero.
func (in Input) Direction() mgl64.Vec3 {
	var d mgl64.Vec3
	if in.Forward {
		d[2]++
	}
	if in.Back {
		d[2]--
	}
	if in.Right {
		d[0]++
	}
	if in.Left {
		d[0]--
	}
	if d.Len() == 0 {
		return d
	}
	return d.Normalize()
}

// Record is the replicated state of one player. Orientation is x, y, z, w.
type Record struct {
	Position    [3]float64 `msgpack:"p"`
	Orientation [4]float64 `msgpack:"q"`
	Dead        bool       `msgpack:"d"`
	Role        Role       `msgpack:"r"`
}

var _ message.Validator = Record{}

func (r Record) Validate() error {
	if !message.Finite(r.Position[:]...) || !message.Finite(r.Orientation[:]...) {
		return errors.New("non-finite transform")
	}
	q := r.Orientation
	if math.Sqrt(q[0]*q[0]+q[1]*q[1]+q[2]*q[2]+q[3]*q[3]) < 1e-6 {
		return errors.New("zero orientation")
	}
	if !r.Role.Valid() {
		return fmt.Errorf("invalid role %d", r.Role)
	}
	return nil
}

func (r Record) Pos() mgl64.Vec3 {
	return mgl64.Vec3(r.Position)
}

func (r Record) Rotation() mgl64.Quat {
	q := r.Orientation
	return mgl64.Quat{W: q[3], V: mgl64.Vec3{q[0], q[1], q[2]}}.Normalize()
}

func newRecord(pos mgl64.Vec3, rot mgl64.Quat, dead bool, role Role) Record {
	return Record{
		Position:    [3]float64(pos),
		Orientation: [4]float64{rot.V[0], rot.V[1], rot.V[2], rot.W},
		Dead:        dead,
		Role:        role,
	}
}

// Transform is the render-facing view of one player.
type Transform struct {
	Peer     string
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Dead     bool
	Role     Role
	Local    bool
}
