package obstacle

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	WarningDelay    = 800 * time.Millisecond  // warning → falling, host timer
	FallingDuration = 5000 * time.Millisecond // falling → stable, host timer
	PulseDuration   = 300 * time.Millisecond  // launch pad visual pulse
)

var (
	// LaunchVelocity is the velocity given to anything landing on a pad.
	LaunchVelocity = mgl64.Vec3{0, 31, 70}

	GlassHalfExtents    = mgl64.Vec3{1.75, 0.1, 2.5}
	FallingHalfExtents  = mgl64.Vec3{2, 0.25, 2}
	LaunchPadHalfExtent = mgl64.Vec3{2.5, 0.15, 2.5}
	MovingHalfExtents   = mgl64.Vec3{2.5, 0.3, 2.5}
)
