package obstacle

import (
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindGlassTile Kind = iota + 1
	KindFallingPlatform
	KindLaunchPad
	KindMovingPlatform
)

func (k Kind) String() string {
	switch k {
	case KindGlassTile:
		return "glass"
	case KindFallingPlatform:
		return "falling"
	case KindLaunchPad:
		return "launch"
	case KindMovingPlatform:
		return "moving"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	return k >= KindGlassTile && k <= KindMovingPlatform
}

// GlassStatus is the lifecycle of a glass tile. Broken is terminal.
type GlassStatus uint8

const (
	GlassIntact GlassStatus = iota
	GlassBroken
)

func (s GlassStatus) String() string {
	switch s {
	case GlassIntact:
		return "intact"
	case GlassBroken:
		return "broken"
	}
	return fmt.Sprintf("glass(%d)", uint8(s))
}

func (s GlassStatus) Valid() bool { return s <= GlassBroken }

// FallStatus is the cyclic lifecycle of a falling platform.
type FallStatus uint8

const (
	FallStable FallStatus = iota
	FallWarning
	FallFalling
)

func (s FallStatus) String() string {
	switch s {
	case FallStable:
		return "stable"
	case FallWarning:
		return "warning"
	case FallFalling:
		return "falling"
	}
	return fmt.Sprintf("fall(%d)", uint8(s))
}

func (s FallStatus) Valid() bool { return s <= FallFalling }

// Axis is the oscillation axis of a moving platform.
type Axis string

const (
	AxisX Axis = "x"
	AxisZ Axis = "z"
)

func ParseAxis(s string) (Axis, error) {
	switch Axis(strings.ToLower(s)) {
	case AxisX:
		return AxisX, nil
	case AxisZ:
		return AxisZ, nil
	}
	return "", fmt.Errorf("unknown axis %q", s)
}
