package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/coursesync/message"
)

// Shared-state keys.
const (
	KeyStage = "gameStage"
	KeyLight = "squidStatus"
)

// Stage is the top-level game stage. Stages only move forward.
type Stage uint8

const (
	StageObstacleCourse Stage = iota
	StageRedLight
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageObstacleCourse:
		return "OBSTACLE_COURSE"
	case StageRedLight:
		return "RED_LIGHT_GREEN_LIGHT"
	case StageFinished:
		return "FINISHED"
	}
	return fmt.Sprintf("STAGE(%d)", uint8(s))
}

func (s Stage) Valid() bool { return s <= StageFinished }

// Next returns the stage that follows s, and false for the last stage.
func (s Stage) Next() (Stage, bool) {
	if s >= StageFinished {
		return s, false
	}
	return s + 1, true
}

// Light is the red/green status of the red-light stage.
type Light uint8

const (
	LightGreen Light = iota
	LightRed
)

func (l Light) String() string {
	if l == LightRed {
		return "RED"
	}
	return "GREEN"
}

func (l Light) Valid() bool { return l <= LightRed }

func (l Light) Toggle() Light {
	if l == LightRed {
		return LightGreen
	}
	return LightRed
}

// Finish lines along z per stage.
const (
	CourseFinishZ   = 205.0
	RedLightFinishZ = 390.0
)

// Red/green durations of the host light loop.
const (
	GreenMin = 2 * time.Second
	GreenMax = 5 * time.Second
	RedMin   = 1500 * time.Millisecond
	RedMax   = 2500 * time.Millisecond
)

// StageRecord is the shared value under KeyStage.
type StageRecord struct {
	Stage Stage `msgpack:"s"`
	At    int64 `msgpack:"t"` // simulated milliseconds at the transition
}

var _ message.Validator = StageRecord{}

func (r StageRecord) Validate() error {
	if !r.Stage.Valid() {
		return fmt.Errorf("invalid stage %d", r.Stage)
	}
	if r.At < 0 {
		return errors.New("negative timestamp")
	}
	return nil
}

// LightRecord is the shared value under KeyLight.
type LightRecord struct {
	Light Light `msgpack:"l"`
}

func (r LightRecord) Validate() error {
	if !r.Light.Valid() {
		return fmt.Errorf("invalid light %d", r.Light)
	}
	return nil
}
