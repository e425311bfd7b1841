// state/interfaces.go
package state

import (
	"time"

	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/player"
	"github.com/wfunc/coursesync/timer"
)

// Players is the source of replicated player transforms the finish
// condition is evaluated against.
type Players interface {
	Transforms() []player.Transform
}

// StageContext is what a stage state needs from the controller that owns it.
// This keeps the states free of transport details.
type StageContext interface {
	Field() *obstacle.Field
	Layout(stage Stage) obstacle.Layout
	Scheduler() *timer.Scheduler
	IsHost() bool
	Light() Light
	WriteLight(l Light)
	LightDuration(l Light) time.Duration
}
