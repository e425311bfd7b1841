package state

import (
	"math/rand"
	"time"

	"github.com/wfunc/coursesync/bus"
	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/message"
	"github.com/wfunc/coursesync/monitor"
	"github.com/wfunc/coursesync/obstacle"
	"github.com/wfunc/coursesync/timer"
	"github.com/wfunc/coursesync/transport"
)

// Controller is the stage state machine of one peer. Every peer evaluates
// the finish condition itself; the mounted stage always follows the shared
// stage value.
type Controller struct {
	tr      transport.Transport
	field   *obstacle.Field
	course  obstacle.Course
	sched   *timer.Scheduler
	events  *bus.Bus
	players Players
	metrics *monitor.Monitor
	rng     *rand.Rand

	machine *BaseStateMachine
	states  map[Stage]State
	stage   Stage
	since   time.Duration
	light   Light

	// written marks the stages this peer already asked to leave.
	written map[Stage]bool
}

func NewController(tr transport.Transport, field *obstacle.Field, course obstacle.Course, sched *timer.Scheduler, events *bus.Bus, players Players, seed int64) *Controller {
	c := &Controller{
		tr:      tr,
		field:   field,
		course:  course,
		sched:   sched,
		events:  events,
		players: players,
		rng:     rand.New(rand.NewSource(seed)),
		written: make(map[Stage]bool),
	}
	c.states = map[Stage]State{
		StageObstacleCourse: NewObstacleCourseState(c),
		StageRedLight:       NewRedLightState(c),
		StageFinished:       NewFinishedState(c),
	}
	c.machine = NewBaseStateMachine(c.states[StageObstacleCourse])
	c.machine.AddTransition(c.states[StageObstacleCourse], c.states[StageRedLight], nil)
	c.machine.AddTransition(c.states[StageRedLight], c.states[StageFinished], nil)
	bus.Publish(c.events, bus.Stage, bus.StageEvent{Stage: c.stage.String()})
	return c
}

func (c *Controller) SetMonitor(m *monitor.Monitor) { c.metrics = m }

func (c *Controller) Stage() Stage { return c.stage }

// Since is the local time the current stage was entered.
func (c *Controller) Since() time.Duration { return c.since }

// RedLight reports whether moving is currently deadly.
func (c *Controller) RedLight() bool {
	return c.stage == StageRedLight && c.light == LightRed
}

// Update follows the shared stage, runs the current stage and evaluates its
// finish condition.
func (c *Controller) Update() {
	if rec, ok := c.sharedStage(); ok && rec.Stage > c.stage {
		c.enter(rec.Stage)
	}
	c.readLight()
	c.machine.GetCurrentState().OnUpdate()

	if c.written[c.stage] || !c.finished() {
		return
	}
	next, ok := c.stage.Next()
	if !ok {
		return
	}
	c.written[c.stage] = true
	c.writeStage(next)
	c.enter(next)
}

func (c *Controller) sharedStage() (StageRecord, bool) {
	data, ok := c.tr.SharedGet(KeyStage)
	if !ok {
		return StageRecord{}, false
	}
	var rec StageRecord
	if err := message.DecodeInto(data, &rec); err != nil {
		c.metrics.IncMalformed(KeyStage)
		logger.Log.Warnf("Ignoring shared stage: %v", err)
		return StageRecord{}, false
	}
	return rec, true
}

func (c *Controller) writeStage(s Stage) {
	data, err := message.Marshal(StageRecord{Stage: s, At: c.sched.Now().Milliseconds()})
	if err != nil {
		logger.Log.Errorf("Stage %s not written: %v", s, err)
		return
	}
	c.tr.SharedSet(KeyStage, data, true)
	logger.Log.Infof("Finish condition met, advancing to %s", s)
}

// enter walks forward until target is mounted. Targets behind the current
// stage are ignored.
func (c *Controller) enter(target Stage) {
	for c.stage < target {
		next, _ := c.stage.Next()
		if err := c.machine.ChangeState(c.states[next]); err != nil {
			logger.Log.Errorf("Stage change %s -> %s failed: %v", c.stage, next, err)
			return
		}
		c.stage = next
		c.since = c.sched.Now()
		bus.Publish(c.events, bus.Stage, bus.StageEvent{Stage: next.String()})
	}
}

// finished reports whether every peer in the roster is past the stage's
// finish line. A peer whose record has not arrived counts as standing at the
// start.
func (c *Controller) finished() bool {
	var line float64
	switch c.stage {
	case StageObstacleCourse:
		line = CourseFinishZ
	case StageRedLight:
		line = RedLightFinishZ
	default:
		return false
	}
	roster := c.tr.ListPeers()
	if c.players == nil || len(roster) == 0 {
		return false
	}
	z := make(map[string]float64)
	for _, t := range c.players.Transforms() {
		z[t.Peer] = t.Position.Z()
	}
	for _, p := range roster {
		if pz, ok := z[string(p.ID)]; !ok || pz <= line {
			return false
		}
	}
	return true
}

func (c *Controller) readLight() {
	data, ok := c.tr.SharedGet(KeyLight)
	if !ok {
		return
	}
	var rec LightRecord
	if err := message.DecodeInto(data, &rec); err != nil {
		c.metrics.IncMalformed(KeyLight)
		logger.Log.Warnf("Ignoring shared light: %v", err)
		return
	}
	c.setLight(rec.Light)
}

func (c *Controller) setLight(l Light) {
	if l == c.light {
		return
	}
	c.light = l
	bus.Publish(c.events, bus.Light, bus.LightEvent{Light: l.String()})
}

// Field, Layout, Scheduler, IsHost, Light, WriteLight and LightDuration
// implement StageContext.

func (c *Controller) Field() *obstacle.Field { return c.field }

func (c *Controller) Layout(s Stage) obstacle.Layout { return c.course.Layout(s.String()) }

func (c *Controller) Scheduler() *timer.Scheduler { return c.sched }

func (c *Controller) IsHost() bool { return c.tr.IsHost() }

func (c *Controller) Light() Light { return c.light }

func (c *Controller) WriteLight(l Light) {
	data, err := message.Marshal(LightRecord{Light: l})
	if err != nil {
		logger.Log.Errorf("Light not written: %v", err)
		return
	}
	c.tr.SharedSet(KeyLight, data, true)
	c.setLight(l)
}

func (c *Controller) LightDuration(l Light) time.Duration {
	lo, hi := GreenMin, GreenMax
	if l == LightRed {
		lo, hi = RedMin, RedMax
	}
	return lo + time.Duration(c.rng.Int63n(int64(hi-lo)+1))
}
