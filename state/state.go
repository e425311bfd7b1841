package state

import (
	"errors"
	"sync"

	"github.com/wfunc/coursesync/logger"
	"github.com/wfunc/coursesync/timer"
)

// StateMachine moves between registered states.
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from State, to State, condition func() bool) error
}

// State is one node of a StateMachine.
type State interface {
	OnEnter()
	OnExit()
	OnUpdate()
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// BaseStateMachine only follows registered transitions, so a machine wired
// with forward edges alone can never roll back.
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]func() bool // fromState -> toState -> condition
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]func() bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	conditions, exists := sm.transitions[currentID]
	if !exists {
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[newID]
	if !exists || (condition != nil && !condition()) {
		return ErrTransitionNotAllowed
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from State, to State, condition func() bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	fromID := from.GetID()
	toID := to.GetID()

	if _, exists := sm.transitions[fromID]; !exists {
		sm.transitions[fromID] = make(map[string]func() bool)
	}

	sm.transitions[fromID][toID] = condition
	return nil
}

// StageStateBase mounts its stage on enter and tears it down on exit.
type StageStateBase struct {
	ID    string
	Stage Stage
	Ctx   StageContext
	scope *timer.Scope
}

func (s *StageStateBase) GetID() string {
	return s.ID
}

// OnEnter mounts the obstacle set of the stage.
func (s *StageStateBase) OnEnter() {
	s.scope = s.Ctx.Scheduler().NewScope()
	s.Ctx.Field().Mount(s.Ctx.Layout(s.Stage))
	logger.Log.Infof("Entered stage %s with %d obstacles", s.ID, s.Ctx.Field().Len())
}

// OnExit cancels the stage timers and tears down its obstacles.
func (s *StageStateBase) OnExit() {
	if s.scope != nil {
		s.scope.Cancel()
	}
	s.Ctx.Field().Unmount()
}

func (s *StageStateBase) OnUpdate() {}

func newBase(stage Stage, ctx StageContext) StageStateBase {
	return StageStateBase{ID: stage.String(), Stage: stage, Ctx: ctx}
}

// ObstacleCourseState is the glass bridge, launch pad, movers and falling
// tiles.
type ObstacleCourseState struct {
	StageStateBase
}

func NewObstacleCourseState(ctx StageContext) *ObstacleCourseState {
	return &ObstacleCourseState{StageStateBase: newBase(StageObstacleCourse, ctx)}
}

// RedLightState runs the red/green light. Only the host drives the light;
// a peer that becomes host picks the loop up on its next update.
type RedLightState struct {
	StageStateBase
	running bool
}

func NewRedLightState(ctx StageContext) *RedLightState {
	return &RedLightState{StageStateBase: newBase(StageRedLight, ctx)}
}

func (s *RedLightState) OnEnter() {
	s.StageStateBase.OnEnter()
	s.running = false
	s.OnUpdate()
}

func (s *RedLightState) OnExit() {
	s.running = false
	s.StageStateBase.OnExit()
}

func (s *RedLightState) OnUpdate() {
	host := s.Ctx.IsHost()
	switch {
	case host && !s.running:
		s.running = true
		s.cycle(s.Ctx.Light())
	case !host && s.running:
		s.running = false
		s.scope.Cancel()
		s.scope = s.Ctx.Scheduler().NewScope()
	}
}

func (s *RedLightState) cycle(l Light) {
	s.Ctx.WriteLight(l)
	scope := s.scope
	scope.After(s.Ctx.LightDuration(l), func() {
		if scope == s.scope && s.running {
			s.cycle(l.Toggle())
		}
	})
}

type FinishedState struct {
	StageStateBase
}

func NewFinishedState(ctx StageContext) *FinishedState {
	return &FinishedState{StageStateBase: newBase(StageFinished, ctx)}
}
