// timer/timer.go
package timer

import (
	"container/heap"
	"time"
)

// Scheduler runs callbacks against simulated time. It is driven by Advance
// from the peer's tick loop, so callbacks execute on the tick goroutine and
// never race with the rest of the simulation.
type Scheduler struct {
	queue  TimerQueue
	now    time.Duration
	nextId int64
}

type TimerTask struct {
	Id       int64
	Execute  time.Duration
	Interval time.Duration
	Callback func()
	scope    *Scope
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	if q[i].Execute == q[j].Execute {
		return q[i].Id < q[j].Id
	}
	return q[i].Execute < q[j].Execute
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*q = old[0 : n-1]
	return task
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		queue:  make(TimerQueue, 0),
		nextId: 1,
	}
	heap.Init(&s.queue)
	return s
}

// Now returns the simulated time of the last Advance.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Pending reports how many tasks are queued.
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

func (s *Scheduler) add(scope *Scope, delay, interval time.Duration, callback func()) *TimerTask {
	if delay < 0 {
		delay = 0
	}
	task := &TimerTask{
		Id:       s.nextId,
		Execute:  s.now + delay,
		Interval: interval,
		Callback: callback,
		scope:    scope,
	}
	s.nextId++
	heap.Push(&s.queue, task)
	return task
}

func (s *Scheduler) remove(task *TimerTask) bool {
	if task.index < 0 || task.index >= s.queue.Len() || s.queue[task.index] != task {
		return false
	}
	heap.Remove(&s.queue, task.index)
	return true
}

// Advance moves simulated time to now and runs every task that became due,
// in deadline order. Tasks scheduled by callbacks with a zero delay run in
// the same call.
func (s *Scheduler) Advance(now time.Duration) {
	if now > s.now {
		s.now = now
	}

	for s.queue.Len() > 0 {
		task := s.queue[0]
		if task.Execute > s.now {
			break
		}

		heap.Pop(&s.queue)
		if task.Interval > 0 {
			task.Execute += task.Interval
			heap.Push(&s.queue, task)
		} else if task.scope != nil {
			task.scope.forget(task)
		}
		task.Callback()
	}
}

// NewScope creates a group of tasks that can be cancelled together.
func (s *Scheduler) NewScope() *Scope {
	return &Scope{sched: s, tasks: make(map[int64]*TimerTask)}
}

// Scope owns scheduled tasks for one obstacle, stage or entity. Cancel drops
// every pending task; a cancelled scope refuses new ones.
type Scope struct {
	sched    *Scheduler
	tasks    map[int64]*TimerTask
	canceled bool
}

// Handle refers to one scheduled task.
type Handle struct {
	task  *TimerTask
	scope *Scope
}

// After schedules fn once after delay.
func (sc *Scope) After(delay time.Duration, fn func()) Handle {
	return sc.schedule(delay, 0, fn)
}

// Every schedules fn every interval, first after one interval.
func (sc *Scope) Every(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		return Handle{}
	}
	return sc.schedule(interval, interval, fn)
}

func (sc *Scope) schedule(delay, interval time.Duration, fn func()) Handle {
	if sc.canceled {
		return Handle{}
	}
	task := sc.sched.add(sc, delay, interval, fn)
	sc.tasks[task.Id] = task
	return Handle{task: task, scope: sc}
}

func (sc *Scope) forget(task *TimerTask) {
	delete(sc.tasks, task.Id)
}

// Len reports the number of pending tasks in the scope.
func (sc *Scope) Len() int {
	return len(sc.tasks)
}

// Canceled reports whether Cancel has been called.
func (sc *Scope) Canceled() bool {
	return sc.canceled
}

// Cancel removes every pending task owned by the scope.
func (sc *Scope) Cancel() {
	if sc.canceled {
		return
	}
	sc.canceled = true
	for id, task := range sc.tasks {
		sc.sched.remove(task)
		delete(sc.tasks, id)
	}
}

// Active reports whether the task is still queued.
func (h Handle) Active() bool {
	if h.task == nil {
		return false
	}
	_, ok := h.scope.tasks[h.task.Id]
	return ok
}

// Cancel removes the task if it has not fired. Safe on the zero Handle.
func (h Handle) Cancel() {
	if h.task == nil {
		return
	}
	h.scope.sched.remove(h.task)
	h.scope.forget(h.task)
}
