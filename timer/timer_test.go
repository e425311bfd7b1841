package timer

import (
	"testing"
	"time"
)

func TestScheduler_RunsInDeadlineOrder(t *testing.T) {
	s := NewScheduler()
	scope := s.NewScope()

	var order []string
	scope.After(300*time.Millisecond, func() { order = append(order, "c") })
	scope.After(100*time.Millisecond, func() { order = append(order, "a") })
	scope.After(200*time.Millisecond, func() { order = append(order, "b") })

	s.Advance(150 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 150ms got %v, want [a]", order)
	}

	s.Advance(time.Second)
	if len(order) != 3 || order[1] != "b" || order[2] != "c" {
		t.Fatalf("after 1s got %v, want [a b c]", order)
	}
	if scope.Len() != 0 {
		t.Errorf("Expected fired tasks to leave the scope, got %d pending", scope.Len())
	}
}

func TestScheduler_Every(t *testing.T) {
	s := NewScheduler()
	scope := s.NewScope()

	count := 0
	scope.Every(time.Second, func() { count++ })

	for ms := 0; ms <= 3500; ms += 100 {
		s.Advance(time.Duration(ms) * time.Millisecond)
	}
	if count != 3 {
		t.Errorf("Expected 3 interval firings in 3.5s, got %d", count)
	}
}

func TestScope_CancelDropsPendingTasks(t *testing.T) {
	s := NewScheduler()
	scope := s.NewScope()
	other := s.NewScope()

	fired := false
	otherFired := false
	scope.After(time.Second, func() { fired = true })
	scope.Every(time.Second, func() { fired = true })
	other.After(time.Second, func() { otherFired = true })

	scope.Cancel()
	s.Advance(2 * time.Second)

	if fired {
		t.Error("Cancelled scope should not run its tasks")
	}
	if !otherFired {
		t.Error("Cancelling one scope should not affect another")
	}
	if s.Pending() != 0 {
		t.Errorf("Expected empty queue, got %d", s.Pending())
	}

	h := scope.After(time.Millisecond, func() { fired = true })
	if h.Active() {
		t.Error("A cancelled scope should refuse new tasks")
	}
}

func TestHandle_Cancel(t *testing.T) {
	s := NewScheduler()
	scope := s.NewScope()

	fired := false
	h := scope.After(500*time.Millisecond, func() { fired = true })
	if !h.Active() {
		t.Fatal("Expected handle to be active after scheduling")
	}
	h.Cancel()
	h.Cancel()
	s.Advance(time.Second)

	if fired {
		t.Error("Cancelled handle should not fire")
	}
	if h.Active() {
		t.Error("Cancelled handle should not be active")
	}

	var zero Handle
	zero.Cancel()
}

func TestScheduler_CallbackSchedulesImmediateTask(t *testing.T) {
	s := NewScheduler()
	scope := s.NewScope()

	ran := 0
	scope.After(10*time.Millisecond, func() {
		ran++
		scope.After(0, func() { ran++ })
	})
	s.Advance(10 * time.Millisecond)
	if ran != 2 {
		t.Errorf("Expected chained zero-delay task to run in the same Advance, ran=%d", ran)
	}
}
