package bus

import "testing"

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()

	var got []bool
	unsub := Subscribe(b, Death, func(e DeathEvent) { got = append(got, e.Dead) })

	Publish(b, Death, DeathEvent{Dead: true})
	Publish(b, Charge, ChargeEvent{Level: 0.5})
	Publish(b, Death, DeathEvent{Dead: false})

	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("unexpected death events: %v", got)
	}

	unsub()
	Publish(b, Death, DeathEvent{Dead: true})
	if len(got) != 2 {
		t.Error("unsubscribed handler should not be called")
	}
}

func TestBus_NilBusDrops(t *testing.T) {
	var b *Bus
	Publish(b, Stage, StageEvent{Stage: "FINISHED"})
}
