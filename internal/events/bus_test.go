package events

import (
	"testing"
)

func TestPublishReachesSubscribedKindOnly(t *testing.T) {
	bus := NewBus()

	var connected, disconnected int
	bus.Subscribe(KindConnected, func(Event) { connected++ })
	bus.Subscribe(KindDisconnected, func(Event) { disconnected++ })

	bus.Publish(Connected{})
	bus.Publish(Connected{})
	bus.Publish(Disconnected{Reason: "bye"})

	if connected != 2 {
		t.Errorf("connected handler ran %d times, want 2", connected)
	}
	if disconnected != 1 {
		t.Errorf("disconnected handler ran %d times, want 1", disconnected)
	}
}

func TestPublishDeliversTypedPayload(t *testing.T) {
	bus := NewBus()

	var got VolumeChanged
	bus.Subscribe(KindVolumeChanged, func(e Event) {
		got = e.(VolumeChanged)
	})

	bus.Publish(VolumeChanged{Source: "Mic", Volume: 0.5})

	if got.Source != "Mic" || got.Volume != 0.5 {
		t.Errorf("payload = %+v, want Mic at 0.5", got)
	}
}

func TestPublishOrderIsPreserved(t *testing.T) {
	bus := NewBus()

	var seen []float64
	bus.Subscribe(KindVolumeChanged, func(e Event) {
		seen = append(seen, e.(VolumeChanged).Volume)
	})

	for _, v := range []float64{0.1, 0.2, 0.3} {
		bus.Publish(VolumeChanged{Source: "Mic", Volume: v})
	}

	want := []float64{0.1, 0.2, 0.3}
	if len(seen) != len(want) {
		t.Fatalf("deliveries = %d, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("delivery %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestMultipleSubscribersRunInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.Subscribe(KindConnected, func(Event) { order = append(order, "first") })
	bus.Subscribe(KindConnected, func(Event) { order = append(order, "second") })

	bus.Publish(Connected{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v, want [first second]", order)
	}
}

func TestPublishWithoutSubscribersIsHarmless(t *testing.T) {
	bus := NewBus()
	bus.Publish(MeterBatch{})
	bus.Publish(Disconnected{Reason: "nobody listening"})
}
