package midi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/obsmix/obs-midi-mixer/internal/config"
	"github.com/obsmix/obs-midi-mixer/internal/events"
)

type targetCall struct {
	op     string
	source string
	scene  string
	volume float64
}

type fakeTarget struct {
	calls chan targetCall
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{calls: make(chan targetCall, 16)}
}

func (f *fakeTarget) SetVolume(_ context.Context, source string, volume float64) error {
	f.calls <- targetCall{op: "volume", source: source, volume: volume}
	return nil
}

func (f *fakeTarget) ToggleMute(_ context.Context, source string) (bool, error) {
	f.calls <- targetCall{op: "mute", source: source}
	return true, nil
}

func (f *fakeTarget) SetScene(_ context.Context, scene string) error {
	f.calls <- targetCall{op: "scene", scene: scene}
	return nil
}

func (f *fakeTarget) expectCall(t *testing.T) targetCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("expected a target call, got none")
		return targetCall{}
	}
}

func (f *fakeTarget) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected target call %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestMidiSession(t *testing.T) (*Session, *fakeTarget, *events.Bus) {
	t.Helper()
	cfg, err := config.Open(filepath.Join(t.TempDir(), "settings.json"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	bus := events.NewBus()
	s := NewSession(cfg, bus, zap.NewNop().Sugar())
	target := newFakeTarget()
	s.SetTarget(target)
	return s, target, bus
}

func TestDispatchVolumeScalesByMaxVolume(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic", MaxVolume: 0.8})

	s.handleRaw([]byte{0xB0, 7, 127})

	call := target.expectCall(t)
	if call.op != "volume" || call.source != "Mic" {
		t.Fatalf("call = %+v, want volume on Mic", call)
	}
	if diff := call.volume - 0.8; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("volume = %v, want 0.8", call.volume)
	}
}

func TestDispatchVolumeDefaultsMaxVolume(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic"})

	s.handleRaw([]byte{0xB0, 7, 64})

	call := target.expectCall(t)
	want := 64.0 / 127
	if diff := call.volume - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("volume = %v, want %v", call.volume, want)
	}
}

func TestDispatchVolumeIgnoresNoteOn(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("note_60_1", Action{Type: ActionVolume, SourceName: "Mic"})

	s.handleRaw([]byte{0x90, 60, 100})

	target.expectNoCall(t)
}

func TestDispatchMuteOnNoteOnOnly(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("note_60_1", Action{Type: ActionMute, SourceName: "Mic"})
	s.Mappings().Set("cc_7_1", Action{Type: ActionMute, SourceName: "Mic"})

	s.handleRaw([]byte{0x90, 60, 100})
	call := target.expectCall(t)
	if call.op != "mute" || call.source != "Mic" {
		t.Fatalf("call = %+v, want mute on Mic", call)
	}

	// Releasing the button must not toggle again.
	s.handleRaw([]byte{0x90, 60, 0})
	target.expectNoCall(t)

	// A fader mapped to mute stays inert.
	s.handleRaw([]byte{0xB0, 7, 64})
	target.expectNoCall(t)
}

func TestDispatchScene(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("note_36_1", Action{Type: ActionScene, SceneName: "Intro"})

	s.handleRaw([]byte{0x90, 36, 127})

	call := target.expectCall(t)
	if call.op != "scene" || call.scene != "Intro" {
		t.Fatalf("call = %+v, want scene Intro", call)
	}
}

func TestDispatchIgnoresUnmappedControl(t *testing.T) {
	s, target, _ := newTestMidiSession(t)

	s.handleRaw([]byte{0xB0, 7, 64})
	s.handleRaw([]byte{0x90, 60, 100})

	target.expectNoCall(t)
}

func TestLearningCapturesExactlyOneEvent(t *testing.T) {
	s, target, _ := newTestMidiSession(t)
	s.Mappings().Set("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic"})

	captured := make(chan Event, 2)
	s.StartLearning(func(ev Event) { captured <- ev }, time.Minute)

	// First event is captured, not dispatched.
	s.handleRaw([]byte{0xB0, 7, 64})
	select {
	case ev := <-captured:
		if ev.ControlID != "cc_7_1" {
			t.Errorf("captured control = %q, want cc_7_1", ev.ControlID)
		}
	case <-time.After(time.Second):
		t.Fatal("learning callback never fired")
	}
	target.expectNoCall(t)

	// Second event dispatches normally; learning is one-shot.
	s.handleRaw([]byte{0xB0, 7, 100})
	if call := target.expectCall(t); call.op != "volume" {
		t.Errorf("call = %+v, want volume dispatch after learning exited", call)
	}
	select {
	case ev := <-captured:
		t.Fatalf("second event %q captured after learning exited", ev.ControlID)
	default:
	}
}

func TestLearningTimesOut(t *testing.T) {
	s, target, bus := newTestMidiSession(t)
	s.Mappings().Set("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic"})

	stopped := make(chan struct{}, 1)
	bus.Subscribe(events.KindLearningStopped, func(events.Event) {
		select {
		case stopped <- struct{}{}:
		default:
		}
	})

	s.StartLearning(func(Event) { t.Error("callback fired without input") }, 30*time.Millisecond)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("learning never timed out")
	}

	// After the timeout events dispatch normally again.
	s.handleRaw([]byte{0xB0, 7, 64})
	if call := target.expectCall(t); call.op != "volume" {
		t.Errorf("call = %+v, want volume dispatch after timeout", call)
	}
}

func TestMapControlPersistsAcrossReload(t *testing.T) {
	s, _, _ := newTestMidiSession(t)

	s.MapControl("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic", MaxVolume: 0.8})
	s.MapControl("note_60_1", Action{Type: ActionScene, SceneName: "Intro"})

	s.Mappings().Clear()
	s.LoadMappings()

	if s.Mappings().Len() != 2 {
		t.Fatalf("len = %d, want 2 after reload", s.Mappings().Len())
	}
	a, ok := s.Mappings().Get("cc_7_1")
	if !ok || a.Type != ActionVolume || a.SourceName != "Mic" || a.MaxVolume != 0.8 {
		t.Errorf("reloaded mapping = %+v, %v", a, ok)
	}
	b, ok := s.Mappings().Get("note_60_1")
	if !ok || b.Type != ActionScene || b.SceneName != "Intro" {
		t.Errorf("reloaded mapping = %+v, %v", b, ok)
	}
}

func TestRemoveMappingAlsoRemovesPersisted(t *testing.T) {
	s, _, _ := newTestMidiSession(t)

	s.MapControl("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic"})
	s.RemoveMapping("cc_7_1")

	s.Mappings().Clear()
	s.LoadMappings()

	if _, ok := s.Mappings().Get("cc_7_1"); ok {
		t.Error("removed mapping came back after reload")
	}
}

func TestMappingsSurviveDeviceDisconnect(t *testing.T) {
	s, target, bus := newTestMidiSession(t)
	s.MapControl("cc_7_1", Action{Type: ActionVolume, SourceName: "Mic"})

	disconnected := make(chan struct{}, 1)
	bus.Subscribe(events.KindDeviceDisconnected, func(events.Event) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	})

	// Stand in for an established device connection.
	s.mu.Lock()
	s.activeID = "test-device"
	s.stopListen = func() {}
	s.mu.Unlock()

	s.DisconnectFromDevice()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("no device-disconnected event")
	}

	if s.Mappings().Len() != 1 {
		t.Fatalf("mappings = %d, want 1 kept across disconnect", s.Mappings().Len())
	}

	// Dispatch keys off the mapping store, not device state.
	s.handleRaw([]byte{0xB0, 7, 64})
	if call := target.expectCall(t); call.op != "volume" {
		t.Errorf("call = %+v, want volume dispatch from the kept mapping", call)
	}
}

func TestHandleRawPublishesMidiMessage(t *testing.T) {
	s, _, bus := newTestMidiSession(t)

	messages := make(chan events.MidiMessage, 1)
	bus.Subscribe(events.KindMidiMessage, func(e events.Event) {
		select {
		case messages <- e.(events.MidiMessage):
		default:
		}
	})

	s.handleRaw([]byte{0xB0, 7, 127})

	select {
	case msg := <-messages:
		if msg.Type != string(EventControlChange) || msg.ControlID != "cc_7_1" {
			t.Errorf("message = %+v", msg)
		}
		if msg.Value != 1.0 {
			t.Errorf("value = %v, want 1.0", msg.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("no midi-message event published")
	}
}
