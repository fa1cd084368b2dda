// Package midi owns MIDI device discovery, the single active input device,
// decoding of its raw message stream and dispatch of decoded events against
// the mapping store.
package midi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"

	"github.com/obsmix/obs-midi-mixer/internal/config"
	"github.com/obsmix/obs-midi-mixer/internal/events"
)

// DeviceInfo describes one available MIDI input device.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Target is what mapped actions are executed against. Implemented by the
// audio state projection; a fake suffices in tests.
type Target interface {
	SetVolume(ctx context.Context, source string, volume float64) error
	ToggleMute(ctx context.Context, source string) (bool, error)
	SetScene(ctx context.Context, scene string) error
}

// DefaultLearningTimeout bounds how long a learning capture waits for input.
const DefaultLearningTimeout = 10 * time.Second

// Session maintains the connection to exactly one active MIDI input device
// and routes its decoded events into learning capture or mapping dispatch.
type Session struct {
	logger   *zap.SugaredLogger
	bus      *events.Bus
	cfg      *config.Store
	mappings *MappingStore

	mu         sync.Mutex
	target     Target
	devices    map[string]DeviceInfo
	activeID   string
	stopListen func()
	learning   bool
	learnCb    func(Event)
	learnTimer *time.Timer
}

// NewSession creates a MIDI session. No device is connected until
// ListDevices or ConnectToDevice is called.
func NewSession(cfg *config.Store, bus *events.Bus, logger *zap.SugaredLogger) *Session {
	return &Session{
		logger:   logger.Named("midi"),
		bus:      bus,
		cfg:      cfg,
		mappings: NewMappingStore(),
		devices:  make(map[string]DeviceInfo),
	}
}

// SetTarget injects the action target. Kept out of the constructor because
// the projection and the session reference each other.
func (s *Session) SetTarget(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
}

// Mappings exposes the mapping store owned by this session.
func (s *Session) Mappings() *MappingStore {
	return s.mappings
}

// ActiveDevice returns the currently connected device, if any.
func (s *Session) ActiveDevice() (DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[s.activeID]
	return d, ok && s.activeID != ""
}

// ListDevices enumerates the connected input devices, refreshes the internal
// device set, and emits a devices-updated event. If the active device has
// disappeared it is released; if no device is active and at least one is
// available, the first one is auto-selected.
func (s *Session) ListDevices() []DeviceInfo {
	ins := gomidi.GetInPorts()

	list := make([]DeviceInfo, 0, len(ins))
	s.mu.Lock()
	s.devices = make(map[string]DeviceInfo, len(ins))
	for _, in := range ins {
		d := DeviceInfo{ID: in.String(), Name: in.String()}
		s.devices[d.ID] = d
		list = append(list, d)
	}
	_, activePresent := s.devices[s.activeID]
	lost := s.activeID != "" && !activePresent
	active := s.activeID
	s.mu.Unlock()

	if lost {
		s.logger.Warnw("active device disappeared", "device", active)
		s.DisconnectFromDevice()
		active = ""
	}

	evList := make([]events.Device, len(list))
	for i, d := range list {
		evList[i] = events.Device{ID: d.ID, Name: d.Name}
	}
	s.bus.Publish(events.DevicesUpdated{Devices: evList})

	if active == "" && len(list) > 0 {
		s.logger.Infow("auto-selecting first device", "device", list[0].Name)
		s.ConnectToDevice(list[0].ID)
	}

	return list
}

// ConnectToDevice makes the given device the single active input, tearing
// down any previous one first. Returns false if the id is unknown or the
// port cannot be opened.
func (s *Session) ConnectToDevice(deviceID string) bool {
	var port drivers.In
	for _, in := range gomidi.GetInPorts() {
		if in.String() == deviceID {
			port = in
			break
		}
	}
	if port == nil {
		s.logger.Warnw("device not found", "device", deviceID)
		return false
	}

	s.DisconnectFromDevice()

	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, _ int32) {
		s.handleRaw(msg.Bytes())
	})
	if err != nil {
		s.logger.Errorw("failed to listen to device", "device", deviceID, "error", err)
		return false
	}

	s.mu.Lock()
	s.activeID = deviceID
	s.stopListen = stop
	d, ok := s.devices[deviceID]
	if !ok {
		d = DeviceInfo{ID: deviceID, Name: deviceID}
		s.devices[deviceID] = d
	}
	s.mu.Unlock()

	if err := s.cfg.Set("midi.deviceId", deviceID); err != nil {
		s.logger.Warnw("failed to persist device selection", "error", err)
	}

	s.logger.Infow("connected to device", "device", d.Name)
	s.bus.Publish(events.DeviceConnected{Device: events.Device{ID: d.ID, Name: d.Name}})

	s.LoadMappings()
	return true
}

// DisconnectFromDevice detaches the raw-message handler. Mappings stay
// loaded; a device that comes back keeps working without a reload.
func (s *Session) DisconnectFromDevice() {
	s.mu.Lock()
	stop := s.stopListen
	wasActive := s.activeID != ""
	s.activeID = ""
	s.stopListen = nil
	s.mu.Unlock()

	if !wasActive {
		return
	}
	if stop != nil {
		stop()
	}
	s.bus.Publish(events.DeviceDisconnected{})
}

// StartLearning redirects the next decoded MIDI event of any kind to cb
// instead of dispatching it. Learning auto-exits after the capture, or after
// timeout if nothing arrives.
func (s *Session) StartLearning(cb func(Event), timeout time.Duration) {
	s.StopLearning()

	if timeout <= 0 {
		timeout = DefaultLearningTimeout
	}

	s.mu.Lock()
	s.learning = true
	s.learnCb = cb
	s.learnTimer = time.AfterFunc(timeout, func() {
		s.logger.Info("learning timed out")
		s.StopLearning()
	})
	s.mu.Unlock()

	s.bus.Publish(events.LearningStarted{})
}

// StopLearning exits learning mode, discarding any pending timeout. Calling
// it while not learning is a no-op.
func (s *Session) StopLearning() {
	s.mu.Lock()
	wasLearning := s.learning
	s.learning = false
	s.learnCb = nil
	if s.learnTimer != nil {
		s.learnTimer.Stop()
		s.learnTimer = nil
	}
	s.mu.Unlock()

	if wasLearning {
		s.bus.Publish(events.LearningStopped{})
	}
}

// MapControl inserts or replaces the mapping for a control id and persists it.
func (s *Session) MapControl(controlID string, action Action) {
	s.mappings.Set(controlID, action)

	if err := s.cfg.Set("hotkeys.mappings."+controlID, actionToStored(action)); err != nil {
		s.logger.Warnw("failed to persist mapping", "control", controlID, "error", err)
	}

	s.logger.Infow("control mapped", "control", controlID, "action", string(action.Type))
	s.bus.Publish(events.MappingAdded{ControlID: controlID})
}

// RemoveMapping deletes the mapping for a control id, both in memory and in
// the config store. Removing an unmapped id is a no-op.
func (s *Session) RemoveMapping(controlID string) {
	s.mappings.Remove(controlID)

	if err := s.cfg.Delete("hotkeys.mappings." + controlID); err != nil {
		s.logger.Warnw("failed to remove persisted mapping", "control", controlID, "error", err)
	}

	s.bus.Publish(events.MappingRemoved{ControlID: controlID})
}

// LoadMappings restores persisted mappings from the config store into the
// in-memory mapping store.
func (s *Session) LoadMappings() {
	stored := s.cfg.GetSection("hotkeys.mappings")
	count := 0
	for controlID, raw := range stored {
		action, ok := actionFromStored(raw)
		if !ok {
			s.logger.Warnw("skipping malformed stored mapping", "control", controlID)
			continue
		}
		s.mappings.Set(controlID, action)
		count++
	}
	s.logger.Infow("loaded mappings", "count", count)
}

// Close tears the session down and releases the MIDI driver.
func (s *Session) Close() {
	s.StopLearning()
	s.DisconnectFromDevice()
	gomidi.CloseDriver()
}

// handleRaw decodes one raw message and routes it to learning capture or
// mapping dispatch. Decode-and-dispatch is synchronous per message; only the
// resulting remote command runs asynchronously.
func (s *Session) handleRaw(data []byte) {
	ev, ok := Decode(data)
	if !ok {
		return
	}

	s.logger.Debugw("midi message", "type", string(ev.Type), "control", ev.ControlID, "value", ev.Normalized)

	if cb, ok := s.claimLearning(); ok {
		cb(ev)
	} else {
		s.dispatch(ev)
	}

	s.bus.Publish(events.MidiMessage{
		Type:      string(ev.Type),
		ControlID: ev.ControlID,
		Channel:   ev.Channel,
		Value:     ev.Normalized,
	})
}

// claimLearning atomically consumes the one-shot learning state. Exactly one
// event is ever delivered per StartLearning call.
func (s *Session) claimLearning() (func(Event), bool) {
	s.mu.Lock()
	if !s.learning || s.learnCb == nil {
		s.mu.Unlock()
		return nil, false
	}
	cb := s.learnCb
	s.learning = false
	s.learnCb = nil
	if s.learnTimer != nil {
		s.learnTimer.Stop()
		s.learnTimer = nil
	}
	s.mu.Unlock()

	s.bus.Publish(events.LearningStopped{})
	return cb, true
}

// dispatch resolves a decoded event against the mapping store and executes
// the mapped action. Volume reacts to control-change only, mute and scene to
// note-on only; other combinations are ignored.
func (s *Session) dispatch(ev Event) {
	action, ok := s.mappings.Get(ev.ControlID)
	if !ok {
		return
	}

	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		return
	}

	switch action.Type {
	case ActionVolume:
		if ev.Type != EventControlChange {
			return
		}
		max := action.MaxVolume
		if max <= 0 {
			max = 1.0
		}
		volume := ev.Normalized * max
		go func() {
			if err := target.SetVolume(context.Background(), action.SourceName, volume); err != nil {
				s.logger.Warnw("volume action failed", "source", action.SourceName, "error", err)
			}
		}()

	case ActionMute:
		if ev.Type != EventNoteOn {
			return
		}
		go func() {
			if _, err := target.ToggleMute(context.Background(), action.SourceName); err != nil {
				s.logger.Warnw("mute action failed", "source", action.SourceName, "error", err)
			}
		}()

	case ActionScene:
		if ev.Type != EventNoteOn {
			return
		}
		go func() {
			if err := target.SetScene(context.Background(), action.SceneName); err != nil {
				s.logger.Warnw("scene action failed", "scene", action.SceneName, "error", err)
			}
		}()

	default:
		s.logger.Warnw("unknown mapping type", "control", ev.ControlID, "type", string(action.Type))
	}
}

// actionToStored converts an Action into the plain map shape the key-path
// config store persists.
func actionToStored(a Action) map[string]any {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func actionFromStored(v any) (Action, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Action{}, false
	}
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil || a.Type == "" {
		return Action{}, false
	}
	return a, true
}
