package events

// Connection lifecycle events, published by the control-protocol session.

// Connecting is published when a connection attempt starts.
type Connecting struct {
	URL string
}

func (Connecting) Kind() Kind { return KindConnecting }

// Connected is published once the session is identified and ready.
type Connected struct{}

func (Connected) Kind() Kind { return KindConnected }

// Disconnected is published whenever the session leaves the connected state,
// whether by request or by transport failure.
type Disconnected struct {
	Reason string
}

func (Disconnected) Kind() Kind { return KindDisconnected }

// ConnectionError reports a connection-lifecycle failure. These are recovered
// by the reconnect path and never surfaced as call errors.
type ConnectionError struct {
	Err error
}

func (ConnectionError) Kind() Kind { return KindConnectionError }

// Remote-originated events, demultiplexed by the control-protocol session.

// MeterLevel is one source's instantaneous level inside a meter batch.
type MeterLevel struct {
	Source    string
	Amplitude float64
	Db        float64
}

// MeterBatch carries one high-volume meter event from the remote mixer.
type MeterBatch struct {
	Levels []MeterLevel
}

func (MeterBatch) Kind() Kind { return KindMeterBatch }

// VolumeChanged reports a remote volume change for one source.
type VolumeChanged struct {
	Source string
	Volume float64
}

func (VolumeChanged) Kind() Kind { return KindVolumeChanged }

// MuteChanged reports a remote mute-state change for one source.
type MuteChanged struct {
	Source string
	Muted  bool
}

func (MuteChanged) Kind() Kind { return KindMuteChanged }

// InputCreated reports a new remote input.
type InputCreated struct {
	Source     string
	SourceKind string
}

func (InputCreated) Kind() Kind { return KindInputCreated }

// InputRemoved reports a removed remote input.
type InputRemoved struct {
	Source string
}

func (InputRemoved) Kind() Kind { return KindInputRemoved }

// SceneChanged reports the remote program scene switching.
type SceneChanged struct {
	Scene string
}

func (SceneChanged) Kind() Kind { return KindSceneChanged }

// SceneCreated reports a new remote scene.
type SceneCreated struct {
	Scene string
}

func (SceneCreated) Kind() Kind { return KindSceneCreated }

// SceneRemoved reports a removed remote scene.
type SceneRemoved struct {
	Scene string
}

func (SceneRemoved) Kind() Kind { return KindSceneRemoved }

// Projection events, published by the audio state projection.

// SourcesUpdated is published after the source table is replaced wholesale.
type SourcesUpdated struct {
	Sources []string
}

func (SourcesUpdated) Kind() Kind { return KindSourcesUpdated }

// LevelsUpdated is published after a meter batch has been applied.
type LevelsUpdated struct{}

func (LevelsUpdated) Kind() Kind { return KindLevelsUpdated }

// ScenesUpdated is published after the scene list is replaced wholesale.
type ScenesUpdated struct {
	Scenes []string
}

func (ScenesUpdated) Kind() Kind { return KindScenesUpdated }

// MIDI session events.

// Device describes one MIDI input device.
type Device struct {
	ID   string
	Name string
}

// DevicesUpdated is published after a device rescan.
type DevicesUpdated struct {
	Devices []Device
}

func (DevicesUpdated) Kind() Kind { return KindDevicesUpdated }

// DeviceConnected is published when a device becomes the active input.
type DeviceConnected struct {
	Device Device
}

func (DeviceConnected) Kind() Kind { return KindDeviceConnected }

// DeviceDisconnected is published when the active device is released or lost.
type DeviceDisconnected struct{}

func (DeviceDisconnected) Kind() Kind { return KindDeviceDisconnected }

// LearningStarted is published when one-shot mapping capture begins.
type LearningStarted struct{}

func (LearningStarted) Kind() Kind { return KindLearningStarted }

// LearningStopped is published when mapping capture ends, by capture,
// timeout or explicit stop.
type LearningStopped struct{}

func (LearningStopped) Kind() Kind { return KindLearningStopped }

// MappingAdded is published after a control mapping is stored.
type MappingAdded struct {
	ControlID string
}

func (MappingAdded) Kind() Kind { return KindMappingAdded }

// MappingRemoved is published after a control mapping is removed.
type MappingRemoved struct {
	ControlID string
}

func (MappingRemoved) Kind() Kind { return KindMappingRemoved }

// MidiMessage mirrors every decoded MIDI event for diagnostics.
type MidiMessage struct {
	Type      string
	ControlID string
	Channel   uint8
	Value     float64
}

func (MidiMessage) Kind() Kind { return KindMidiMessage }
