// Package events provides the typed publish/subscribe bus that connects the
// control-protocol session, the MIDI session and the audio state projection.
// Every event is a fixed struct; subscribers register per event kind, so there
// are no stringly-typed payloads to get wrong.
package events

import "sync"

// Kind identifies one event type on the bus.
type Kind string

const (
	KindConnecting         Kind = "connecting"
	KindConnected          Kind = "connected"
	KindDisconnected       Kind = "disconnected"
	KindConnectionError    Kind = "error"
	KindMeterBatch         Kind = "volume-meter-batch"
	KindVolumeChanged      Kind = "volume-changed"
	KindMuteChanged        Kind = "mute-changed"
	KindInputCreated       Kind = "input-created"
	KindInputRemoved       Kind = "input-removed"
	KindSceneChanged       Kind = "current-scene-changed"
	KindSceneCreated       Kind = "scene-created"
	KindSceneRemoved       Kind = "scene-removed"
	KindSourcesUpdated     Kind = "sources-updated"
	KindLevelsUpdated      Kind = "levels-updated"
	KindScenesUpdated      Kind = "scenes-updated"
	KindDevicesUpdated     Kind = "devices-updated"
	KindDeviceConnected    Kind = "device-connected"
	KindDeviceDisconnected Kind = "device-disconnected"
	KindLearningStarted    Kind = "learning-started"
	KindLearningStopped    Kind = "learning-stopped"
	KindMappingAdded       Kind = "mapping-added"
	KindMappingRemoved     Kind = "mapping-removed"
	KindMidiMessage        Kind = "midi-message"
)

// Event is implemented by every payload struct in this package.
type Event interface {
	Kind() Kind
}

// Handler receives published events for the kinds it subscribed to.
type Handler func(Event)

// Bus delivers events synchronously, in publish order, to subscribers
// registered per kind. Handlers run to completion before Publish returns.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers an event to all handlers subscribed to its kind.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Kind()]
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}
