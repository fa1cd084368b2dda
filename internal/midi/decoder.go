package midi

import "fmt"

// EventType identifies the semantic kind of a decoded MIDI message.
type EventType string

const (
	EventControlChange EventType = "controlchange"
	EventNoteOn        EventType = "noteon"
	EventNoteOff       EventType = "noteoff"
	EventProgramChange EventType = "programchange"
	EventPitchBend     EventType = "pitchbend"
)

// Event is one decoded MIDI message. ControlID is the deterministic identity
// of the physical control that produced it: the same knob or button always
// yields the same id, which is what mappings are keyed by.
type Event struct {
	Type       EventType
	ControlID  string
	Channel    uint8  // 1-based, MIDI convention
	Number     uint8  // controller or note number
	Value      uint16 // raw value; 14-bit for pitch bend
	Normalized float64
}

// Status byte high-nibble dispatch values.
const (
	statusNoteOff       = 0x80
	statusNoteOn        = 0x90
	statusControlChange = 0xB0
	statusProgramChange = 0xC0
	statusPitchBend     = 0xE0
)

// Decode turns a raw MIDI message into a typed event. The second return is
// false for messages this bridge does not handle (sysex, aftertouch, clock).
func Decode(data []byte) (Event, bool) {
	if len(data) < 2 {
		return Event{}, false
	}

	status := data[0]
	channel := (status & 0x0F) + 1

	switch status & 0xF0 {
	case statusControlChange:
		if len(data) < 3 {
			return Event{}, false
		}
		controller, value := data[1], data[2]
		return Event{
			Type:       EventControlChange,
			ControlID:  fmt.Sprintf("cc_%d_%d", controller, channel),
			Channel:    channel,
			Number:     controller,
			Value:      uint16(value),
			Normalized: float64(value) / 127,
		}, true

	case statusNoteOn:
		if len(data) < 3 {
			return Event{}, false
		}
		note, velocity := data[1], data[2]
		// Note-on with zero velocity is a note-off by MIDI convention.
		if velocity == 0 {
			return noteOff(note, velocity, channel), true
		}
		return Event{
			Type:       EventNoteOn,
			ControlID:  fmt.Sprintf("note_%d_%d", note, channel),
			Channel:    channel,
			Number:     note,
			Value:      uint16(velocity),
			Normalized: float64(velocity) / 127,
		}, true

	case statusNoteOff:
		if len(data) < 3 {
			return Event{}, false
		}
		return noteOff(data[1], data[2], channel), true

	case statusProgramChange:
		return Event{
			Type:      EventProgramChange,
			ControlID: fmt.Sprintf("program_%d", channel),
			Channel:   channel,
			Number:    data[1],
			Value:     uint16(data[1]),
		}, true

	case statusPitchBend:
		if len(data) < 3 {
			return Event{}, false
		}
		// 14-bit value from two 7-bit bytes, LSB first.
		value := uint16(data[2])<<7 | uint16(data[1])
		return Event{
			Type:       EventPitchBend,
			ControlID:  fmt.Sprintf("pitch_%d", channel),
			Channel:    channel,
			Value:      value,
			Normalized: float64(value) / 16383,
		}, true
	}

	return Event{}, false
}

func noteOff(note, velocity, channel uint8) Event {
	return Event{
		Type:      EventNoteOff,
		ControlID: fmt.Sprintf("note_%d_%d", note, channel),
		Channel:   channel,
		Number:    note,
		Value:     uint16(velocity),
	}
}
