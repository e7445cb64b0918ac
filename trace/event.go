// Package trace captures Improv protocol events.
//
// A Recorder receives one Event per command, state change, error change,
// notified result and finished provisioning attempt. Recorders can log
// events (LogRecorder), append them to a CBOR file (FileRecorder), count
// them (see package metrics) or fan out to several of those (Multi).
//
// Events never carry WiFi passwords: command frames are redacted before
// they are recorded.
package trace

import "time"

// Kind classifies an Event.
type Kind uint8

const (
	KindCommand Kind = iota // a command frame was written
	KindState               // the device state changed
	KindError               // the error state changed
	KindResult              // an RPC result was notified
	KindAttempt             // a provisioning attempt finished
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindState:
		return "state"
	case KindError:
		return "error"
	case KindResult:
		return "result"
	case KindAttempt:
		return "attempt"
	}
	return "unknown"
}

// An Event is a single protocol event. CBOR encoding uses integer keys.
// Fields that do not apply to the Kind are left zero.
type Event struct {
	Time    time.Time `cbor:"1,keyasint"`
	Session string    `cbor:"2,keyasint,omitempty"`
	Kind    Kind      `cbor:"3,keyasint"`

	// Command is the command type byte of KindCommand and KindResult events.
	Command uint8 `cbor:"4,keyasint,omitempty"`

	// Frame is the redacted command frame of KindCommand events.
	Frame []byte `cbor:"5,keyasint,omitempty"`

	// From and To are the old and new values of KindState and
	// KindError events.
	From uint8 `cbor:"6,keyasint,omitempty"`
	To   uint8 `cbor:"7,keyasint,omitempty"`

	// Chunks is the number of notified frames of a KindResult event.
	Chunks int `cbor:"8,keyasint,omitempty"`

	// SSID, OK and Duration describe a KindAttempt event.
	SSID     string        `cbor:"9,keyasint,omitempty"`
	OK       bool          `cbor:"10,keyasint,omitempty"`
	Duration time.Duration `cbor:"11,keyasint,omitempty"`

	// Detail is a human readable summary.
	Detail string `cbor:"12,keyasint,omitempty"`
}

// A Recorder receives protocol events.
// Record must be safe for concurrent use and must not block for long.
type Recorder interface {
	Record(e Event)
}

// Nop discards all events.
type Nop struct{}

// Record discards e.
func (Nop) Record(Event) {}

// RecorderFunc is an adapter to allow the use of ordinary functions as
// Recorders.
type RecorderFunc func(e Event)

// Record calls f(e).
func (f RecorderFunc) Record(e Event) { f(e) }

type multi []Recorder

func (m multi) Record(e Event) {
	for _, r := range m {
		r.Record(e)
	}
}

// Multi returns a Recorder that forwards every event to rr in order.
// Nil recorders are skipped.
func Multi(rr ...Recorder) Recorder {
	var m multi
	for _, r := range rr {
		if r != nil {
			m = append(m, r)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}
