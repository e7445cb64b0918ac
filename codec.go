package improv

import (
	"errors"
	"fmt"
)

// Frame layout: [type, length, payload(length), checksum].
const (
	headerLen     = 2
	frameOverhead = headerLen + 1

	// MinChunkSize is the smallest chunk that can carry payload bytes.
	// Smaller chunk sizes disable chunking.
	MinChunkSize = frameOverhead + 1

	// MaxPayloadLen is the largest payload a single frame can declare.
	MaxPayloadLen = 0xFF

	// MaxURLLen is the longest redirect URL a result can carry.
	MaxURLLen = 0xFF
)

// A ProtocolError is a decode or dispatch failure.
// Code is the value reported through the Error characteristic.
type ProtocolError struct {
	Code   Error
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason == "" {
		return "improv: " + e.Code.String()
	}
	return "improv: " + e.Code.String() + ": " + e.Reason
}

func invalidPacket(format string, a ...interface{}) error {
	return &ProtocolError{Code: ErrorInvalidRPCPacket, Reason: fmt.Sprintf(format, a...)}
}

// ErrorCode extracts the protocol error code from err.
// Errors that are not protocol errors map to ErrorUnknown.
func ErrorCode(err error) Error {
	if err == nil {
		return ErrorNone
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrorUnknown
}

// A Command is a decoded RPC command.
// SSID and Password are only set for CommandWifiSettings.
type Command struct {
	Type     CommandType
	SSID     []byte
	Password []byte
}

func (c Command) String() string {
	if c.Type == CommandWifiSettings {
		return fmt.Sprintf("%s(ssid=%q)", c.Type, c.SSID)
	}
	return c.Type.String()
}

// A Result is an RPC result. URLs is used by CommandWifiSettings,
// Payload carries the raw result bytes of every other command.
type Result struct {
	Type    CommandType
	URLs    []string
	Payload []byte
}

// Checksum returns the additive checksum (mod 256) of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// DecodeCommand decodes an RPC command frame.
// Framing and checksum are verified before the command type, so a
// corrupted frame always reports ErrorInvalidRPCPacket, and a well formed
// frame with an unrecognised type reports ErrorUnknownRPCCommand.
// The returned command does not alias b.
func DecodeCommand(b []byte) (Command, error) {
	if len(b) < frameOverhead {
		return Command{}, invalidPacket("frame too short (%d bytes)", len(b))
	}
	n := int(b[1])
	if len(b) != n+frameOverhead {
		return Command{}, invalidPacket("length %d does not match payload of %d bytes", n, len(b)-frameOverhead)
	}
	last := len(b) - 1
	if sum := Checksum(b[:last]); sum != b[last] {
		return Command{}, invalidPacket("checksum 0x%02x, want 0x%02x", b[last], sum)
	}

	cmd := Command{Type: CommandType(b[0])}
	if !cmd.Type.Known() {
		return cmd, &ProtocolError{Code: ErrorUnknownRPCCommand, Reason: fmt.Sprintf("command 0x%02x", b[0])}
	}
	if cmd.Type != CommandWifiSettings {
		return cmd, nil
	}

	p := b[headerLen:last]
	ssid, p, ok := cutString(p)
	if !ok {
		return Command{}, invalidPacket("ssid overruns payload")
	}
	pass, p, ok := cutString(p)
	if !ok {
		return Command{}, invalidPacket("password overruns payload")
	}
	if len(p) != 0 {
		return Command{}, invalidPacket("%d trailing bytes in payload", len(p))
	}
	cmd.SSID = append([]byte(nil), ssid...)
	cmd.Password = append([]byte(nil), pass...)
	return cmd, nil
}

// cutString splits a length-prefixed string off the front of p.
func cutString(p []byte) (s, rest []byte, ok bool) {
	if len(p) < 1 {
		return nil, nil, false
	}
	n := int(p[0])
	if len(p)-1 < n {
		return nil, nil, false
	}
	return p[1 : 1+n], p[1+n:], true
}

// EncodeCommand encodes c the way a client sends it.
func EncodeCommand(c Command) ([]byte, error) {
	if !c.Type.Known() {
		return nil, fmt.Errorf("improv: cannot encode command 0x%02x", byte(c.Type))
	}
	var payload []byte
	if c.Type == CommandWifiSettings {
		var err error
		if payload, err = appendStrings(payload, c.SSID, c.Password); err != nil {
			return nil, err
		}
	}
	return frame(c.Type, payload)
}

// EncodeState returns the Status characteristic value for s.
func EncodeState(s State) byte { return byte(s) }

// EncodeError returns the Error characteristic value for e.
func EncodeError(e Error) byte { return byte(e) }

// EncodeResult encodes r into frames no larger than chunk bytes.
// If the whole result fits, or chunk is smaller than MinChunkSize,
// a single frame is returned. Otherwise the payload is split across
// several individually checksummed frames, terminated by an empty frame.
func EncodeResult(r Result, chunk int) [][]byte {
	payload := resultPayload(r)
	if len(payload)+frameOverhead <= chunk || chunk < MinChunkSize {
		if len(payload) <= MaxPayloadLen {
			f, _ := frame(r.Type, payload)
			return [][]byte{f}
		}
		chunk = MaxPayloadLen + frameOverhead
	}

	step := chunk - frameOverhead
	if step > MaxPayloadLen {
		step = MaxPayloadLen
	}
	var frames [][]byte
	for len(payload) > 0 {
		n := step
		if n > len(payload) {
			n = len(payload)
		}
		f, _ := frame(r.Type, payload[:n])
		frames = append(frames, f)
		payload = payload[n:]
	}
	end, _ := frame(r.Type, nil)
	return append(frames, end)
}

// resultPayload renders the payload of r. URLs longer than a single
// length byte can describe are left out; see SplitURLs.
func resultPayload(r Result) []byte {
	if r.Type != CommandWifiSettings {
		return r.Payload
	}
	var p []byte
	for _, u := range r.URLs {
		if len(u) > MaxURLLen {
			continue
		}
		p = append(p, byte(len(u)))
		p = append(p, u...)
	}
	return p
}

// DecodeResult decodes a single result frame, as a client would.
func DecodeResult(b []byte) (Result, error) {
	if len(b) < frameOverhead || len(b) != int(b[1])+frameOverhead {
		return Result{}, invalidPacket("bad result framing")
	}
	last := len(b) - 1
	if Checksum(b[:last]) != b[last] {
		return Result{}, invalidPacket("bad result checksum")
	}
	r := Result{Type: CommandType(b[0])}
	p := b[headerLen:last]
	if r.Type != CommandWifiSettings {
		r.Payload = append([]byte(nil), p...)
		return r, nil
	}
	for len(p) > 0 {
		s, rest, ok := cutString(p)
		if !ok {
			return Result{}, invalidPacket("url overruns payload")
		}
		r.URLs = append(r.URLs, string(s))
		p = rest
	}
	return r, nil
}

func appendStrings(p []byte, ss ...[]byte) ([]byte, error) {
	for _, s := range ss {
		if len(s) > MaxPayloadLen {
			return nil, fmt.Errorf("improv: string of %d bytes is too long", len(s))
		}
		p = append(p, byte(len(s)))
		p = append(p, s...)
	}
	return p, nil
}

func frame(t CommandType, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("improv: payload of %d bytes is too long", len(payload))
	}
	b := make([]byte, 0, len(payload)+frameOverhead)
	b = append(b, byte(t), byte(len(payload)))
	b = append(b, payload...)
	return append(b, Checksum(b)), nil
}

// SplitURLs separates the URLs a WifiSettings result can carry from
// those longer than MaxURLLen.
func SplitURLs(urls []string) (ok, long []string) {
	for _, u := range urls {
		if len(u) > MaxURLLen {
			long = append(long, u)
			continue
		}
		ok = append(ok, u)
	}
	return ok, long
}
