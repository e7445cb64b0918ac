package improv

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func mustEncode(t *testing.T, c Command) []byte {
	t.Helper()
	b, err := EncodeCommand(c)
	if err != nil {
		t.Fatalf("EncodeCommand(%v): %v", c, err)
	}
	return b
}

func TestChecksum(t *testing.T) {
	cases := []struct {
		b    []byte
		want byte
	}{
		{b: nil, want: 0x00},
		{b: []byte{0x03, 0x00}, want: 0x03},
		{b: []byte{0xFF, 0x01}, want: 0x00},
		{b: []byte{0x80, 0x80, 0x05}, want: 0x05},
	}
	for _, tt := range cases {
		if got := Checksum(tt.b); got != tt.want {
			t.Errorf("Checksum(%x): got %#02x want %#02x", tt.b, got, tt.want)
		}
	}
}

func TestDecodeCommand(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want Command
		code Error
	}{
		{name: "current state", b: []byte{0x03, 0x00, 0x03}, want: Command{Type: CommandRequestCurrentState}},
		{name: "identify", b: []byte{0x02, 0x00, 0x02}, want: Command{Type: CommandIdentify}},
		{name: "capabilities", b: []byte{0x04, 0x00, 0x04}, want: Command{Type: CommandRequestDeviceCapabilities}},
		{
			name: "wifi settings",
			b:    []byte{0x01, 0x06, 0x02, 'a', 'b', 0x02, 'c', 'd', 0x95},
			want: Command{Type: CommandWifiSettings, SSID: []byte("ab"), Password: []byte("cd")},
		},
		{
			name: "wifi settings open network",
			b:    []byte{0x01, 0x04, 0x02, 'a', 'b', 0x00, 0xCA},
			want: Command{Type: CommandWifiSettings, SSID: []byte("ab"), Password: []byte{}},
		},
		{name: "empty", b: nil, code: ErrorInvalidRPCPacket},
		{name: "short", b: []byte{0x03, 0x00}, code: ErrorInvalidRPCPacket},
		{name: "length too long", b: []byte{0x03, 0x01, 0x04}, code: ErrorInvalidRPCPacket},
		{name: "length too short", b: []byte{0x03, 0x00, 0x00, 0x03}, code: ErrorInvalidRPCPacket},
		{name: "checksum", b: []byte{0x03, 0x00, 0x04}, code: ErrorInvalidRPCPacket},
		{name: "unknown command", b: []byte{0xFF, 0x00, 0xFF}, want: Command{Type: 0xFF}, code: ErrorUnknownRPCCommand},
		{name: "zero command", b: []byte{0x00, 0x00, 0x00}, want: Command{Type: 0x00}, code: ErrorUnknownRPCCommand},
		{name: "ssid overrun", b: []byte{0x01, 0x02, 0x05, 'a', 0x69}, code: ErrorInvalidRPCPacket},
		{name: "password overrun", b: []byte{0x01, 0x03, 0x01, 'a', 0x04, 0x6A}, code: ErrorInvalidRPCPacket},
		{name: "missing password", b: []byte{0x01, 0x02, 0x01, 'a', 0x65}, code: ErrorInvalidRPCPacket},
		{name: "trailing bytes", b: []byte{0x01, 0x04, 0x01, 'a', 0x00, 'x', 0xDF}, code: ErrorInvalidRPCPacket},
	}

	for _, tt := range cases {
		got, err := DecodeCommand(tt.b)
		if code := ErrorCode(err); code != tt.code {
			t.Errorf("%s: DecodeCommand(%x): got error %v want %v (%v)", tt.name, tt.b, code, tt.code, err)
			continue
		}
		if tt.code == ErrorInvalidRPCPacket {
			continue
		}
		if got.Type != tt.want.Type || !bytes.Equal(got.SSID, tt.want.SSID) || !bytes.Equal(got.Password, tt.want.Password) {
			t.Errorf("%s: DecodeCommand(%x): got %+v want %+v", tt.name, tt.b, got, tt.want)
		}
	}
}

func TestCommandRoundTrip(t *testing.T) {
	cases := []Command{
		{Type: CommandIdentify},
		{Type: CommandRequestCurrentState},
		{Type: CommandRequestDeviceCapabilities},
		{Type: CommandWifiSettings, SSID: []byte("MyNet"), Password: []byte("secret")},
		{Type: CommandWifiSettings, SSID: []byte("caf\xc3\xa9"), Password: []byte{}},
		{Type: CommandWifiSettings, SSID: bytes.Repeat([]byte("s"), 32), Password: bytes.Repeat([]byte("p"), 63)},
	}
	for _, c := range cases {
		got, err := DecodeCommand(mustEncode(t, c))
		if err != nil {
			t.Errorf("DecodeCommand(EncodeCommand(%v)): %v", c, err)
			continue
		}
		if got.Type != c.Type || !bytes.Equal(got.SSID, c.SSID) || !bytes.Equal(got.Password, c.Password) {
			t.Errorf("round trip: got %+v want %+v", got, c)
		}
	}
}

func TestEncodeCommandTooLong(t *testing.T) {
	c := Command{Type: CommandWifiSettings, SSID: bytes.Repeat([]byte("s"), 200), Password: bytes.Repeat([]byte("p"), 100)}
	if _, err := EncodeCommand(c); err == nil {
		t.Errorf("EncodeCommand with a %d byte payload should fail", len(c.SSID)+len(c.Password)+2)
	}
	if _, err := EncodeCommand(Command{Type: 0x7F}); err == nil {
		t.Error("EncodeCommand of an unknown command should fail")
	}
}

// Changing any single byte of a valid frame must be detected as an
// invalid packet, never as a different command.
func TestDecodeCommandSingleByteCorruption(t *testing.T) {
	frames := [][]byte{
		{0x03, 0x00, 0x03},
		{0x02, 0x00, 0x02},
		mustEncode(t, Command{Type: CommandWifiSettings, SSID: []byte("MyNet"), Password: []byte("secret")}),
	}
	for _, f := range frames {
		for i := range f {
			for _, delta := range []byte{0x01, 0x80, 0xFF} {
				b := append([]byte(nil), f...)
				b[i] += delta
				if _, err := DecodeCommand(b); ErrorCode(err) != ErrorInvalidRPCPacket {
					t.Errorf("DecodeCommand(%x) (byte %d of %x changed): got %v want %v", b, i, f, ErrorCode(err), ErrorInvalidRPCPacket)
				}
			}
		}
	}
}

func TestEncodeStateAndError(t *testing.T) {
	states := map[State]byte{
		StateStopped:      0x00,
		StateReady:        0x01,
		StateProvisioning: 0x03,
		StateProvisioned:  0x04,
	}
	for s, want := range states {
		if got := EncodeState(s); got != want {
			t.Errorf("EncodeState(%s): got %#02x want %#02x", s, got, want)
		}
	}
	errs := map[Error]byte{
		ErrorNone:              0x00,
		ErrorInvalidRPCPacket:  0x01,
		ErrorUnknownRPCCommand: 0x02,
		ErrorUnableToConnect:   0x03,
		ErrorNotAuthorized:     0x04,
	}
	for e, want := range errs {
		if got := EncodeError(e); got != want {
			t.Errorf("EncodeError(%s): got %#02x want %#02x", e, got, want)
		}
	}
}

func TestEncodeResultSingleFrame(t *testing.T) {
	cases := []struct {
		r    Result
		want []byte
	}{
		{r: Result{Type: CommandIdentify}, want: []byte{0x02, 0x00, 0x02}},
		{r: Result{Type: CommandRequestCurrentState, Payload: []byte{0x01}}, want: []byte{0x03, 0x01, 0x01, 0x05}},
		{r: Result{Type: CommandRequestDeviceCapabilities, Payload: []byte{0x01}}, want: []byte{0x04, 0x01, 0x01, 0x06}},
		{r: Result{Type: CommandWifiSettings, URLs: []string{"ab"}}, want: []byte{0x01, 0x03, 0x02, 'a', 'b', 0xC9}},
		{r: Result{Type: CommandWifiSettings}, want: []byte{0x01, 0x00, 0x01}},
	}
	for _, tt := range cases {
		for _, chunk := range []int{0, 20, 512} {
			got := EncodeResult(tt.r, chunk)
			if !reflect.DeepEqual(got, [][]byte{tt.want}) {
				t.Errorf("EncodeResult(%+v, %d): got %x want %x", tt.r, chunk, got, tt.want)
			}
		}
	}
}

func TestEncodeResultChunked(t *testing.T) {
	r := Result{Type: CommandWifiSettings, URLs: []string{"http://192.168.2.123", "http://device.local/setup"}}
	whole := EncodeResult(r, 0)
	if len(whole) != 1 {
		t.Fatalf("EncodeResult(%+v, 0): got %d frames want 1", r, len(whole))
	}
	wantPayload := whole[0][2 : len(whole[0])-1]

	for _, chunk := range []int{4, 5, 8, 20, 23} {
		frames := EncodeResult(r, chunk)
		if len(frames) < 3 {
			t.Errorf("chunk %d: got %d frames, want data frames plus terminator", chunk, len(frames))
			continue
		}
		var payload []byte
		for i, f := range frames {
			if len(f) > chunk {
				t.Errorf("chunk %d: frame %d is %d bytes", chunk, i, len(f))
			}
			if f[0] != byte(CommandWifiSettings) || int(f[1]) != len(f)-3 {
				t.Errorf("chunk %d: frame %d bad header %x", chunk, i, f)
			}
			if Checksum(f[:len(f)-1]) != f[len(f)-1] {
				t.Errorf("chunk %d: frame %d bad checksum %x", chunk, i, f)
			}
			payload = append(payload, f[2:len(f)-1]...)
		}
		if last := frames[len(frames)-1]; !bytes.Equal(last, []byte{0x01, 0x00, 0x01}) {
			t.Errorf("chunk %d: terminator got %x want 010001", chunk, last)
		}
		if !bytes.Equal(payload, wantPayload) {
			t.Errorf("chunk %d: reassembled payload %x want %x", chunk, payload, wantPayload)
		}
	}
}

func TestEncodeResultDropsLongURLs(t *testing.T) {
	long := "http://" + strings.Repeat("a", 300)
	r := Result{Type: CommandWifiSettings, URLs: []string{long, "ab"}}
	want := []byte{0x01, 0x03, 0x02, 'a', 'b', 0xC9}
	if got := EncodeResult(r, 0); !reflect.DeepEqual(got, [][]byte{want}) {
		t.Errorf("EncodeResult with a %d byte url: got %x want %x", len(long), got, want)
	}

	ok, dropped := SplitURLs([]string{"ab", long, strings.Repeat("b", MaxURLLen)})
	if len(ok) != 2 || ok[0] != "ab" || len(ok[1]) != MaxURLLen {
		t.Errorf("SplitURLs kept %q", ok)
	}
	if len(dropped) != 1 || dropped[0] != long {
		t.Errorf("SplitURLs dropped %d urls, want the long one", len(dropped))
	}
}

func TestDecodeResult(t *testing.T) {
	r := Result{Type: CommandWifiSettings, URLs: []string{"http://192.168.2.123", "http://device.local"}}
	got, err := DecodeResult(EncodeResult(r, 0)[0])
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if !reflect.DeepEqual(got.URLs, r.URLs) {
		t.Errorf("DecodeResult: got %q want %q", got.URLs, r.URLs)
	}
	if _, err := DecodeResult([]byte{0x01, 0x00, 0x02}); ErrorCode(err) != ErrorInvalidRPCPacket {
		t.Errorf("DecodeResult with bad checksum: got %v", err)
	}
}

func TestRedact(t *testing.T) {
	b := mustEncode(t, Command{Type: CommandWifiSettings, SSID: []byte("MyNet"), Password: []byte("secret")})
	got := redact(b)
	if bytes.Contains(got, []byte("secret")) {
		t.Errorf("redact(%x) leaks the password: %q", b, got)
	}
	if !bytes.Contains(got, []byte("MyNet")) {
		t.Errorf("redact(%x) dropped the ssid: %q", b, got)
	}
	if !bytes.Contains(b, []byte("secret")) {
		t.Error("redact modified its input")
	}

	other := []byte{0x03, 0x00, 0x03}
	if got := redact(other); !bytes.Equal(got, other) {
		t.Errorf("redact(%x): got %x", other, got)
	}
	short := []byte{0x01, 0x09, 0x05, 'a'}
	redact(short) // must not panic on truncated frames
}
