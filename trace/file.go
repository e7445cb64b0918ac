package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor decoder mode: %v", err))
	}
}

// A FileRecorder appends events to a file as a sequence of CBOR items.
// It is safe for concurrent use.
type FileRecorder struct {
	mu     sync.Mutex
	f      *os.File
	enc    *cbor.Encoder
	closed bool
}

// NewFileRecorder opens path for appending, creating it if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &FileRecorder{f: f, enc: encMode.NewEncoder(f)}, nil
}

// Record appends e. Encoding errors are dropped; capture must not
// disturb the protocol.
func (r *FileRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_ = r.enc.Encode(e)
}

// Close closes the file. Events recorded after Close are dropped.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

// A Reader decodes events written by a FileRecorder.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader returns a Reader that decodes events from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next returns the next event. It returns io.EOF after the last event.
func (r *Reader) Next() (Event, error) {
	var e Event
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("trace: decode: %w", err)
	}
	return e, nil
}

// ReadAll decodes every event in r.
func ReadAll(r io.Reader) ([]Event, error) {
	rd := NewReader(r)
	var ee []Event
	for {
		e, err := rd.Next()
		if err == io.EOF {
			return ee, nil
		}
		if err != nil {
			return ee, err
		}
		ee = append(ee, e)
	}
}
