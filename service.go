package improv

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/XC-/improv/trace"
)

var (
	// ErrNotWritable is returned by HandleWrite for characteristics
	// centrals may not write.
	ErrNotWritable = errors.New("improv: characteristic is not writable")

	// ErrUnknownCharacteristic is returned for characteristics outside
	// the Improv service. Bindings should pass those through untouched.
	ErrUnknownCharacteristic = errors.New("improv: characteristic does not belong to the service")
)

// A Transport carries characteristic values to connected centrals.
// Bindings for a concrete BLE stack implement it; see packages gattsrv
// and bluez. Methods are called with the Service's event lock held and
// must not call back into the Service.
type Transport interface {
	// SetValue sets the value served for reads of r.
	SetValue(r Role, value []byte)

	// Notify sends value to centrals subscribed to r.
	// It is a no-op when nobody is subscribed.
	Notify(r Role, value []byte) error

	// ChunkSize returns the largest value a single notification can
	// carry, or 0 if unknown.
	ChunkSize() int
}

// A Service is the Improv GATT service. It is the only component
// holding the Store, Dispatcher and Coordinator; bindings translate
// characteristic callbacks into HandleWrite and HandleRead calls.
//
// Inbound events (writes and finished attempts) enter the core one at
// a time; an event arriving while another is being processed waits.
type Service struct {
	name    string
	session string
	store   *Store
	disp    *Dispatcher
	coord   *Coordinator
	log     logrus.FieldLogger
	rec     trace.Recorder
	chunk   int
	hooks   []func(urls []string)

	mu       sync.Mutex // event lock
	tr       Transport
	pubState State
	pubErr   Error
	closed   bool

	vmu     sync.RWMutex
	command []byte
	result  []byte
}

// An Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithRecorder sets the protocol event recorder.
func WithRecorder(r trace.Recorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithIdentify enables CommandIdentify. f is called synchronously from
// the write callback and must not block.
func WithIdentify(f func()) Option {
	return func(s *Service) { s.disp.identify = f }
}

// WithJoinTimeout bounds each provisioning attempt.
func WithJoinTimeout(d time.Duration) Option {
	return func(s *Service) { s.coord.timeout = d }
}

// WithReprovision allows new credentials once the device is provisioned.
func WithReprovision(ok bool) Option {
	return func(s *Service) { s.disp.Reprovision = ok }
}

// WithChunkSize overrides the notification size reported by the transport.
func WithChunkSize(n int) Option {
	return func(s *Service) { s.chunk = n }
}

// WithSession sets the session identifier attached to recorded events.
// The default is a random UUID.
func WithSession(id string) Option {
	return func(s *Service) { s.session = id }
}

// OnProvisioned registers f to be called with the redirect URLs after a
// successful attempt. f runs in its own goroutine.
func OnProvisioned(f func(urls []string)) Option {
	return func(s *Service) { s.hooks = append(s.hooks, f) }
}

// NewService returns a Service named name that joins networks through j.
func NewService(name string, j Joiner, opts ...Option) *Service {
	store := NewStore()
	coord := NewCoordinator(store, j, 0)
	s := &Service{
		name:     name,
		session:  uuid.NewString(),
		store:    store,
		coord:    coord,
		disp:     NewDispatcher(store, coord, nil),
		log:      logrus.StandardLogger(),
		rec:      trace.Nop{},
		pubState: StateReady,
		pubErr:   ErrorNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "improv")
	coord.log = s.log
	coord.gate = &s.mu
	coord.done = s.finish
	return s
}

// Name returns the advertised name of the device.
func (s *Service) Name() string { return s.name }

// UUID returns the service UUID.
func (s *Service) UUID() uuid.UUID { return ServiceUUID }

// State returns the current state and error.
func (s *Service) State() (State, Error) { return s.store.Get() }

// Capabilities returns the capability bitset.
func (s *Service) Capabilities() Capabilities { return s.disp.Capabilities() }

// Attach connects the Service to a transport and pushes the current
// characteristic values to it.
func (s *Service) Attach(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr = t
	for _, r := range Roles {
		t.SetValue(r, s.HandleRead(r))
	}
}

// HandleRead returns the current value of the characteristic r.
// It never waits for an in-flight event.
func (s *Service) HandleRead(r Role) []byte {
	switch r {
	case RoleStatus:
		return []byte{EncodeState(s.store.State())}
	case RoleError:
		_, e := s.store.Get()
		return []byte{EncodeError(e)}
	case RoleCapabilities:
		return []byte{byte(s.disp.Capabilities())}
	}
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	switch r {
	case RoleRPCCommand:
		return append([]byte(nil), s.command...)
	case RoleRPCResult:
		return append([]byte(nil), s.result...)
	}
	return nil
}

// HandleWrite processes a write of data to the characteristic r.
// Protocol failures are reported through the Error characteristic and
// are not returned; the error only reports misrouted writes.
func (s *Service) HandleWrite(r Role, data []byte) error {
	switch {
	case r == RoleUnknown:
		return ErrUnknownCharacteristic
	case !r.Writable():
		return ErrNotWritable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vmu.Lock()
	s.command = append(s.command[:0], data...)
	s.vmu.Unlock()
	s.setValue(RoleRPCCommand, data)

	out := s.disp.DispatchFrame(data)
	s.record(trace.Event{
		Kind:    trace.KindCommand,
		Command: uint8(out.Command.Type),
		Frame:   redact(data),
		Detail:  fmt.Sprintf("%s: %s", out.Command.Type, out.Err),
	})
	log := s.log.WithField("command", out.Command.Type)
	if out.Err != ErrorNone {
		log.WithField("error", out.Err).Info("command rejected")
	} else {
		log.Debug("command accepted")
	}

	s.publish()
	if out.Result != nil {
		s.notifyResult(*out.Result)
	}
	return nil
}

// finish is called by the Coordinator with the event lock held.
func (s *Service) finish(a Attempt) {
	s.record(trace.Event{
		Kind:     trace.KindAttempt,
		SSID:     string(a.SSID),
		OK:       a.OK(),
		Duration: a.Duration,
		Detail:   "provisioning attempt finished",
	})
	s.publish()
	if !a.OK() {
		return
	}
	s.notifyResult(Result{Type: CommandWifiSettings, URLs: a.URLs})
	for _, h := range s.hooks {
		go h(append([]string(nil), a.URLs...))
	}
}

// publish notifies the error and status characteristics that changed
// since the last call, error first.
func (s *Service) publish() {
	st, e := s.store.Get()
	if e != s.pubErr {
		s.record(trace.Event{Kind: trace.KindError, From: uint8(s.pubErr), To: uint8(e), Detail: e.String()})
		s.pubErr = e
		s.update(RoleError, []byte{EncodeError(e)})
	}
	if st != s.pubState {
		s.record(trace.Event{Kind: trace.KindState, From: uint8(s.pubState), To: uint8(st), Detail: st.String()})
		s.log.WithFields(logrus.Fields{"from": s.pubState, "to": st}).Info("state changed")
		s.pubState = st
		s.update(RoleStatus, []byte{EncodeState(st)})
	}
}

// notifyResult stores r as the RPC Result value and notifies it in
// chunks the transport can carry.
func (s *Service) notifyResult(r Result) {
	var whole []byte
	for _, f := range EncodeResult(r, 0) {
		whole = append(whole, f...)
	}
	s.vmu.Lock()
	s.result = whole
	s.vmu.Unlock()
	s.setValue(RoleRPCResult, whole)

	frames := EncodeResult(r, s.chunkSize())
	s.record(trace.Event{Kind: trace.KindResult, Command: uint8(r.Type), Chunks: len(frames), Detail: r.Type.String()})
	if s.tr == nil {
		return
	}
	for _, f := range frames {
		if err := s.tr.Notify(RoleRPCResult, f); err != nil {
			s.log.WithError(err).Warn("notify rpc result")
			return
		}
	}
}

func (s *Service) update(r Role, v []byte) {
	s.setValue(r, v)
	if s.tr == nil {
		return
	}
	if err := s.tr.Notify(r, v); err != nil {
		s.log.WithError(err).WithField("characteristic", r).Warn("notify")
	}
}

func (s *Service) setValue(r Role, v []byte) {
	if s.tr != nil {
		s.tr.SetValue(r, v)
	}
}

func (s *Service) chunkSize() int {
	if s.chunk > 0 {
		return s.chunk
	}
	if s.tr != nil {
		return s.tr.ChunkSize()
	}
	return 0
}

func (s *Service) record(e trace.Event) {
	e.Time = time.Now()
	e.Session = s.session
	s.rec.Record(e)
}

// Wait blocks until the in-flight provisioning attempt, if any, is done.
func (s *Service) Wait() { s.coord.Wait() }

// Close cancels any in-flight attempt, waits for it and moves the
// device to StateStopped. Close is idempotent.
func (s *Service) Close() error {
	s.coord.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.store.SetState(StateStopped)
	s.publish()
	return nil
}

// redact masks the password of a WifiSettings frame.
func redact(b []byte) []byte {
	b = append([]byte(nil), b...)
	if len(b) < 4 || CommandType(b[0]) != CommandWifiSettings {
		return b
	}
	i := 3 + int(b[2]) // password length byte
	if i >= len(b)-1 {
		return b
	}
	for j := i + 1; j <= i+int(b[i]) && j < len(b)-1; j++ {
		b[j] = '*'
	}
	return b
}
