// Package gattsrv serves an improv.Service over github.com/paypal/gatt.
//
// On Linux gatt talks to the controller through an HCI user channel, so
// BlueZ must not own the adapter (stop bluetoothd, or use package bluez
// instead). On OS X it uses CoreBluetooth's peripheral manager.
package gattsrv

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/paypal/gatt"
	"github.com/sirupsen/logrus"

	"github.com/XC-/improv"
)

// defaultChunk is the notification payload of the default ATT MTU (23).
const defaultChunk = 20

// A Server binds an improv.Service to a gatt.Device.
// It implements improv.Transport.
type Server struct {
	svc    *improv.Service
	opts   []gatt.Option
	log    logrus.FieldLogger
	onConn func(connected bool)

	mu        sync.Mutex
	notifiers map[improv.Role][]gatt.Notifier
}

// An Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithDeviceOptions sets the options passed to gatt.NewDevice.
// See DeviceOptions.
func WithDeviceOptions(opts ...gatt.Option) Option {
	return func(s *Server) { s.opts = opts }
}

// OnConnection registers f to be called when a central connects or
// disconnects.
func OnConnection(f func(connected bool)) Option {
	return func(s *Server) { s.onConn = f }
}

// New returns a Server for svc.
func New(svc *improv.Service, opts ...Option) *Server {
	s := &Server{
		svc:       svc,
		log:       logrus.StandardLogger(),
		onConn:    func(bool) {},
		notifiers: make(map[improv.Role][]gatt.Notifier),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "gattsrv")
	return s
}

// Service builds the Improv GATT service. Reads, writes and
// subscriptions are forwarded to the improv.Service.
func (s *Server) Service() *gatt.Service {
	gs := gatt.NewService(UUID(s.svc.UUID()))
	for _, r := range improv.Roles {
		r := r
		c := gs.AddCharacteristic(UUID(r.UUID()))
		if r.Readable() {
			c.HandleReadFunc(func(rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
				s.read(r, rsp, req)
			})
		}
		if r.Writable() {
			c.HandleWriteFunc(func(req gatt.Request, data []byte) byte {
				return s.write(r, data)
			})
		}
		if r.Notifiable() {
			c.HandleNotifyFunc(func(req gatt.Request, n gatt.Notifier) {
				s.subscribe(r, n)
			})
		}
	}
	return gs
}

func (s *Server) read(r improv.Role, rsp gatt.ResponseWriter, req *gatt.ReadRequest) {
	v := s.svc.HandleRead(r)
	if req.Offset > len(v) {
		rsp.SetStatus(gatt.StatusInvalidOffset)
		return
	}
	v = v[req.Offset:]
	if req.Cap > 0 && len(v) > req.Cap {
		v = v[:req.Cap]
	}
	rsp.Write(v)
}

func (s *Server) write(r improv.Role, data []byte) byte {
	if err := s.svc.HandleWrite(r, data); err != nil {
		s.log.WithError(err).WithField("characteristic", r).Warn("write rejected")
		return gatt.StatusUnexpectedError
	}
	return gatt.StatusSuccess
}

func (s *Server) subscribe(r improv.Role, n gatt.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers[r] = append(s.notifiers[r], n)
	s.log.WithField("characteristic", r).Debug("subscribed")
}

// SetValue is a no-op: reads are always served from the Service.
func (s *Server) SetValue(r improv.Role, value []byte) {}

// Notify writes value to every subscribed central. Subscriptions the
// central has cancelled are dropped.
func (s *Server) Notify(r improv.Role, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.notifiers[r][:0]
	var firstErr error
	for _, n := range s.notifiers[r] {
		if n.Done() {
			continue
		}
		live = append(live, n)
		if _, err := n.Write(value); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gattsrv: notify %s: %w", r, err)
		}
	}
	s.notifiers[r] = live
	return firstErr
}

// ChunkSize returns the smallest notification capacity of the centrals
// subscribed to the RPC Result characteristic.
func (s *Server) ChunkSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk := 0
	for _, n := range s.notifiers[improv.RoleRPCResult] {
		if n.Done() {
			continue
		}
		if c := n.Cap(); c > 0 && (chunk == 0 || c < chunk) {
			chunk = c
		}
	}
	if chunk == 0 {
		return defaultChunk
	}
	return chunk
}

// Serve opens the BLE device, registers the services once the adapter
// is powered on and advertises until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	d, err := gatt.NewDevice(s.opts...)
	if err != nil {
		return fmt.Errorf("gattsrv: open device: %w", err)
	}

	d.Handle(
		gatt.CentralConnected(func(c gatt.Central) {
			s.log.WithField("central", c.ID()).Info("connect")
			s.onConn(true)
		}),
		gatt.CentralDisconnected(func(c gatt.Central) {
			s.log.WithField("central", c.ID()).Info("disconnect")
			s.onConn(false)
		}),
	)

	if err := d.Init(s.stateChanged); err != nil {
		return fmt.Errorf("gattsrv: init device: %w", err)
	}

	<-ctx.Done()
	if err := d.StopAdvertising(); err != nil {
		s.log.WithError(err).Warn("stop advertising")
	}
	return d.RemoveAllServices()
}

func (s *Server) stateChanged(d gatt.Device, st gatt.State) {
	s.log.WithField("state", st).Info("adapter state")
	if st != gatt.StatePoweredOn {
		return
	}

	gs := s.Service()
	for _, svc := range []*gatt.Service{newGapService(s.svc.Name()), newGattService(s.log), gs} {
		if err := d.AddService(svc); err != nil {
			s.log.WithError(err).WithField("service", svc.UUID()).Error("add service")
			return
		}
	}
	s.svc.Attach(s)
	if err := d.AdvertiseNameAndServices(s.svc.Name(), []gatt.UUID{gs.UUID()}); err != nil {
		s.log.WithError(err).Error("advertise")
		return
	}
	s.log.WithField("name", s.svc.Name()).Info("advertising")
}

// UUID converts u to a gatt.UUID.
func UUID(u uuid.UUID) gatt.UUID {
	return gatt.MustParseUUID(u.String())
}
