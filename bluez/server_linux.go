package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/improv"
)

// A valueWriter sets a characteristic value. BlueZ notifies every
// change to subscribed centrals. *bluetooth.Characteristic implements it.
type valueWriter interface {
	Write(p []byte) (n int, err error)
}

// A Server binds an improv.Service to a BlueZ adapter.
// It implements improv.Transport.
type Server struct {
	svc     *improv.Service
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger
	chunk   int
	onConn  func(connected bool)

	mu      sync.Mutex
	handles map[improv.Role]valueWriter
}

// An Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithChunkSize sets the notification payload size. BlueZ does not
// report the negotiated MTU to peripheral applications, so by default
// results go out as a single frame and reads of RPC Result return the
// whole result. With a chunk size set, reads return the last frame.
func WithChunkSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// OnConnection registers f to be called when a central connects or
// disconnects.
func OnConnection(f func(connected bool)) Option {
	return func(s *Server) { s.onConn = f }
}

// New returns a Server for svc on the default adapter.
func New(svc *improv.Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		adapter: bluetooth.DefaultAdapter,
		log:     logrus.StandardLogger(),
		onConn:  func(bool) {},
		handles: make(map[improv.Role]valueWriter),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "bluez")
	return s
}

func (s *Server) service() *bluetooth.Service {
	bs := &bluetooth.Service{UUID: UUID(s.svc.UUID())}
	for _, r := range improv.Roles {
		r := r
		h := new(bluetooth.Characteristic)
		s.handles[r] = h
		c := bluetooth.CharacteristicConfig{
			Handle: h,
			UUID:   UUID(r.UUID()),
			Value:  s.svc.HandleRead(r),
			Flags:  Flags(r),
		}
		if r.Writable() {
			c.WriteEvent = func(client bluetooth.Connection, offset int, value []byte) {
				s.write(r, offset, value)
			}
		}
		bs.Characteristics = append(bs.Characteristics, c)
	}
	return bs
}

func (s *Server) write(r improv.Role, offset int, value []byte) {
	if offset != 0 {
		s.log.WithField("offset", offset).Warn("partial write ignored")
		return
	}
	if err := s.svc.HandleWrite(r, value); err != nil {
		s.log.WithError(err).WithField("characteristic", r).Warn("write rejected")
	}
}

// SetValue updates the value BlueZ serves for reads of r. BlueZ
// notifies every value change, so notifiable characteristics are only
// written by Notify.
func (s *Server) SetValue(r improv.Role, value []byte) {
	if r.Notifiable() {
		return
	}
	if err := s.Notify(r, value); err != nil {
		s.log.WithError(err).WithField("characteristic", r).Warn("set value")
	}
}

// Notify updates r. BlueZ emits the change to subscribed centrals.
func (s *Server) Notify(r improv.Role, value []byte) error {
	s.mu.Lock()
	h := s.handles[r]
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	if _, err := h.Write(value); err != nil {
		return fmt.Errorf("bluez: write %s: %w", r, err)
	}
	return nil
}

// ChunkSize returns the configured notification payload size, or 0.
func (s *Server) ChunkSize() int { return s.chunk }

// Serve enables the adapter, registers the Improv service and
// advertises until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("bluez: enable adapter: %w", err)
	}
	s.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		s.log.WithFields(logrus.Fields{"central": d.Address.String(), "connected": connected}).Info("connection")
		s.onConn(connected)
	})

	s.mu.Lock()
	bs := s.service()
	s.mu.Unlock()
	if err := s.adapter.AddService(bs); err != nil {
		return fmt.Errorf("bluez: add service: %w", err)
	}
	s.svc.Attach(s)

	adv := s.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    s.svc.Name(),
		ServiceUUIDs: []bluetooth.UUID{bs.UUID},
	}); err != nil {
		return fmt.Errorf("bluez: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("bluez: advertise: %w", err)
	}
	s.log.WithField("name", s.svc.Name()).Info("advertising")

	<-ctx.Done()
	return adv.Stop()
}
