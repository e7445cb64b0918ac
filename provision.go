package improv

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// A Joiner attempts to join a WiFi network.
// It returns the redirect URLs the client should visit next.
// An empty list or a non-nil error means the attempt failed.
// Join may take several seconds and must honour ctx.
type Joiner interface {
	Join(ctx context.Context, ssid, password []byte) (urls []string, err error)
}

// JoinFunc is an adapter to allow the use of ordinary functions as
// Joiners. If f is a function with the appropriate signature,
// JoinFunc(f) is a Joiner that calls f.
type JoinFunc func(ctx context.Context, ssid, password []byte) ([]string, error)

// Join returns f(ctx, ssid, password).
func (f JoinFunc) Join(ctx context.Context, ssid, password []byte) ([]string, error) {
	return f(ctx, ssid, password)
}

// An Attempt describes a finished provisioning attempt.
type Attempt struct {
	SSID     []byte
	URLs     []string
	Err      error // error returned by the Joiner, if any
	Started  time.Time
	Duration time.Duration
}

// OK reports whether the attempt succeeded.
func (a Attempt) OK() bool { return a.Err == nil && len(a.URLs) > 0 }

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// A Coordinator owns the single in-flight provisioning attempt.
// The attempt is in flight exactly while the Store reports
// StateProvisioning; no separate flag is kept.
type Coordinator struct {
	store   *Store
	joiner  Joiner
	timeout time.Duration
	log     logrus.FieldLogger

	// gate is held while the terminal transition is committed and
	// done runs. Services pass their event lock.
	gate sync.Locker
	done func(Attempt)

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator returns a Coordinator that provisions through j.
// A zero timeout lets the Joiner run until the Coordinator is closed.
func NewCoordinator(s *Store, j Joiner, timeout time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:   s,
		joiner:  j,
		timeout: timeout,
		log:     logrus.StandardLogger(),
		gate:    nopLocker{},
		done:    func(Attempt) {},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Begin starts an attempt to join ssid. It moves the Store from Ready or
// Provisioned to Provisioning, clears the error and calls the Joiner once
// in a new goroutine. Begin reports false without side effects if an
// attempt is already in flight, the device is stopped, or the
// Coordinator is closed.
func (c *Coordinator) Begin(ssid, password []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	from := c.store.State()
	if from != StateReady && from != StateProvisioned {
		return false
	}
	if !c.store.CompareAndSetState(from, StateProvisioning) {
		return false
	}

	ssid = append([]byte(nil), ssid...)
	password = append([]byte(nil), password...)
	c.log.WithField("ssid", string(ssid)).Info("provisioning started")

	c.wg.Add(1)
	go c.run(ssid, password)
	return true
}

func (c *Coordinator) run(ssid, password []byte) {
	defer c.wg.Done()

	ctx, cancel := c.ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.timeout)
	}
	defer cancel()

	a := Attempt{SSID: ssid, Started: time.Now()}
	a.URLs, a.Err = c.joiner.Join(ctx, ssid, password)
	a.Duration = time.Since(a.Started)

	c.gate.Lock()
	defer c.gate.Unlock()

	log := c.log.WithFields(logrus.Fields{"ssid": string(ssid), "duration": a.Duration})
	if a.Err == nil {
		var long []string
		a.URLs, long = SplitURLs(a.URLs)
		for _, u := range long {
			log.WithField("length", len(u)).Warn("redirect url too long, dropped")
		}
	}
	if a.OK() {
		c.store.Set(StateProvisioned, ErrorNone)
		log.WithField("urls", a.URLs).Info("provisioning succeeded")
	} else {
		a.URLs = nil
		c.store.Set(StateReady, ErrorUnableToConnect)
		log.WithError(a.Err).Warn("provisioning failed")
	}
	c.done(a)
}

// Wait blocks until the in-flight attempt, if any, has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels the in-flight attempt, waits for it to finish and
// rejects further attempts. Close must not be called with the gate held.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
