// Package announce tells the local network about a freshly provisioned
// device. Announcers run from the Service's provisioned hook, after the
// device has joined the network, so they connect lazily.
package announce

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// An Announcer publishes the redirect URLs of a provisioned device.
type Announcer interface {
	Announce(ctx context.Context, urls []string) error
	Close() error
}

// Multi announces through every announcer in order and joins the errors.
type Multi []Announcer

// Announce calls Announce on each announcer.
func (m Multi) Announce(ctx context.Context, urls []string) error {
	var errs []error
	for _, a := range m {
		if err := a.Announce(ctx, urls); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes each announcer.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hook adapts a to the Service's provisioned hook. Each announcement is
// bounded by timeout; failures are logged.
func Hook(a Announcer, timeout time.Duration, log logrus.FieldLogger) func(urls []string) {
	return func(urls []string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.Announce(ctx, urls); err != nil {
			log.WithError(err).Warn("announce")
			return
		}
		log.WithField("urls", urls).Info("announced")
	}
}
