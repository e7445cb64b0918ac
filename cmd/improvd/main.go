// Command improvd provisions Wi-Fi credentials over Bluetooth LE using
// the Improv protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/improv"
	"github.com/XC-/improv/announce"
	"github.com/XC-/improv/config"
	"github.com/XC-/improv/logging"
	"github.com/XC-/improv/metrics"
	"github.com/XC-/improv/trace"
	"github.com/XC-/improv/wifi"
)

const (
	announceTimeout = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// A server is a running transport binding.
type server interface {
	improv.Transport
	Serve(ctx context.Context) error
}

// A serverFunc opens the transport binding selected by cfg.
type serverFunc func(cfg *config.Config, svc *improv.Service, log logrus.FieldLogger, onConn func(bool)) (server, error)

func main() {
	var (
		path     = flag.String("config", config.DefaultPath(), "configuration file")
		backend  = flag.String("backend", "", "BLE backend, gatt or bluez (overrides config)")
		name     = flag.String("name", "", "advertised device name (overrides config)")
		logLevel = flag.String("log-level", "", "log level (overrides config)")
	)
	flag.Parse()

	cfg, err := loadConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "improvd: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *backend, *name, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "improvd: %v\n", err)
		os.Exit(1)
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "improvd: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	stop := newTrigger()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.WithField("signal", s).Info("shutting down")
		stop.Set()
	}()

	if err := run(cfg, log, stop, newServer); err != nil {
		log.WithError(err).Error("improvd exited")
		closer.Close()
		os.Exit(1)
	}
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, nil
	}
	return cfg, err
}

func applyFlags(cfg *config.Config, backend, name, level string) {
	if backend != "" {
		cfg.Backend = backend
	}
	if name != "" {
		cfg.Name = name
	}
	if level != "" {
		cfg.Log.Level = level
	}
}

func run(cfg *config.Config, log *logrus.Logger, stop *trigger, open serverFunc) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.WithError(err).Warn("close")
			}
		}
	}()

	recs := []trace.Recorder{trace.NewLogRecorder(log)}
	if cfg.Trace.Path != "" {
		fr, err := trace.NewFileRecorder(cfg.Trace.Path)
		if err != nil {
			return err
		}
		closers = append(closers, fr)
		recs = append(recs, fr)
	}

	onConn := func(bool) {}
	metricsc := make(chan error, 1)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		mr, err := metrics.NewRecorder(reg)
		if err != nil {
			return err
		}
		recs = append(recs, mr)
		onConn = mr.Connection
		go func() { metricsc <- metrics.Serve(ctx, cfg.Metrics.Listen, reg, log) }()
	}

	j, err := newJoiner(cfg, log)
	if err != nil {
		return err
	}

	opts := []improv.Option{
		improv.WithLogger(log),
		improv.WithRecorder(trace.Multi(recs...)),
		improv.WithJoinTimeout(cfg.Improv.JoinTimeout),
		improv.WithReprovision(cfg.Improv.Reprovision),
		improv.WithChunkSize(cfg.Improv.ChunkSize),
	}
	if cfg.Improv.Identify {
		opts = append(opts, improv.WithIdentify(func() {
			log.WithField("name", cfg.Name).Warn("identify requested")
		}))
	}
	if a := newAnnouncer(cfg); len(a) > 0 {
		closers = append(closers, a)
		opts = append(opts, improv.OnProvisioned(announce.Hook(a, announceTimeout, log)))
	}

	svc := improv.NewService(cfg.Name, j, opts...)
	closers = append(closers, svc)

	srv, err := open(cfg, svc, log, onConn)
	if err != nil {
		return err
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	log.WithFields(logrus.Fields{"name": cfg.Name, "backend": cfg.Backend}).Info("improvd started")

	select {
	case <-stop.Done():
	case err = <-metricsc:
		stop.Set()
	case err = <-served:
		stop.Set()
		served = nil
	}

	// Stopped is notified while the transport is still up.
	svc.Close()
	cancel()
	if served == nil {
		return err
	}
	select {
	case serr := <-served:
		if err == nil {
			err = serr
		}
	case <-time.After(shutdownTimeout):
		log.WithField("timeout", shutdownTimeout).Warn("transport did not stop in time")
	}
	return err
}

func newJoiner(cfg *config.Config, log logrus.FieldLogger) (improv.Joiner, error) {
	switch cfg.WiFi.Backend {
	case "networkmanager":
		bus, err := dbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect system bus: %w", err)
		}
		return wifi.NewNetworkManager(bus, cfg.WiFi.Interface, cfg.WiFi.RedirectURLs, log), nil
	default:
		return &wifi.Static{
			IP:    cfg.WiFi.StaticIP,
			URLs:  cfg.WiFi.RedirectURLs,
			Delay: cfg.WiFi.StaticDelay,
			Log:   log,
		}, nil
	}
}

func newAnnouncer(cfg *config.Config) announce.Multi {
	var m announce.Multi
	if c := cfg.Announce.MDNS; c.Enabled {
		m = append(m, &announce.MDNS{
			Instance: cfg.MDNSInstance(),
			Service:  c.Service,
			Domain:   c.Domain,
			Port:     c.Port,
		})
	}
	if c := cfg.Announce.MQTT; c.Enabled {
		m = append(m, announce.NewMQTT(c, cfg.MQTTTopic(), cfg.Name))
	}
	return m
}
