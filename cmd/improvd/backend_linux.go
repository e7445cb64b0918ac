package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/XC-/improv"
	"github.com/XC-/improv/bluez"
	"github.com/XC-/improv/config"
	"github.com/XC-/improv/gattsrv"
)

func newServer(cfg *config.Config, svc *improv.Service, log logrus.FieldLogger, onConn func(bool)) (server, error) {
	switch cfg.Backend {
	case "gatt":
		return gattsrv.New(svc,
			gattsrv.WithLogger(log),
			gattsrv.WithDeviceOptions(gattsrv.DeviceOptions(cfg.GATT)...),
			gattsrv.OnConnection(onConn),
		), nil
	case "bluez":
		return bluez.New(svc,
			bluez.WithLogger(log),
			bluez.WithChunkSize(cfg.Improv.ChunkSize),
			bluez.OnConnection(onConn),
		), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
