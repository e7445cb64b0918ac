package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/XC-/improv"
	"github.com/XC-/improv/config"
	"github.com/XC-/improv/gattsrv"
)

// CoreBluetooth is reached through gatt only.
func newServer(cfg *config.Config, svc *improv.Service, log logrus.FieldLogger, onConn func(bool)) (server, error) {
	if cfg.Backend != "gatt" {
		return nil, fmt.Errorf("backend %q is not available on darwin", cfg.Backend)
	}
	return gattsrv.New(svc,
		gattsrv.WithLogger(log),
		gattsrv.WithDeviceOptions(gattsrv.DeviceOptions(cfg.GATT)...),
		gattsrv.OnConnection(onConn),
	), nil
}
