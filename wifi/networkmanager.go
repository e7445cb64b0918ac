package wifi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	nmDest              = "org.freedesktop.NetworkManager"
	nmPath              = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface             = "org.freedesktop.NetworkManager"
	nmActiveIface       = "org.freedesktop.NetworkManager.Connection.Active"
	nmIP4ConfigIface    = "org.freedesktop.NetworkManager.IP4Config"
	nmSettingsConnIface = "org.freedesktop.NetworkManager.Settings.Connection"

	// NMActiveConnectionState values.
	activeStateActivated   = 2
	activeStateDeactivated = 4
)

// ErrActivationFailed is returned when NetworkManager gives up on a
// connection, typically because of a wrong password.
var ErrActivationFailed = errors.New("wifi: connection activation failed")

// A Bus hands out D-Bus objects. *dbus.Conn implements it.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// NetworkManager joins networks by adding and activating a connection
// profile through the NetworkManager D-Bus API. Profiles of failed
// attempts are deleted again.
type NetworkManager struct {
	bus   Bus
	iface string
	urls  []string
	log   logrus.FieldLogger

	// Poll is the interval at which the activation state is checked.
	Poll time.Duration
}

// NewNetworkManager returns a joiner for the wireless interface iface.
// urls are redirect URL templates, see RenderURLs.
func NewNetworkManager(bus Bus, iface string, urls []string, log logrus.FieldLogger) *NetworkManager {
	return &NetworkManager{
		bus:   bus,
		iface: iface,
		urls:  urls,
		log:   log.WithField("component", "networkmanager"),
		Poll:  250 * time.Millisecond,
	}
}

// Join connects iface to ssid and waits until it has an IPv4 address.
func (n *NetworkManager) Join(ctx context.Context, ssid, password []byte) ([]string, error) {
	if len(ssid) == 0 {
		return nil, ErrEmptySSID
	}
	log := n.log.WithField("ssid", string(ssid))

	nm := n.bus.Object(nmDest, nmPath)
	var dev dbus.ObjectPath
	if err := nm.CallWithContext(ctx, nmIface+".GetDeviceByIpIface", 0, n.iface).Store(&dev); err != nil {
		return nil, fmt.Errorf("wifi: device %s: %w", n.iface, err)
	}

	var conn, active dbus.ObjectPath
	settings := ConnectionSettings(ssid, password, n.iface)
	err := nm.CallWithContext(ctx, nmIface+".AddAndActivateConnection", 0, settings, dev, dbus.ObjectPath("/")).Store(&conn, &active)
	if err != nil {
		return nil, fmt.Errorf("wifi: add connection: %w", err)
	}
	log.WithField("connection", conn).Debug("connection added")

	ip, err := n.waitActivated(ctx, active)
	if err != nil {
		n.deleteConnection(conn)
		return nil, err
	}
	log.WithField("ip", ip).Info("connected")
	return RenderURLs(n.urls, ip), nil
}

func (n *NetworkManager) waitActivated(ctx context.Context, active dbus.ObjectPath) (string, error) {
	obj := n.bus.Object(nmDest, active)
	t := time.NewTicker(n.Poll)
	defer t.Stop()
	for {
		v, err := obj.GetProperty(nmActiveIface + ".State")
		if err != nil {
			return "", fmt.Errorf("wifi: activation state: %w", err)
		}
		state, _ := v.Value().(uint32)
		switch state {
		case activeStateActivated:
			return n.address(obj)
		case activeStateDeactivated:
			return "", ErrActivationFailed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// address returns the first IPv4 address of an active connection.
func (n *NetworkManager) address(active dbus.BusObject) (string, error) {
	v, err := active.GetProperty(nmActiveIface + ".Ip4Config")
	if err != nil {
		return "", fmt.Errorf("wifi: ip4 config: %w", err)
	}
	path, ok := v.Value().(dbus.ObjectPath)
	if !ok || path == "/" {
		return "", fmt.Errorf("wifi: connection has no ip4 config")
	}
	v, err = n.bus.Object(nmDest, path).GetProperty(nmIP4ConfigIface + ".AddressData")
	if err != nil {
		return "", fmt.Errorf("wifi: address data: %w", err)
	}
	data, _ := v.Value().([]map[string]dbus.Variant)
	for _, d := range data {
		if a, ok := d["address"].Value().(string); ok && a != "" {
			return a, nil
		}
	}
	return "", fmt.Errorf("wifi: connection has no ipv4 address")
}

func (n *NetworkManager) deleteConnection(conn dbus.ObjectPath) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.bus.Object(nmDest, conn).CallWithContext(ctx, nmSettingsConnIface+".Delete", 0).Err; err != nil {
		n.log.WithError(err).WithField("connection", conn).Warn("delete connection")
	}
}

// ConnectionSettings builds the NetworkManager connection profile for a
// WPA-PSK network, or an open one when password is empty.
func ConnectionSettings(ssid, password []byte, iface string) map[string]map[string]dbus.Variant {
	s := map[string]map[string]dbus.Variant{
		"connection": {
			"id":             dbus.MakeVariant("improv-" + string(ssid)),
			"uuid":           dbus.MakeVariant(uuid.NewString()),
			"type":           dbus.MakeVariant("802-11-wireless"),
			"interface-name": dbus.MakeVariant(iface),
			"autoconnect":    dbus.MakeVariant(true),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant(append([]byte(nil), ssid...)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"ipv4": {"method": dbus.MakeVariant("auto")},
		"ipv6": {"method": dbus.MakeVariant("auto")},
	}
	if len(password) > 0 {
		s["802-11-wireless-security"] = map[string]dbus.Variant{
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(string(password)),
		}
	}
	return s
}
