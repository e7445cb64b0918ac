package wifi

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderURLs(t *testing.T) {
	cases := []struct {
		templates []string
		ip        string
		want      []string
	}{
		{templates: []string{"http://{ip}"}, ip: "192.168.2.123", want: []string{"http://192.168.2.123"}},
		{templates: []string{"http://{ip}:8080/setup", "http://device.local"}, ip: "10.0.0.2", want: []string{"http://10.0.0.2:8080/setup", "http://device.local"}},
		{templates: []string{"http://{ip}", "http://device.local"}, ip: "", want: []string{"http://device.local"}},
		{templates: []string{"http://{ip}"}, ip: "", want: nil},
		{templates: nil, ip: "10.0.0.2", want: nil},
	}
	for _, tt := range cases {
		if got := RenderURLs(tt.templates, tt.ip); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("RenderURLs(%q, %q): got %q want %q", tt.templates, tt.ip, got, tt.want)
		}
	}
}

func TestStatic(t *testing.T) {
	l, hook := test.NewNullLogger()
	s := &Static{IP: "192.168.2.123", URLs: []string{"http://{ip}"}, Log: l}

	urls, err := s.Join(context.Background(), []byte("MyNet"), []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://192.168.2.123"}, urls)
	for _, e := range hook.AllEntries() {
		line, _ := e.String()
		assert.NotContains(t, line, "hunter2")
	}

	_, err = s.Join(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptySSID)

	s.Delay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Join(ctx, []byte("MyNet"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectionSettings(t *testing.T) {
	s := ConnectionSettings([]byte("MyNet"), []byte("secret"), "wlan0")
	assert.Equal(t, "802-11-wireless", s["connection"]["type"].Value())
	assert.Equal(t, "wlan0", s["connection"]["interface-name"].Value())
	assert.Equal(t, []byte("MyNet"), s["802-11-wireless"]["ssid"].Value())
	assert.Equal(t, "wpa-psk", s["802-11-wireless-security"]["key-mgmt"].Value())
	assert.Equal(t, "secret", s["802-11-wireless-security"]["psk"].Value())
	assert.NotEmpty(t, s["connection"]["uuid"].Value())

	open := ConnectionSettings([]byte("Cafe"), nil, "wlan0")
	assert.NotContains(t, open, "802-11-wireless-security")
}

type reply struct {
	body []interface{}
	err  error
}

type call struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

// fakeBus serves canned NetworkManager replies.
type fakeBus struct {
	replies map[string]reply
	props   map[dbus.ObjectPath]map[string]func() interface{}
	calls   []call
}

func (b *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: b, path: path}
}

func (b *fakeBus) called(method string) bool {
	for _, c := range b.calls {
		if c.method == method {
			return true
		}
	}
	return false
}

type fakeObject struct {
	dbus.BusObject
	bus  *fakeBus
	path dbus.ObjectPath
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	o.bus.calls = append(o.bus.calls, call{o.path, method, args})
	r := o.bus.replies[method]
	return &dbus.Call{Body: r.body, Err: r.err}
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	f, ok := o.bus.props[o.path][p]
	if !ok {
		return dbus.Variant{}, fmt.Errorf("%s has no property %s", o.path, p)
	}
	return dbus.MakeVariant(f()), nil
}

func newFakeNM(states ...uint32) *fakeBus {
	n := 0
	state := func() interface{} {
		s := states[n]
		if n < len(states)-1 {
			n++
		}
		return s
	}
	return &fakeBus{
		replies: map[string]reply{
			nmIface + ".GetDeviceByIpIface":       {body: []interface{}{dbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/3")}},
			nmIface + ".AddAndActivateConnection": {body: []interface{}{dbus.ObjectPath("/settings/7"), dbus.ObjectPath("/active/9")}},
		},
		props: map[dbus.ObjectPath]map[string]func() interface{}{
			"/active/9": {
				nmActiveIface + ".State":     state,
				nmActiveIface + ".Ip4Config": func() interface{} { return dbus.ObjectPath("/ip4/1") },
			},
			"/ip4/1": {
				nmIP4ConfigIface + ".AddressData": func() interface{} {
					return []map[string]dbus.Variant{{
						"address": dbus.MakeVariant("192.168.2.50"),
						"prefix":  dbus.MakeVariant(uint32(24)),
					}}
				},
			},
		},
	}
}

func newTestNM(bus Bus) *NetworkManager {
	l, _ := test.NewNullLogger()
	n := NewNetworkManager(bus, "wlan0", []string{"http://{ip}", "http://device.local"}, l)
	n.Poll = time.Millisecond
	return n
}

func TestNetworkManagerJoin(t *testing.T) {
	bus := newFakeNM(1, 1, activeStateActivated)
	urls, err := newTestNM(bus).Join(context.Background(), []byte("MyNet"), []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://192.168.2.50", "http://device.local"}, urls)
	assert.False(t, bus.called(nmSettingsConnIface+".Delete"))

	require.Len(t, bus.calls, 2)
	add := bus.calls[1]
	assert.Equal(t, nmIface+".AddAndActivateConnection", add.method)
	require.Len(t, add.args, 3)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/3"), add.args[1])
	settings := add.args[0].(map[string]map[string]dbus.Variant)
	assert.Equal(t, []byte("MyNet"), settings["802-11-wireless"]["ssid"].Value())
}

func TestNetworkManagerActivationFailed(t *testing.T) {
	bus := newFakeNM(1, activeStateDeactivated)
	_, err := newTestNM(bus).Join(context.Background(), []byte("MyNet"), []byte("wrong"))
	assert.ErrorIs(t, err, ErrActivationFailed)

	last := bus.calls[len(bus.calls)-1]
	assert.Equal(t, nmSettingsConnIface+".Delete", last.method)
	assert.Equal(t, dbus.ObjectPath("/settings/7"), last.path)
}

func TestNetworkManagerTimeout(t *testing.T) {
	bus := newFakeNM(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestNM(bus).Join(ctx, []byte("MyNet"), []byte("secret"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, bus.called(nmSettingsConnIface+".Delete"))
}

func TestNetworkManagerNoDevice(t *testing.T) {
	bus := newFakeNM(activeStateActivated)
	bus.replies[nmIface+".GetDeviceByIpIface"] = reply{err: errors.New("No device found for the requested iface.")}
	_, err := newTestNM(bus).Join(context.Background(), []byte("MyNet"), nil)
	assert.Error(t, err)
	assert.False(t, bus.called(nmIface+".AddAndActivateConnection"))

	_, err = newTestNM(bus).Join(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptySSID)
}
