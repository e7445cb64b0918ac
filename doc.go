// Package improv implements the device side of the Improv WiFi
// provisioning protocol over Bluetooth Low Energy.
//
// A client (a phone or a browser) connects to the device over BLE and
// writes RPC commands to the RPC Command characteristic of the Improv
// service. The device decodes the command, updates the Status and Error
// characteristics and notifies an RPC result. Sending WiFi credentials
// moves the device through Provisioning to Provisioned, or back to Ready
// with an UnableToConnect error.
//
// # Status
//
// The four RPC commands (WifiSettings, Identify, RequestCurrentState,
// RequestDeviceCapabilities) are supported. BLE pairing and bonding are
// not; the device is always authorized.
//
// # Wire format
//
// Commands and results share one framing:
//
//	[type, length, payload..., checksum]
//
// where checksum is the sum of all preceding bytes modulo 256. The
// WifiSettings payload is a length-prefixed SSID followed by a
// length-prefixed password; its result payload is a sequence of
// length-prefixed redirect URLs. Results longer than a notification are
// split into several frames, each with its own checksum, followed by an
// empty frame.
//
// # Usage
//
// A Service is created with a Joiner, the function that actually joins
// the network, and attached to a BLE stack through a binding:
//
//	join := improv.JoinFunc(
//		func(ctx context.Context, ssid, password []byte) ([]string, error) {
//			// associate with the network, then
//			return []string{"http://192.168.2.123"}, nil
//		})
//
//	svc := improv.NewService("My Wifi Connect", join,
//		improv.WithIdentify(func() { log.Println("identify") }),
//		improv.WithJoinTimeout(30*time.Second),
//	)
//	defer svc.Close()
//
//	// github.com/paypal/gatt
//	srv := gattsrv.New(svc)
//	log.Fatal(srv.Serve(ctx))
//
// Bindings call HandleWrite and HandleRead from their characteristic
// callbacks and implement Transport so the Service can set values and
// send notifications. Package gattsrv binds to github.com/paypal/gatt
// (HCI user channel), package bluez to tinygo.org/x/bluetooth (BlueZ over
// D-Bus). The improvd command wires everything together from a YAML
// configuration file.
//
// Joining may take several seconds. It runs in its own goroutine, so
// reads and RequestCurrentState keep answering (with Provisioning)
// while it is in flight. A second WifiSettings command during that time
// is rejected with NotAuthorized.
//
// # References
//
// The protocol is described at https://www.improv-wifi.com/ble/.
package improv
