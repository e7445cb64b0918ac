// Package wifi provides Joiners that associate the device with a WiFi
// network: Static, which only pretends to, and NetworkManager, which
// drives NetworkManager over D-Bus.
package wifi

import (
	"errors"
	"strings"
)

// ErrEmptySSID is returned when credentials carry no network name.
var ErrEmptySSID = errors.New("wifi: empty ssid")

// IPPlaceholder is replaced by the device address in redirect URL
// templates.
const IPPlaceholder = "{ip}"

// RenderURLs fills ip into the redirect URL templates. Templates that
// need an address are dropped when ip is empty.
func RenderURLs(templates []string, ip string) []string {
	var urls []string
	for _, t := range templates {
		if strings.Contains(t, IPPlaceholder) {
			if ip == "" {
				continue
			}
			t = strings.ReplaceAll(t, IPPlaceholder, ip)
		}
		urls = append(urls, t)
	}
	return urls
}
