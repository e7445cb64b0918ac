package announce

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// maxTXTLen is the longest single TXT string DNS allows.
const maxTXTLen = 255

// MDNS registers a DNS-SD service for the device web UI.
type MDNS struct {
	Instance string
	Service  string
	Domain   string
	Port     int

	mu     sync.Mutex
	server *zeroconf.Server
}

// Announce (re)registers the service with the redirect URLs in its TXT
// records.
func (m *MDNS) Announce(ctx context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}

	server, err := zeroconf.Register(
		m.Instance,
		m.Service,
		m.Domain,
		m.Port,
		TXTRecords(urls),
		nil,
	)
	if err != nil {
		return fmt.Errorf("mdns: register %s: %w", m.Service, err)
	}
	m.server = server
	return nil
}

// Close unregisters the service.
func (m *MDNS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
	return nil
}

// TXTRecords renders urls as url=, url1=, ... TXT strings. URLs that do
// not fit in a TXT string are skipped.
func TXTRecords(urls []string) []string {
	txt := []string{"improv=1"}
	n := 0
	for _, u := range urls {
		key := "url"
		if n > 0 {
			key += strconv.Itoa(n)
		}
		s := key + "=" + u
		if len(s) > maxTXTLen {
			continue
		}
		txt = append(txt, s)
		n++
	}
	return txt
}
