package wifi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Static pretends to join every network. After Delay it reports the
// redirect URLs rendered with IP. It is meant for bench testing clients.
type Static struct {
	IP    string
	URLs  []string
	Delay time.Duration
	Log   logrus.FieldLogger
}

// Join waits for s.Delay and returns the rendered URLs.
func (s *Static) Join(ctx context.Context, ssid, password []byte) ([]string, error) {
	if len(ssid) == 0 {
		return nil, ErrEmptySSID
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{"ssid": string(ssid), "ip": s.IP}).Warn("pretending to connect to wifi")
	}

	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return RenderURLs(s.URLs, s.IP), nil
}
