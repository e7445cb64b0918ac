package trace

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogRecorder writes events to a logrus logger at debug level.
type LogRecorder struct {
	log logrus.FieldLogger
}

// NewLogRecorder returns a LogRecorder writing to l.
func NewLogRecorder(l logrus.FieldLogger) *LogRecorder {
	return &LogRecorder{log: l}
}

// Record logs e.
func (r *LogRecorder) Record(e Event) {
	f := logrus.Fields{"kind": e.Kind.String()}
	if e.Session != "" {
		f["session"] = e.Session
	}
	switch e.Kind {
	case KindCommand:
		f["command"] = e.Command
		f["frame"] = fmt.Sprintf("[ % X ]", e.Frame)
	case KindState, KindError:
		f["from"] = e.From
		f["to"] = e.To
	case KindResult:
		f["command"] = e.Command
		f["chunks"] = e.Chunks
	case KindAttempt:
		f["ssid"] = e.SSID
		f["ok"] = e.OK
		f["duration"] = e.Duration
	}
	r.log.WithFields(f).Debug(e.Detail)
}
