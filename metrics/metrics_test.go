package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/improv"
	"github.com/XC-/improv/trace"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.Record(trace.Event{Kind: trace.KindCommand, Command: uint8(improv.CommandWifiSettings)})
	r.Record(trace.Event{Kind: trace.KindCommand, Command: uint8(improv.CommandWifiSettings)})
	r.Record(trace.Event{Kind: trace.KindCommand, Command: 0xFF})
	r.Record(trace.Event{Kind: trace.KindError, From: 0, To: uint8(improv.ErrorUnableToConnect)})
	r.Record(trace.Event{Kind: trace.KindError, From: uint8(improv.ErrorUnableToConnect), To: 0})
	r.Record(trace.Event{Kind: trace.KindState, From: 1, To: uint8(improv.StateProvisioning)})
	r.Record(trace.Event{Kind: trace.KindResult, Chunks: 3})
	r.Record(trace.Event{Kind: trace.KindAttempt, OK: true, Duration: 2 * time.Second})
	r.Record(trace.Event{Kind: trace.KindAttempt, OK: false, Duration: time.Second})
	r.Connection(true)
	r.Connection(true)
	r.Connection(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.commands.WithLabelValues("WifiSettings")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commands.WithLabelValues("Unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("UnableToConnect")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.errors))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.state))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.centrals))
	assert.Equal(t, 1, testutil.CollectAndCount(r.provisioned))
}

func TestNewRecorderDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)
	r.Record(trace.Event{Kind: trace.KindCommand, Command: uint8(improv.CommandIdentify)})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `improv_commands_total{command="Identify"} 1`)
	assert.Contains(t, string(body), "improv_state 1")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	post, err := http.Post(srv.URL+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
