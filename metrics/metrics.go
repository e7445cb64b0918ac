// Package metrics exports Improv protocol events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/XC-/improv"
	"github.com/XC-/improv/trace"
)

// Recorder counts protocol events. It implements trace.Recorder.
type Recorder struct {
	commands    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	frames      prometheus.Counter
	state       prometheus.Gauge
	centrals    prometheus.Gauge
	provisioned prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "improv_commands_total",
			Help: "RPC commands written by centrals.",
		}, []string{"command"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "improv_errors_total",
			Help: "Errors reported through the Error characteristic.",
		}, []string{"error"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "improv_provisioning_attempts_total",
			Help: "Finished provisioning attempts.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "improv_result_frames_total",
			Help: "RPC result frames notified.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "improv_state",
			Help: "Current device state (Status characteristic value).",
		}),
		centrals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "improv_connected_centrals",
			Help: "Centrals currently connected.",
		}),
		provisioned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "improv_provisioning_duration_seconds",
			Help:    "Duration of provisioning attempts.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
	}
	r.state.Set(float64(improv.StateReady))

	for _, c := range []prometheus.Collector{
		r.commands, r.errors, r.attempts, r.frames, r.state, r.centrals, r.provisioned,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record updates the collectors for e.
func (r *Recorder) Record(e trace.Event) {
	switch e.Kind {
	case trace.KindCommand:
		r.commands.WithLabelValues(improv.CommandType(e.Command).String()).Inc()
	case trace.KindError:
		if improv.Error(e.To) != improv.ErrorNone {
			r.errors.WithLabelValues(improv.Error(e.To).String()).Inc()
		}
	case trace.KindState:
		r.state.Set(float64(e.To))
	case trace.KindResult:
		r.frames.Add(float64(e.Chunks))
	case trace.KindAttempt:
		outcome := "failed"
		if e.OK {
			outcome = "succeeded"
		}
		r.attempts.WithLabelValues(outcome).Inc()
		r.provisioned.Observe(e.Duration.Seconds())
	}
}

// Connection tracks central connections reported by a BLE binding.
func (r *Recorder) Connection(connected bool) {
	if connected {
		r.centrals.Inc()
	} else {
		r.centrals.Dec()
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

// Serve serves Handler(g) on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.WithField("addr", addr).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
