// Package metrics groups the Prometheus instruments for the posting and
// reconciliation paths.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics is registered once at startup and passed by pointer wherever
// needed. A custom registry keeps tests isolated from global state.
type Metrics struct {
	reg *prometheus.Registry

	AdsPosted       *prometheus.CounterVec
	AdsFailed       *prometheus.CounterVec
	MessagesDeleted prometheus.Counter
	AssetsDeleted   prometheus.Counter
	RunDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,

		AdsPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ads_posted_total",
			Help: "Ads successfully posted and committed, per city.",
		}, []string{"city"}),

		AdsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ads_failed_total",
			Help: "Ads that failed a posting attempt, per city and reason.",
		}, []string{"city", "reason"}),

		MessagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channel_messages_deleted_total",
			Help: "Channel messages removed during reconciliation.",
		}),

		AssetsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stored_photos_deleted_total",
			Help: "Stored photo objects removed during reconciliation.",
		}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_run_seconds",
			Help:    "Wall time of one scheduled job run.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"job"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		m.AdsPosted,
		m.AdsFailed,
		m.MessagesDeleted,
		m.AssetsDeleted,
		m.RunDuration,
	)
	return m
}

// ObserveRun records one job run's duration.
func (m *Metrics) ObserveRun(job string, took time.Duration) {
	m.RunDuration.WithLabelValues(job).Observe(took.Seconds())
}

// Serve exposes /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics endpoint started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
