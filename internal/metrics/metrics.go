// Package metrics exposes Prometheus collectors for the scraper and an
// optional HTTP listener serving them, for watching long scrapes from
// the outside.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	scraperPagesTotal      *prometheus.CounterVec
	scraperImagesTotal     *prometheus.CounterVec
	scraperItemsTotal      *prometheus.CounterVec
	scraperErrorsTotal     *prometheus.CounterVec
	scraperQueueDepth      *prometheus.GaugeVec
	scraperThrottleSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total pages fetched, labeled by kind (members, board, thread, ...).",
			},
			[]string{"kind"},
		)

		scraperImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_images_total",
				Help: "Total image downloads, labeled by result.",
			},
			[]string{"result"},
		)

		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_total",
				Help: "Total records persisted, labeled by item type and upsert status.",
			},
			[]string{"type", "status"},
		)

		scraperErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_errors_total",
				Help: "Total scrape errors, labeled by stage.",
			},
			[]string{"stage"},
		)

		scraperQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraper_queue_depth",
				Help: "Items currently waiting in each persistence queue.",
			},
			[]string{"queue"},
		)

		scraperThrottleSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_throttle_seconds",
				Help:    "Histogram of request throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// ObservePage counts a fetched page of the given kind.
func ObservePage(kind string) {
	scraperPagesTotal.WithLabelValues(kind).Inc()
}

// ObserveImage counts an image download attempt by result
// ("downloaded", "duplicate", "failed").
func ObserveImage(result string) {
	scraperImagesTotal.WithLabelValues(result).Inc()
}

// ObserveItem counts a persisted record by type and upsert status.
func ObserveItem(itemType, status string) {
	scraperItemsTotal.WithLabelValues(itemType, status).Inc()
}

// ObserveError counts an error at the given pipeline stage.
func ObserveError(stage string) {
	scraperErrorsTotal.WithLabelValues(stage).Inc()
}

// SetQueueDepth records the current length of a persistence queue.
func SetQueueDepth(queue string, depth int) {
	scraperQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveThrottle records the duration of a throttle wait.
func ObserveThrottle(d time.Duration) {
	scraperThrottleSeconds.Observe(d.Seconds())
}

// Serve starts an HTTP listener exposing /metrics and /healthz until
// ctx is canceled. Errors are logged, not returned: the listener is a
// convenience and must never abort a scrape.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	Init()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics listener failed", zap.Error(err))
	}
}
