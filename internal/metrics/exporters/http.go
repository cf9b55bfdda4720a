// Package exporters publishes the capture metrics over Prometheus and SSE.
package exporters

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/capturenode/internal/logging"
)

// HTTPHandler serves the default registry, OpenMetrics included when the
// scraper asks for it. A failing collector is logged and skipped instead
// of failing the whole scrape.
func HTTPHandler() http.Handler {
	handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          scrapeLogger{logging.GetLogger("metrics")},
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, handler)
}

type scrapeLogger struct{ logger *slog.Logger }

func (l scrapeLogger) Println(v ...any) {
	l.logger.Warn("Metrics scrape error", "error", fmt.Sprint(v...))
}
