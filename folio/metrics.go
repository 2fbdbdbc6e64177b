package folio

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process health gauges the server-health job samples
// on its cadence.
type Metrics struct {
	registry *prometheus.Registry

	goroutines prometheus.Gauge
	heapBytes  prometheus.Gauge
	accounts   prometheus.Gauge
	uptime     prometheus.Gauge

	startTime time.Time
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folio_goroutines",
			Help: "Number of goroutines.",
		}),
		heapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folio_heap_alloc_bytes",
			Help: "Heap bytes allocated and in use.",
		}),
		accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folio_accounts",
			Help: "Number of active accounts.",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folio_uptime_seconds",
			Help: "Seconds since the server started.",
		}),
		startTime: time.Now(),
	}
	metrics.registry.MustRegister(
		metrics.goroutines,
		metrics.heapBytes,
		metrics.accounts,
		metrics.uptime,
	)
	return metrics
}

func (self *Metrics) Sample(accountCount int) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	self.goroutines.Set(float64(runtime.NumGoroutine()))
	self.heapBytes.Set(float64(memStats.HeapAlloc))
	self.accounts.Set(float64(accountCount))
	self.uptime.Set(time.Since(self.startTime).Seconds())
}

func (self *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(self.registry, promhttp.HandlerOpts{})
}
