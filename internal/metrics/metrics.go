// Registers:
//
//	#investflow_ticks_total
//	#investflow_frames_dropped_total
//	#investflow_history_points_total
//	#investflow_persist_errors_total
//	#investflow_broadcasts_total
//	#go_* and process_* system metrics
//
// Exposes them on the configured address using the Prometheus HTTP handler.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once          sync.Once
	ticksTotal    *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	historyPoints prometheus.Counter
	persistErrors prometheus.Counter
	broadcasts    prometheus.Counter
)

func Init(addr string) {
	once.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "investflow_ticks_total",
				Help: "Number of price ticks accepted by the update pipeline",
			},
			[]string{"source"},
		)

		framesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "investflow_frames_dropped_total",
				Help: "Number of malformed or unmatched frames discarded",
			},
			[]string{"source"},
		)

		historyPoints = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investflow_history_points_total",
			Help: "Number of durable price history points written",
		})

		persistErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investflow_persist_errors_total",
			Help: "Number of swallowed persistence failures",
		})

		broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "investflow_broadcasts_total",
			Help: "Number of price updates broadcast to clients",
		})

		_ = prometheus.Register(ticksTotal)
		_ = prometheus.Register(framesDropped)
		_ = prometheus.Register(historyPoints)
		_ = prometheus.Register(persistErrors)
		_ = prometheus.Register(broadcasts)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementTick increases the accepted-tick counter for a source.
func IncrementTick(source string) {
	if ticksTotal != nil {
		ticksTotal.WithLabelValues(source).Inc()
	}
}

// IncrementDropped increases the dropped-frame counter for a source.
func IncrementDropped(source string) {
	if framesDropped != nil {
		framesDropped.WithLabelValues(source).Inc()
	}
}

// IncrementHistoryPoint counts one durable history point.
func IncrementHistoryPoint() {
	if historyPoints != nil {
		historyPoints.Inc()
	}
}

// IncrementPersistError counts one swallowed persistence failure.
func IncrementPersistError() {
	if persistErrors != nil {
		persistErrors.Inc()
	}
}

// IncrementBroadcast counts one fan-out broadcast.
func IncrementBroadcast() {
	if broadcasts != nil {
		broadcasts.Inc()
	}
}
