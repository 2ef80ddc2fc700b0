package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Orchestration metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockermc_operations_total",
			Help: "Total number of server operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	DeletionStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockermc_deletion_steps_total",
			Help: "Total number of deletion steps by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	WaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockermc_wait_duration_seconds",
			Help:    "Time spent polling for a container or its files to converge",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"what", "outcome"},
	)

	ServersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockermc_servers_total",
			Help: "Number of server records across all owners",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockermc_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockermc_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(DeletionStepsTotal)
	prometheus.MustRegister(WaitDuration)
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome labels an operation result
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveOperation counts one finished operation
func ObserveOperation(operation string, err error) {
	OperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// ObserveWait records how long a poll ran
func ObserveWait(what string, d time.Duration, err error) {
	WaitDuration.WithLabelValues(what, Outcome(err)).Observe(d.Seconds())
}

// ObserveRequest records an API request
func ObserveRequest(method string, status int, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
