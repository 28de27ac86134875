package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zbxkit/zbx/message"
)

var (
	trapperRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbx_trapper_requests_total",
			Help: "Number of trapper requests by request kind and outcome",
		},
		[]string{"request", "outcome"},
	)

	trapperDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zbx_trapper_request_duration_seconds",
			Help:    "Trapper round trip duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"request"},
	)

	senderItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbx_sender_items_total",
			Help: "Items reported by the server as processed or failed",
		},
		[]string{"state"},
	)

	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zbx_rpc_calls_total",
			Help: "JSON-RPC calls by API category and outcome",
		},
		[]string{"category", "outcome"},
	)
)

// Register adds all collectors to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(trapperRequests, trapperDuration, senderItems, rpcCalls)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTrapperRequest counts one round trip. Request kinds other than the
// known ones are folded into "other" so the label set stays fixed.
func RecordTrapperRequest(request string, err error, d time.Duration) {
	switch request {
	case message.RequestSenderData, message.RequestActiveChecks:
	case "":
		request = "unknown"
	default:
		request = "other"
	}
	trapperRequests.WithLabelValues(request, outcome(err)).Inc()
	trapperDuration.WithLabelValues(request).Observe(d.Seconds())
}

func RecordSenderItems(processed, failed int64) {
	senderItems.WithLabelValues("processed").Add(float64(processed))
	senderItems.WithLabelValues("failed").Add(float64(failed))
}

// RecordRPCCall counts a call under its category ("host" for "host.get").
// Categories come from a fixed allow-list; sub-method names are caller input
// and are not used as labels.
func RecordRPCCall(method string, err error) {
	category, _, _ := strings.Cut(method, ".")
	rpcCalls.WithLabelValues(category, outcome(err)).Inc()
}
