package prometrics

import (
	"github.com/Zhima-Mochi/minibilling/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// Instruments registers every metric the billing service emits and returns them keyed for
// observability.New.
func Instruments(r Registry) (map[observability.MetricKey]observability.Counter, map[observability.MetricKey]observability.Histogram) {
	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: r.Counter(string(observability.MUsecaseRequests),
			"Total number of use case invocations.", "use_case", "outcome"),
		observability.MHTTPRequests: r.Counter(string(observability.MHTTPRequests),
			"Total number of HTTP requests.", "method", "route", "status"),
		observability.MExternalRequests: r.Counter(string(observability.MExternalRequests),
			"Calls to external collaborators such as the payment provider.", "peer", "endpoint", "outcome"),
		observability.MSweepInvoices: r.Counter(string(observability.MSweepInvoices),
			"Invoices handled by batch sweeps.", "sweep", "outcome"),
		observability.MInvoiceTransitions: r.Counter(string(observability.MInvoiceTransitions),
			"Invoice status transitions persisted by the engines.", "from", "to"),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: r.Histogram(string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
		observability.MHTTPRequestDuration: r.Histogram(string(observability.MHTTPRequestDuration),
			"Duration of HTTP requests in seconds.", prometheus.DefBuckets, "method", "route", "status"),
		observability.MExternalRequestDuration: r.Histogram(string(observability.MExternalRequestDuration),
			"Duration of external calls in seconds.", prometheus.DefBuckets, "peer", "endpoint"),
		observability.MSweepDuration: r.Histogram(string(observability.MSweepDuration),
			"Duration of a full sweep in seconds.", prometheus.ExponentialBuckets(0.01, 4, 10), "sweep"),
	}
	return counters, histograms
}
