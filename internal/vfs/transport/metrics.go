package transport

import (
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	unmatched prometheus.Counter
	malformed prometheus.Counter
	pending   prometheus.GaugeFunc
}

func newMetrics(pending func() float64) *metrics {
	return &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vfsbridge_requests_total",
			Help: "Total number of requests sent to the collaborator.",
		}, []string{"command", "path"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vfsbridge_request_failures_total",
			Help: "Total number of requests that failed before the collaborator replied.",
		}, []string{"command", "reason"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vfsbridge_unmatched_replies_total",
			Help: "Total number of replies dropped because no request was pending for them.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vfsbridge_malformed_messages_total",
			Help: "Total number of inbound messages that could not be decoded.",
		}),
		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vfsbridge_pending_requests",
			Help: "Number of asynchronous requests waiting for a reply.",
		}, pending),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.failures, m.unmatched, m.malformed, m.pending}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	var errs *multierror.Error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (m *metrics) unregister(reg prometheus.Registerer) {
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}
