package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "offlinesync"

var (
	once sync.Once

	actionsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_enqueued_total",
		Help:      "Pending actions appended to the queue.",
	})

	actionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_processed_total",
			Help:      "Pending actions processed during drains, by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Pending actions waiting for delivery.",
	})

	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_failed_attempts_total",
			Help:      "Failed attempts seen by the retry executor, by error kind.",
		},
		[]string{"kind"},
	)

	networkTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_transitions_total",
			Help:      "Connectivity transitions, by new state.",
		},
		[]string{"state"},
	)

	networkOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "network_online",
		Help:      "1 when the network is reachable.",
	})

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			actionsEnqueued,
			actionsProcessed,
			queueDepth,
			retryAttempts,
			networkTransitions,
			networkOnline,
			httpRequests,
		)
	})
}

func IncEnqueued() {
	actionsEnqueued.Inc()
}

// IncProcessed counts a drain outcome: succeeded, requeued or dropped.
func IncProcessed(outcome string) {
	actionsProcessed.WithLabelValues(outcome).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func IncRetryAttempt(kind string) {
	retryAttempts.WithLabelValues(kind).Inc()
}

// ObserveNetwork records a connectivity transition.
func ObserveNetwork(online bool) {
	state := "offline"
	value := 0.0
	if online {
		state = "online"
		value = 1
	}
	networkTransitions.WithLabelValues(state).Inc()
	networkOnline.Set(value)
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
