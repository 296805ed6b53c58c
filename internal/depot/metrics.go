package depot

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts thumbnail cache activity. A nil *Metrics records nothing.
type Metrics struct {
	lookups      *prometheus.CounterVec
	transforms   prometheus.Counter
	unrenderable prometheus.Counter
	failures     prometheus.Counter
}

// NewMetrics creates the thumbnail counters and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "depot",
			Subsystem: "thumbnails",
			Name:      "lookups_total",
			Help:      "Thumbnail requests by cache result.",
		}, []string{"result"}),
		transforms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depot",
			Subsystem: "thumbnails",
			Name:      "transforms_total",
			Help:      "Source images run through the thumbnail transform.",
		}),
		unrenderable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depot",
			Subsystem: "thumbnails",
			Name:      "unrenderable_total",
			Help:      "Sources the transform could not decode as an image.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "depot",
			Subsystem: "thumbnails",
			Name:      "failures_total",
			Help:      "Thumbnail requests that ended in an error.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.lookups, m.transforms, m.unrenderable, m.failures)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.lookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) transform() {
	if m != nil {
		m.transforms.Inc()
	}
}

func (m *Metrics) notRenderable() {
	if m != nil {
		m.unrenderable.Inc()
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.failures.Inc()
	}
}
