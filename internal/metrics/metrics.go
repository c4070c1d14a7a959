package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hlsdl"

// Fragment outcomes.
const (
	OutcomeAppended = "appended"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Recorder holds the download counters. A nil Recorder discards everything.
type Recorder struct {
	fragments   *prometheus.CounterVec
	retries     prometheus.Counter
	bytes       prometheus.Counter
	keyFetches  prometheus.Counter
	delegations *prometheus.CounterVec
	downloads   *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Fragments processed, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_retries_total",
			Help:      "Fragment fetches retried after an HTTP error.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes appended to outputs.",
		}),
		keyFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fetches_total",
			Help:      "Decryption keys fetched over the network.",
		}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Downloads handed to an external tool, by tool.",
		}, []string{"tool"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished downloads, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(r.fragments, r.retries, r.bytes, r.keyFetches, r.delegations, r.downloads)

	return r
}

// Handler exposes the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (r *Recorder) Fragment(outcome string) {
	if r == nil {
		return
	}
	r.fragments.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Retry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

func (r *Recorder) BytesWritten(n int) {
	if r == nil {
		return
	}
	r.bytes.Add(float64(n))
}

func (r *Recorder) KeyFetched() {
	if r == nil {
		return
	}
	r.keyFetches.Inc()
}

func (r *Recorder) Delegated(tool string) {
	if r == nil {
		return
	}
	r.delegations.WithLabelValues(tool).Inc()
}

func (r *Recorder) Download(result string) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(result).Inc()
}
