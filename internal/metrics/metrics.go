package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldsync"

// Result: значение метки result для fieldsync_sync_passes_total.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultInProgress = "in_progress"
	ResultNoIdentity = "missing_identifier"
)

// Sync: счётчики проходов синхронизации. Методы безопасны на nil.
type Sync struct {
	registry *prometheus.Registry
	passes   *prometheus.CounterVec
	fetched  prometheus.Counter
	merged   prometheus.Counter
	paired   prometheus.Counter
	uploaded prometheus.Counter
	duration prometheus.Histogram
}

// New регистрирует метрики в собственном реестре (вместе со стандартными go/process коллекторами).
func New() *Sync {
	reg := prometheus.NewRegistry()
	m := &Sync{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_passes_total",
			Help: "Sync passes by outcome.",
		}, []string{"result"}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_fetched_total",
			Help: "Messages received from the remote API.",
		}),
		merged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_merged_total",
			Help: "Remote messages inserted into the local store.",
		}),
		paired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "surveys_paired_total",
			Help: "Survey prompt/response pairs hidden from display.",
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_uploaded_total",
			Help: "Local messages confirmed by the remote API.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_pass_duration_seconds",
			Help:    "Wall time of sync passes.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	reg.MustRegister(m.passes, m.fetched, m.merged, m.paired, m.uploaded, m.duration,
		prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Handler отдаёт /metrics для этого реестра.
func (m *Sync) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Pass учитывает завершённый проход. Длительность пишется только для проходов, которые реально шли.
func (m *Sync) Pass(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	if result == ResultOK || result == ResultError {
		m.duration.Observe(d.Seconds())
	}
}

func (m *Sync) Fetched(n int) {
	if m != nil && n > 0 {
		m.fetched.Add(float64(n))
	}
}

func (m *Sync) Merged(n int) {
	if m != nil && n > 0 {
		m.merged.Add(float64(n))
	}
}

func (m *Sync) Paired(n int) {
	if m != nil && n > 0 {
		m.paired.Add(float64(n))
	}
}

func (m *Sync) Uploaded(n int) {
	if m != nil && n > 0 {
		m.uploaded.Add(float64(n))
	}
}
