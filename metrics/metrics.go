// Package metrics provides Prometheus metrics of face tracking and learning
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Feedback outcomes used as label values
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
	FeedbackNotFound  = "not_found"
)

// Metrics contains Prometheus metrics of the watcher
type Metrics struct {
	registry *prometheus.Registry

	activeTracks        prometheus.Gauge
	tracksCreatedTotal  prometheus.Counter
	tracksExpiredTotal  prometheus.Counter
	framesTotal         prometheus.Counter
	facesTotal          prometheus.Counter
	confirmationsTotal  prometheus.Counter
	alertsTotal         *prometheus.CounterVec
	feedbackTotal       *prometheus.CounterVec
	notifyFailuresTotal *prometheus.CounterVec
	globalThreshold     prometheus.Gauge
	personOverrides     prometheus.Gauge
	matchScore          prometheus.Histogram
}

// NewMetrics creates and registers metrics
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.activeTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_active_tracks",
		Help: "Number of face tracks currently alive",
	})
	m.tracksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_tracks_created_total",
		Help: "Total number of created face tracks",
	})
	m.tracksExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_tracks_expired_total",
		Help: "Total number of face tracks removed after TTL ran out",
	})
	m.framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_frames_total",
		Help: "Total number of processed frames",
	})
	m.facesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_faces_total",
		Help: "Total number of processed face detections",
	})
	m.confirmationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "facewatch_confirmations_total",
		Help: "Total number of tracks whose identity has been confirmed",
	})
	m.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_unknown_alerts_total",
			Help: "Total number of unknown person alert decisions",
		},
		[]string{"status"}, // status: raised, suppressed
	)
	m.feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_feedback_total",
			Help: "Total number of operator feedback events",
		},
		[]string{"result"}, // result: correct, incorrect, not_found
	)
	m.notifyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facewatch_notify_failures_total",
			Help: "Total number of failed notifications",
		},
		[]string{"kind"},
	)
	m.globalThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_global_threshold",
		Help: "Current global similarity threshold",
	})
	m.personOverrides = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "facewatch_person_threshold_overrides",
		Help: "Number of persons with their own threshold",
	})
	m.matchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "facewatch_match_score",
		Help:    "Best catalog similarity per face",
		Buckets: prometheus.LinearBuckets(-1, 0.1, 21),
	})
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.activeTracks.Describe(ch)
	m.tracksCreatedTotal.Describe(ch)
	m.tracksExpiredTotal.Describe(ch)
	m.framesTotal.Describe(ch)
	m.facesTotal.Describe(ch)
	m.confirmationsTotal.Describe(ch)
	m.alertsTotal.Describe(ch)
	m.feedbackTotal.Describe(ch)
	m.notifyFailuresTotal.Describe(ch)
	m.globalThreshold.Describe(ch)
	m.personOverrides.Describe(ch)
	m.matchScore.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.activeTracks.Collect(ch)
	m.tracksCreatedTotal.Collect(ch)
	m.tracksExpiredTotal.Collect(ch)
	m.framesTotal.Collect(ch)
	m.facesTotal.Collect(ch)
	m.confirmationsTotal.Collect(ch)
	m.alertsTotal.Collect(ch)
	m.feedbackTotal.Collect(ch)
	m.notifyFailuresTotal.Collect(ch)
	m.globalThreshold.Collect(ch)
	m.personOverrides.Collect(ch)
	m.matchScore.Collect(ch)
}

// ObserveFrame records a processed frame
func (m *Metrics) ObserveFrame(faces, activeTracks, created, expired int) {
	m.framesTotal.Inc()
	m.facesTotal.Add(float64(faces))
	m.activeTracks.Set(float64(activeTracks))
	m.tracksCreatedTotal.Add(float64(created))
	m.tracksExpiredTotal.Add(float64(expired))
}

// ObserveScore records best match score of a face
func (m *Metrics) ObserveScore(score float64) {
	m.matchScore.Observe(score)
}

// RecordConfirmation counts confirmed identity
func (m *Metrics) RecordConfirmation() {
	m.confirmationsTotal.Inc()
}

// RecordAlert counts alert decision
func (m *Metrics) RecordAlert(raised bool) {
	status := "suppressed"
	if raised {
		status = "raised"
	}
	m.alertsTotal.WithLabelValues(status).Inc()
}

// RecordFeedback counts feedback by result
func (m *Metrics) RecordFeedback(result string) {
	m.feedbackTotal.WithLabelValues(result).Inc()
}

// RecordNotifyFailure counts failed notification of given kind
func (m *Metrics) RecordNotifyFailure(kind string) {
	m.notifyFailuresTotal.WithLabelValues(kind).Inc()
}

// SetThresholds publishes current threshold state
func (m *Metrics) SetThresholds(global float64, overrides int) {
	m.globalThreshold.Set(global)
	m.personOverrides.Set(float64(overrides))
}
